// Package version reports what amanidx binary is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Name identifies the program to MCP clients and in version output.
const Name = "amanidx"

// Set with -ldflags "-X github.com/Aman-CERP/amanidx/pkg/version.Version=...".
// Commit and Date fall back to the VCS stamp of `go build`.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is the JSON form of `amanidx version --json`.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	infoOnce sync.Once
	info     BuildInfo
)

// GetInfo merges linker-set values with the module's embedded build
// settings.
func GetInfo() BuildInfo {
	infoOnce.Do(func() {
		info = BuildInfo{
			Name:      Name,
			Version:   Version,
			Commit:    Commit,
			Date:      Date,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "unknown" {
					info.Commit = shortRevision(s.Value)
				}
			case "vcs.time":
				if info.Date == "unknown" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	})
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String is the one-line form of GetInfo.
func String() string {
	bi := GetInfo()
	commit := bi.Commit
	if bi.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s (commit: %s, built: %s, go: %s, %s/%s)",
		bi.Name, bi.Version, commit, bi.Date, bi.GoVersion, bi.OS, bi.Arch)
}

// Short returns the bare version.
func Short() string {
	return Version
}
