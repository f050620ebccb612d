package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogDirEnv overrides the log directory.
const LogDirEnv = "AMANIDX_LOG_DIR"

const logFileName = "amanidx.log"

// LogDir is where every amanidx process appends its log: $AMANIDX_LOG_DIR,
// else ~/.amanidx/logs, else a directory under the temp dir.
func LogDir() string {
	if dir := os.Getenv(LogDirEnv); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".amanidx", "logs")
	}
	return filepath.Join(os.TempDir(), "amanidx-logs")
}

// LogPath is the active log file in LogDir.
func LogPath() string {
	return filepath.Join(LogDir(), logFileName)
}

// FindLogFile resolves the file the log viewer reads. An explicit path must
// exist. Otherwise the active log is used, falling back to the newest
// rotated file when rotation just moved it away.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	active := LogPath()
	for _, candidate := range []string{active, active + ".1"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no log file found at %s\nRun any amanidx command first, or pass --file", active)
}
