package preflight

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
)

// MinFileDescriptors is the minimum open-file limit.
const MinFileDescriptors = 1024

// MinInotifyWatches is the watch limit below which large trees fall back
// to polling.
const MinInotifyWatches = 8192

// inotifyWatchesPath is replaced in tests.
var inotifyWatchesPath = "/proc/sys/fs/inotify/max_user_watches"

// CheckFileDescriptors checks the open-file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", rLimit.Cur, MinFileDescriptors)
	if rLimit.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckWatchLimit checks the inotify watch limit on Linux. The watcher
// falls back to polling when it runs out of watches, so a low limit is a
// warning.
func (c *Checker) CheckWatchLimit() CheckResult {
	result := CheckResult{Name: "watch_limit", Status: StatusPass}
	if runtime.GOOS != "linux" {
		result.Message = "not applicable on " + runtime.GOOS
		return result
	}

	data, err := os.ReadFile(inotifyWatchesPath)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to read inotify limit: %v", err)
		return result
	}
	limit, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid inotify limit %q", strings.TrimSpace(string(data)))
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", limit, MinInotifyWatches)
	if limit < MinInotifyWatches {
		result.Status = StatusWarn
		result.Details = "Run 'sysctl fs.inotify.max_user_watches=524288' or the watcher will poll"
	}
	return result
}
