package preflight

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"

	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/ui"
)

// MinDiskSpaceBytes is the free space below which indexing is refused.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace compares the free space of root's file system with the
// size of its existing index. A full rebuild writes a second copy before
// the old one is dropped, so less than twice the index size only warns.
func (c *Checker) CheckDiskSpace(root string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	indexSize := dirSize(filepath.Join(root, project.DataDirName))

	result.Message = fmt.Sprintf("%s free, index uses %s", ui.FormatBytes(available), ui.FormatBytes(indexSize))
	switch {
	case available < MinDiskSpaceBytes:
		result.Status = StatusFail
		result.Details = fmt.Sprintf("at least %s must be free", ui.FormatBytes(MinDiskSpaceBytes))
	case available < 2*indexSize:
		result.Status = StatusWarn
		result.Details = "a full rebuild may run out of space"
	default:
		result.Status = StatusPass
	}
	return result
}

// dirSize sums regular file sizes under dir. A missing dir is empty.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
