package changes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// Filter decides which paths of the tree are indexable.
type Filter interface {
	IsDirIgnored(path string) bool
	IsFileIgnored(path string) bool
	IsTooLarge(size int64) bool
}

// ScanResult summarizes one reconciliation.
type ScanResult struct {
	Seen      int
	Dirty     int
	Removed   int
	Refreshed int
	Duration  time.Duration
}

// Scan walks roots and reconciles what it finds with the stored stamps of
// projectID. New and modified files are marked dirty, stamped files that
// are gone or no longer indexable are marked removed. A file whose mtime
// changed but whose content hash did not only gets its stamp refreshed.
func (t *Tracker) Scan(ctx context.Context, projectID string, roots []string, filter Filter) (ScanResult, error) {
	start := time.Now()
	var res ScanResult

	stamps, err := t.store.AllStamps(ctx, projectID)
	if err != nil {
		return res, fmt.Errorf("failed to load stamps: %w", err)
	}

	seen := make(map[string]struct{}, len(stamps))
	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err != nil {
				return nil // Skip entries we can't access
			}

			if d.IsDir() {
				if path != root && filter.IsDirIgnored(path) {
					return filepath.SkipDir
				}
				return nil
			}

			if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
				return nil
			}
			if _, dup := seen[path]; dup {
				return nil
			}
			if filter.IsFileIgnored(path) {
				return nil
			}

			info, err := d.Info()
			if err != nil || !hasIndexableContent(path, info, filter) {
				return nil
			}

			seen[path] = struct{}{}
			res.Seen++

			switch t.reconcile(ctx, projectID, path, info, stamps) {
			case outcomeDirty:
				res.Dirty++
			case outcomeRefreshed:
				res.Refreshed++
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("scan interrupted in %s: %w", root, err)
		}
	}

	for path := range stamps {
		if _, ok := seen[path]; ok {
			continue
		}
		t.MarkRemoved(projectID, path)
		res.Removed++
	}

	res.Duration = time.Since(start)
	slog.Info("change_scan_completed",
		slog.String("project_id", projectID),
		slog.Int("seen", res.Seen),
		slog.Int("dirty", res.Dirty),
		slog.Int("removed", res.Removed),
		slog.Int("refreshed", res.Refreshed),
		slog.Duration("duration", res.Duration))
	return res, nil
}

type outcome int

const (
	outcomeClean outcome = iota
	outcomeDirty
	outcomeRefreshed
)

func (t *Tracker) reconcile(ctx context.Context, projectID, path string, info fs.FileInfo, stamps map[string]store.Stamp) outcome {
	st, ok := stamps[path]
	if !ok || st.Size != info.Size() {
		t.MarkDirty(projectID, path)
		return outcomeDirty
	}
	if st.ModTime.Equal(info.ModTime()) {
		return outcomeClean
	}

	// Touched but maybe unchanged.
	content, err := os.ReadFile(path)
	if err != nil || xxhash.Sum64(content) != st.Hash {
		t.MarkDirty(projectID, path)
		return outcomeDirty
	}
	st.ModTime = info.ModTime()
	if err := t.store.PutStamp(ctx, projectID, st); err != nil {
		slog.Warn("stamp_refresh_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		t.MarkDirty(projectID, path)
		return outcomeDirty
	}
	return outcomeRefreshed
}

// IsIndexable reports whether the file at path passes the checks Scan
// applies to the files it walks: a regular file that is not ignored, not
// too large, readable and not binary. Symlinks are not followed.
func IsIndexable(path string, filter Filter) bool {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if filter.IsFileIgnored(path) {
		return false
	}
	return hasIndexableContent(path, info, filter)
}

func hasIndexableContent(path string, info fs.FileInfo, filter Filter) bool {
	if filter.IsTooLarge(info.Size()) {
		return false
	}
	binary, err := isBinaryFile(path)
	return err == nil && !binary
}

// isBinaryFile checks if a file is binary by looking for null bytes in its
// first 512 bytes. Files that cannot be opened or read return the error.
func isBinaryFile(path string) (bool, error) {
	f, err := vfs.OpenRegular(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Contains(buf[:n], []byte{0}), nil
}
