package dumb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// LockFileName is created in the project's data directory while a gating
// task runs.
const LockFileName = "rebuild.lock"

// RebuildLock is a cross-process lock held while a project's index is
// rebuilt, so that two amanidx processes never rebuild the same index.
type RebuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRebuildLock creates the lock for dataDir. Nothing is created on disk
// before Acquire.
func NewRebuildLock(dataDir string) *RebuildLock {
	path := filepath.Join(dataDir, LockFileName)
	return &RebuildLock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking. A lock held by
// another process returns ErrRebuildLocked.
func (l *RebuildLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return amanerrors.ErrRebuildLocked
	}
	l.locked = true
	return nil
}

// Acquire retries TryLock with backoff while the lock is busy.
func (l *RebuildLock) Acquire(ctx context.Context, cfg amanerrors.RetryConfig) error {
	return amanerrors.Retry(ctx, cfg, l.TryLock)
}

// Unlock releases the lock. Safe to call on an unlocked lock.
func (l *RebuildLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *RebuildLock) Path() string {
	return l.path
}
