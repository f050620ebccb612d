package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// PollingWatcher detects changes by periodically walking its roots.
type PollingWatcher struct {
	interval  time.Duration
	skip      func(path string, isDir bool) bool
	fileState map[string]fileSnapshot
	events    chan FileEvent
	errors    chan error
	stopCh    chan struct{}
	mu        sync.Mutex
	stopped   bool
	roots     []string
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// NewPollingWatcher creates a polling watcher. skip, when set, excludes
// paths from the walk; a skipped directory is not descended into.
func NewPollingWatcher(interval time.Duration, skip func(path string, isDir bool) bool) *PollingWatcher {
	return &PollingWatcher{
		interval:  interval,
		skip:      skip,
		fileState: make(map[string]fileSnapshot),
		events:    make(chan FileEvent, 1000),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
}

// Start polls roots until ctx is cancelled or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context, roots ...string) error {
	p.mu.Lock()
	p.roots = roots
	state, err := p.walk()
	if err == nil {
		p.fileState = state
	}
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				select {
				case p.errors <- err:
				default:
				}
			}
		}
	}
}

// Stop stops the polling watcher.
func (p *PollingWatcher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	close(p.events)
	close(p.errors)
	return nil
}

// Events returns the channel of file events.
func (p *PollingWatcher) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingWatcher) Errors() <-chan error {
	return p.errors
}

// walk records the state of every path under the roots. Must be called
// with the lock held.
func (p *PollingWatcher) walk() (map[string]fileSnapshot, error) {
	state := make(map[string]fileSnapshot)
	for _, root := range p.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || path == root {
				return nil
			}
			if p.skip != nil && p.skip(path, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			state[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return state, nil
}

// detectChanges compares the current tree with the last walk and emits
// the differences.
func (p *PollingWatcher) detectChanges() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.walk()
	if err != nil {
		return err
	}

	now := time.Now()
	for path, snap := range current {
		prev, existed := p.fileState[path]
		switch {
		case !existed:
			p.emitEvent(FileEvent{Path: path, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !snap.isDir && (!prev.modTime.Equal(snap.modTime) || prev.size != snap.size):
			p.emitEvent(FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path, snap := range p.fileState {
		if _, ok := current[path]; !ok {
			p.emitEvent(FileEvent{Path: path, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}

	p.fileState = current
	return nil
}

// emitEvent must be called with the lock held.
func (p *PollingWatcher) emitEvent(event FileEvent) {
	if p.stopped {
		return
	}
	select {
	case p.events <- event:
	default:
		slog.Warn("polling watcher buffer full, dropping event",
			slog.String("path", event.Path),
			slog.String("op", event.Operation.String()))
	}
}
