package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/amanidx/internal/ignore"
	"github.com/Aman-CERP/amanidx/internal/project"
)

// HybridWatcher watches a set of roots with fsnotify, or by polling when
// fsnotify cannot be used. It emits debounced batches of absolute paths.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer
	filter      Filter
	errors      chan error
	stopCh      chan struct{}
	roots       []string
	opts        Options
	mu          sync.RWMutex
	stopped     bool
}

// NewHybridWatcher creates a watcher. fsnotify is tried first.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		filter:    opts.Filter,
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			h.fsWatcher = fsw
			h.useFsnotify = true
			return h, nil
		}
		slog.Warn("fsnotify_unavailable",
			slog.String("error", err.Error()),
			slog.Duration("poll_interval", opts.PollInterval))
	}
	h.pollWatcher = NewPollingWatcher(opts.PollInterval, h.shouldIgnore)
	return h, nil
}

// Start watches roots until ctx is cancelled or Stop is called. Roots
// that do not exist are skipped.
func (h *HybridWatcher) Start(ctx context.Context, roots ...string) error {
	abs := make([]string, 0, len(roots))
	for _, r := range roots {
		a, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		if _, err := os.Stat(a); err != nil {
			continue
		}
		abs = append(abs, a)
	}
	if len(abs) == 0 {
		return fmt.Errorf("no existing root to watch")
	}
	h.mu.Lock()
	h.roots = abs
	h.mu.Unlock()

	slog.Info("watcher_started",
		slog.String("type", h.WatcherType()),
		slog.Int("roots", len(abs)))

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	for _, root := range h.Roots() {
		if err := h.addRecursive(root); err != nil {
			return fmt.Errorf("add directories to watcher: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.add(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.Roots()...)
}

func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir && !h.shouldIgnore(event.Name, true) {
			if err := h.addRecursive(event.Name); err != nil {
				h.emitError(err)
			}
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod.
		return
	}

	h.add(FileEvent{Path: event.Name, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// add filters event, classifies rule and config files, and hands it to
// the debouncer.
func (h *HybridWatcher) add(event FileEvent) {
	switch {
	case ignore.IsGitignoreFile(event.Path):
		event.Operation = OpIgnoreRulesChange
	case isConfigFile(event.Path):
		event.Operation = OpConfigChange
	case h.shouldIgnore(event.Path, event.IsDir):
		return
	}
	h.debouncer.Add(event)
}

// addRecursive adds every directory under root that is not ignored.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && h.shouldIgnore(path, true) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

// shouldIgnore drops the data directory always and everything the
// filter excludes.
func (h *HybridWatcher) shouldIgnore(path string, isDir bool) bool {
	for dir := path; ; {
		if filepath.Base(dir) == project.DataDirName {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if h.filter == nil {
		return false
	}
	if isDir {
		return h.filter.IsDirIgnored(path)
	}
	return h.filter.IsFileIgnored(path)
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Stop stops the watcher and closes its channels. Safe to call multiple
// times.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.debouncer.Stop()

	if h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.errors)
	return nil
}

// Events delivers debounced batches. A slow consumer delays batches
// instead of losing them.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.debouncer.Output()
}

// Errors returns the channel of non-fatal watcher errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// WatcherType returns "fsnotify" or "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// Roots returns the watched roots.
func (h *HybridWatcher) Roots() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.roots...)
}
