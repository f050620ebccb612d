package watcher

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// ChangeRecorder receives per-file changes.
type ChangeRecorder interface {
	MarkDirty(projectID, path string)
	MarkRemoved(projectID, path string)
}

// BatchResult is what one applied batch changed.
type BatchResult struct {
	Dirty   int
	Removed int
	// Rescan is set when the batch cannot be applied file by file:
	// ignore rules or config changed, or a directory appeared or went away.
	Rescan bool
}

// Changed reports whether the batch requires any indexing.
func (r BatchResult) Changed() bool {
	return r.Dirty > 0 || r.Removed > 0 || r.Rescan
}

// Feed applies debounced batches of one project to its change tracker.
type Feed struct {
	ProjectID string
	Changes   ChangeRecorder

	// Indexable decides whether a created or modified file is tracked.
	// Nil tracks every regular file.
	Indexable func(vfs.File) bool

	// InvalidateRules is called when a .gitignore changed. Optional.
	InvalidateRules func()

	// Schedule is called after every batch that changed something.
	Schedule func(ctx context.Context, r BatchResult)
}

// Apply records batch in the tracker.
func (f *Feed) Apply(batch []FileEvent) BatchResult {
	var r BatchResult
	rulesChanged := false

	for _, ev := range batch {
		switch ev.Operation {
		case OpIgnoreRulesChange:
			rulesChanged = true
			r.Rescan = true
		case OpConfigChange:
			r.Rescan = true
		case OpCreate, OpModify:
			if ev.IsDir {
				r.Rescan = r.Rescan || ev.Operation == OpCreate
				continue
			}
			// Pipes, sockets and devices are never read.
			file := vfs.NewLocalFile(ev.Path)
			if !file.Valid() || file.IsDir() {
				continue
			}
			if f.Indexable != nil && !f.Indexable(file) {
				continue
			}
			f.Changes.MarkDirty(f.ProjectID, ev.Path)
			r.Dirty++
		case OpDelete, OpRename:
			// The path may have been a directory; a rescan drops whatever
			// was indexed below it.
			f.Changes.MarkRemoved(f.ProjectID, ev.Path)
			r.Removed++
			r.Rescan = true
		}
	}

	if rulesChanged && f.InvalidateRules != nil {
		f.InvalidateRules()
	}
	return r
}

// Consume applies batches until events is closed or ctx is done. Watcher
// errors are logged.
func (f *Feed) Consume(ctx context.Context, events <-chan []FileEvent, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			r := f.Apply(batch)
			slog.Debug("watch_batch_applied",
				slog.String("project_id", f.ProjectID),
				slog.Int("events", len(batch)),
				slog.Int("dirty", r.Dirty),
				slog.Int("removed", r.Removed),
				slog.Bool("rescan", r.Rescan))
			if r.Changed() && f.Schedule != nil {
				f.Schedule(ctx, r)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}
