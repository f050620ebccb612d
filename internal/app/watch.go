package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanidx/internal/changes"
	"github.com/Aman-CERP/amanidx/internal/vfs"
	"github.com/Aman-CERP/amanidx/internal/watcher"
)

// Schedule turns an applied watch batch into indexing work: batches that
// invalidate per-file tracking trigger a rescan, the others index the
// tracked change set.
func (a *App) Schedule(ctx context.Context, r watcher.BatchResult) {
	if r.Rescan {
		a.Handler.Reconcile()
		return
	}
	gating := a.Handler.IndexChangedFiles(ctx)
	slog.Debug("watch_changes_scheduled",
		slog.String("project", a.Project.Name),
		slog.Int("dirty", r.Dirty),
		slog.Int("removed", r.Removed),
		slog.Bool("gating", gating))
}

// Feed returns the feed applying watch batches to the project's tracker.
// A changed file is tracked only when it belongs to an indexable set and
// passes the same content checks as a scan, so the watcher never tracks
// a file the next scan would drop.
func (a *App) Feed() *watcher.Feed {
	p := a.Project
	policy := a.Handler.Policy()
	return &watcher.Feed{
		ProjectID: p.ID,
		Changes:   a.Tracker,
		Indexable: func(f vfs.File) bool {
			return a.Registry.IsIndexable(p.ID, f) && changes.IsIndexable(f.Path(), policy)
		},
		InvalidateRules: policy.Invalidate,
		Schedule:        a.Schedule,
	}
}

// Watch keeps the index up to date until ctx is done. It records this
// process in the watch PID file and refuses to run when another live
// process already watches the project.
func (a *App) Watch(ctx context.Context) error {
	if a.Handler == nil {
		return errors.New("project was opened read-only")
	}
	pf := NewPIDFile(a.Project.DataDir)
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pf.Release(); err != nil {
			slog.Warn("pid_file_release_failed", slog.String("error", err.Error()))
		}
	}()

	w, err := watcher.NewHybridWatcher(watcher.OptionsFromConfig(a.Config, a.Handler.Policy()))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	p := a.Project
	roots := make([]string, 0, len(p.ContentRoots)+len(p.LibraryRoots)+len(p.Additional))
	roots = append(roots, p.ContentRoots...)
	roots = append(roots, p.LibraryRoots...)
	roots = append(roots, p.Additional...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	startErr := make(chan error, 1)
	go func() {
		err := w.Start(ctx, roots...)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watcher_stopped", slog.String("error", err.Error()))
			startErr <- err
		}
		close(startErr)
	}()

	slog.Info("watch_started",
		slog.String("project", p.Name),
		slog.Int("roots", len(roots)),
		slog.String("type", w.WatcherType()))

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		a.Feed().Consume(ctx, w.Events(), w.Errors())
	}()

	select {
	case err, ok := <-startErr:
		cancel()
		<-consumed
		if ok && err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	case <-consumed:
		return nil
	}
}
