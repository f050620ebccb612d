// Package handler wires one project into the indexing pipeline: it decides
// at startup between a full build and a reconciliation scan, answers
// whether a file belongs to the project's index, and turns the tracked
// change set into indexing jobs.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amanidx/internal/changes"
	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/diagnostic"
	"github.com/Aman-CERP/amanidx/internal/dumb"
	"github.com/Aman-CERP/amanidx/internal/estimate"
	"github.com/Aman-CERP/amanidx/internal/fileset"
	"github.com/Aman-CERP/amanidx/internal/ignore"
	"github.com/Aman-CERP/amanidx/internal/indexing"
	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/provider"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/telemetry"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// ChangedFilesLabel labels jobs built from the tracked change set.
const ChangedFilesLabel = "Refreshed files"

// Deps contains the collaborators of a Handler.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Tracker   *changes.Tracker
	Providers provider.Set
	Dumb      *dumb.Service
	Registry  *fileset.Registry

	// Manager publishes the project's closing event. Optional.
	Manager *project.Manager
	// Sink receives every job's history. Optional.
	Sink diagnostic.Sink
	// Policy and Estimator are built from Config when nil.
	Policy    *ignore.Policy
	Estimator *estimate.Estimator
	// Debug logs whether changes remain each time dumb mode ends.
	Debug bool
	// Now is replaced in tests.
	Now func() time.Time
}

// Handler is the per-project entry point of the indexer.
type Handler struct {
	project    *project.Project
	deps       Deps
	policy     *ignore.Policy
	estimator  *estimate.Estimator
	runner     *indexing.Runner
	removal    indexing.Removal
	additional *fileset.AdditionalSet

	mu   sync.Mutex
	subs []project.Subscription

	removeOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

// New creates the handler of p. Nothing is queued before Startup.
func New(p *project.Project, deps Deps) (*Handler, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("config is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Tracker == nil:
		return nil, errors.New("change tracker is required")
	case deps.Dumb == nil:
		return nil, errors.New("dumb mode service is required")
	case deps.Registry == nil:
		return nil, errors.New("file set registry is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	policy := deps.Policy
	if policy == nil {
		var err error
		if policy, err = ignore.NewPolicy(p.BasePath, deps.Config); err != nil {
			return nil, fmt.Errorf("failed to build ignore policy: %w", err)
		}
	}
	estimator := deps.Estimator
	if estimator == nil {
		estimator = estimate.New(deps.Tracker, estimate.ThresholdsFromConfig(deps.Config))
	}
	runner, err := indexing.NewRunner(indexing.RunnerDependencies{
		Providers:   deps.Providers,
		Threads:     indexing.NumberOfIndexingThreads(deps.Config),
		Committer:   deps.Tracker,
		MaxFileSize: deps.Config.FileTypes.MaxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	return &Handler{
		project:    p,
		deps:       deps,
		policy:     policy,
		estimator:  estimator,
		runner:     runner,
		removal:    &removal{providers: deps.Providers, tracker: deps.Tracker},
		additional: &fileset.AdditionalSet{Project: p},
	}, nil
}

// Project returns the handled project.
func (h *Handler) Project() *project.Project { return h.project }

// Policy returns the project's ignore policy.
func (h *Handler) Policy() *ignore.Policy { return h.policy }

// Startup queues the project's first task and registers its file sets.
// A full build runs when the project has never been indexed, was indexed
// by an incompatible version, or a previous build did not finish;
// otherwise a reconciliation scan picks up what changed while no process
// was watching.
func (h *Handler) Startup(ctx context.Context) error {
	return h.startup(ctx, false)
}

// StartupRebuild is Startup with the first task replaced by a full build
// that drops the existing index.
func (h *Handler) StartupRebuild(ctx context.Context) error {
	return h.startup(ctx, true)
}

func (h *Handler) startup(ctx context.Context, rebuild bool) error {
	if h.deps.Debug {
		h.track(h.deps.Dumb.Subscribe(h.project, dumb.Listener{
			ExitDumbMode: func() {
				slog.Info("Has changed files",
					slog.String("project", h.project.Name),
					slog.Bool("has_changed", h.deps.Tracker.HasChanges(h.project.ID)))
			},
		}))
	}

	full, reason, err := h.needsFullBuild(ctx)
	if err != nil {
		return err
	}
	switch {
	case rebuild:
		slog.Info("full_build_required",
			slog.String("project", h.project.Name),
			slog.String("reason", "rebuild requested"))
		h.Rebuild()
	case full:
		slog.Info("full_build_required",
			slog.String("project", h.project.Name),
			slog.String("reason", reason))
		h.deps.Dumb.QueueTask(h.project, NewUnindexedFilesUpdater(h, false))
	default:
		h.Reconcile()
	}

	h.deps.Registry.Register(h.project.ID, h)
	h.deps.Registry.Register(h.project.ID, h.additional)

	if h.deps.Manager != nil {
		h.track(h.deps.Manager.SubscribeClosing(func(_ context.Context, closing *project.Project) {
			if closing.ID == h.project.ID {
				h.removeIndexableSets()
			}
		}))
	}
	h.project.RegisterDisposer(h.removeIndexableSets)
	return nil
}

// Reconcile queues a non-gating rescan of the project tree followed by
// IndexChangedFiles.
func (h *Handler) Reconcile() bool {
	return h.deps.Dumb.QueueTask(h.project, &reconcileTask{h: h})
}

// Rebuild queues a full build that first drops the project's index.
func (h *Handler) Rebuild() bool {
	return h.deps.Dumb.QueueTask(h.project, NewUnindexedFilesUpdater(h, true))
}

func (h *Handler) needsFullBuild(ctx context.Context) (bool, string, error) {
	initialized, err := h.deps.Tracker.IsInitialized(ctx, h.project.ID)
	if err != nil {
		return false, "", fmt.Errorf("failed to read stamps: %w", err)
	}
	if !initialized {
		return true, "no indexed files", nil
	}
	current, err := h.deps.Store.IsIndexCurrent(ctx, h.project.ID)
	if err != nil {
		return false, "", fmt.Errorf("failed to read index version: %w", err)
	}
	if !current {
		return true, "index version changed", nil
	}
	if HasIncompleteMarker(h.project.DataDir) {
		return true, "previous build did not finish", nil
	}
	return false, "", nil
}

func (h *Handler) track(sub project.Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, sub)
}

func (h *Handler) removeIndexableSets() {
	h.removeOnce.Do(func() {
		h.deps.Registry.Remove(h.project.ID, h)
		h.deps.Registry.Remove(h.project.ID, h.additional)
	})
}

// IsInSet reports whether file belongs to the project's index: it must
// be under a content or library root and not excluded. Nothing is in the
// set in light-edit mode.
func (h *Handler) IsInSet(file vfs.File) bool {
	if h.deps.Config.LightEdit {
		return false
	}
	path := file.Path()
	if !h.project.IsInContent(path) && !h.project.IsInLibrary(path) {
		return false
	}
	return !h.policy.IsFileIgnored(path)
}

// CreateChangedFilesIndexingTask returns a job over the whole change set
// when the estimator expects many changed files, or nil when the index
// was never built, the change set looks small, or it is empty.
func (h *Handler) CreateChangedFilesIndexingTask(ctx context.Context) *indexing.Job {
	initialized, err := h.deps.Tracker.IsInitialized(ctx, h.project.ID)
	if err != nil {
		slog.Warn("stamp_count_failed",
			slog.String("project", h.project.Name),
			slog.String("error", err.Error()))
		return nil
	}
	if !initialized {
		return nil
	}

	many := h.estimator.MightHaveManyChangedFiles(ctx, h.project.ID)
	telemetry.ObserveVerdict(many)
	if !many {
		return nil
	}
	return h.newChangedFilesJob()
}

// IndexChangedFiles queues a job for the tracked changes and reports
// whether it puts the project into dumb mode. Small change sets are
// indexed without gating readers.
func (h *Handler) IndexChangedFiles(ctx context.Context) bool {
	if job := h.CreateChangedFilesIndexingTask(ctx); job != nil {
		return h.deps.Dumb.QueueTask(h.project, job)
	}
	if !h.deps.Tracker.HasChanges(h.project.ID) {
		return false
	}
	if job := h.newChangedFilesJob(); job != nil {
		h.deps.Dumb.QueueTask(h.project, nonGating{job})
	}
	return false
}

func (h *Handler) newChangedFilesJob() *indexing.Job {
	files := h.deps.Tracker.FilesToUpdate(h.project.ID)
	removed := h.deps.Tracker.FilesToRemove(h.project.ID)
	if len(files) == 0 && len(removed) == 0 {
		return nil
	}
	return h.newJob(files, removed, ChangedFilesLabel)
}

func (h *Handler) newJob(files []vfs.File, removed []string, label string) *indexing.Job {
	return indexing.NewJob(h.project, files, removed, label, indexing.JobDependencies{
		Runner:     h.runner,
		Sink:       h.deps.Sink,
		Removal:    h.removal,
		SampleSize: h.estimator.Thresholds().MinFiles,
		Now:        h.deps.Now,
	})
}

// Close removes the project's file sets, drops subscriptions and stops
// the project's tasks. Only the first call has an effect.
func (h *Handler) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			h.removeIndexableSets()
		}()
		select {
		case <-done:
		case <-ctx.Done():
			h.closeErr = fmt.Errorf("removing file sets of %s: %w", h.project.Name, ctx.Err())
		}

		h.mu.Lock()
		subs := h.subs
		h.subs = nil
		h.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}

		if err := h.deps.Dumb.Close(ctx, h.project); err != nil {
			h.closeErr = errors.Join(h.closeErr, err)
		}
	})
	return h.closeErr
}

// nonGating runs a job without putting the project into dumb mode.
type nonGating struct {
	*indexing.Job
}

func (nonGating) Gating() bool { return false }

// reconcileTask rescans the tree and hands what changed to
// IndexChangedFiles.
type reconcileTask struct {
	h *Handler
}

func (t *reconcileTask) Perform(ctx context.Context, ind *progress.Indicator) error {
	ind.SetIndeterminate(true)
	ind.SetText("Scanning for changes")
	if _, err := t.h.scan(ctx); err != nil {
		return err
	}
	t.h.IndexChangedFiles(ctx)
	return nil
}

func (t *reconcileTask) String() string { return "Reconcile{" + t.h.project.Name + "}" }

func (t *reconcileTask) Key() string { return t.h.project.ID + "/reconcile" }

func (t *reconcileTask) Gating() bool { return false }

func (h *Handler) scan(ctx context.Context) (changes.ScanResult, error) {
	roots := make([]string, 0, len(h.project.ContentRoots)+len(h.project.LibraryRoots)+len(h.project.Additional))
	roots = append(roots, h.project.ContentRoots...)
	roots = append(roots, h.project.LibraryRoots...)
	roots = append(roots, h.project.Additional...)
	return h.deps.Tracker.Scan(ctx, h.project.ID, roots, h.policy)
}

// removal drops removed paths from every provider and then their stamps.
type removal struct {
	providers provider.Set
	tracker   *changes.Tracker
}

func (r *removal) Remove(ctx context.Context, projectID string, paths []string) error {
	if err := r.providers.Remove(ctx, projectID, paths); err != nil {
		return err
	}
	return r.tracker.CommitRemoved(ctx, projectID, paths)
}
