package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/store"
)

// Status describes the project's index as seen by this process.
type Status struct {
	ProjectName string
	ProjectID   string
	BasePath    string
	State       string

	IndexedFiles   int
	Symbols        int
	PendingDirty   int
	PendingRemoved int
	QueuedTasks    int

	IndexCurrent bool
	Incomplete   bool
	LastIndexed  time.Time
	StoreSize    int64

	// Task and Progress describe the running task, if any.
	Task     string
	Progress *progress.Snapshot
}

// Status collects the project's index status.
func (h *Handler) Status(ctx context.Context) (Status, error) {
	return ReadStatus(ctx, h.project, h.deps)
}

// ReadStatus collects the status of p without a handler. Only Store,
// Tracker and Dumb of deps are used.
func ReadStatus(ctx context.Context, p *project.Project, deps Deps) (Status, error) {
	st := Status{
		ProjectName: p.Name,
		ProjectID:   p.ID,
		BasePath:    p.BasePath,
		State:       deps.Dumb.State(p).String(),
		QueuedTasks: deps.Dumb.Pending(p),
		Incomplete:  HasIncompleteMarker(p.DataDir),
	}
	st.PendingDirty, st.PendingRemoved = deps.Tracker.Pending(p.ID)

	var err error
	if st.IndexedFiles, err = deps.Store.StampCount(ctx, p.ID); err != nil {
		return Status{}, err
	}
	if st.Symbols, err = deps.Store.SymbolCount(ctx, p.ID); err != nil {
		return Status{}, err
	}
	if st.IndexCurrent, err = deps.Store.IsIndexCurrent(ctx, p.ID); err != nil {
		return Status{}, err
	}

	last, err := deps.Store.GetState(ctx, p.ID, store.StateKeyLastIndexed)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return Status{}, err
	default:
		if st.LastIndexed, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return Status{}, fmt.Errorf("invalid %s %q: %w", store.StateKeyLastIndexed, last, err)
		}
	}

	if info, err := os.Stat(deps.Store.Path()); err == nil {
		st.StoreSize = info.Size()
	}

	if snap, task, ok := deps.Dumb.Progress(p); ok {
		st.Task = task
		st.Progress = &snap
	}
	return st, nil
}
