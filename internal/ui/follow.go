package ui

import (
	"context"
	"time"

	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
)

// DefaultFollowInterval is how often Follow samples the running task.
const DefaultFollowInterval = 200 * time.Millisecond

// Source exposes the task state of a project. dumb.Service implements it.
type Source interface {
	IsDumb(p *project.Project) bool
	Pending(p *project.Project) int
	Progress(p *project.Project) (progress.Snapshot, string, bool)
}

// Follow samples src every interval and feeds r until ctx is done.
// Samples taken while no task runs are skipped.
func Follow(ctx context.Context, r Renderer, src Source, p *project.Project, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFollowInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ev, ok := Sample(src, p); ok {
			r.UpdateProgress(ev)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample reads one ProgressEvent from src. ok is false when nothing runs.
func Sample(src Source, p *project.Project) (ProgressEvent, bool) {
	snap, task, ok := src.Progress(p)
	if !ok {
		return ProgressEvent{}, false
	}
	return ProgressEvent{
		Task:       task,
		Snapshot:   snap,
		Pending:    src.Pending(p),
		Rebuilding: src.IsDumb(p),
	}, true
}
