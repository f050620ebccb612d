package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/amanidx/internal/diagnostic"
	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/telemetry"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// DefaultSampleSize is the number of paths String renders.
const DefaultSampleSize = 20

// ProjectPathMacro replaces the project base path in rendered paths.
const ProjectPathMacro = "%project_path%"

// Removal drops the index entries and stamps of removed paths.
type Removal interface {
	Remove(ctx context.Context, projectID string, paths []string) error
}

// JobDependencies are the collaborators a job runs with.
type JobDependencies struct {
	Runner *Runner
	Sink   diagnostic.Sink
	// Removal handles Job.Removed. Optional.
	Removal Removal
	// SampleSize bounds String. 0 means DefaultSampleSize.
	SampleSize int
	// Now is replaced in tests.
	Now func() time.Time
}

// Job re-indexes a snapshot of changed files of one project. It is
// immutable once built.
type Job struct {
	ID      string
	Project *project.Project
	Files   []vfs.File
	Removed []string
	Label   string

	deps JobDependencies

	stringOnce sync.Once
	rendered   string

	// history is set once Perform started; read after it returned.
	history *diagnostic.History
}

// NewJob builds a job over copies of files and removed.
func NewJob(p *project.Project, files []vfs.File, removed []string, label string, deps JobDependencies) *Job {
	if deps.SampleSize <= 0 {
		deps.SampleSize = DefaultSampleSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Job{
		ID:      uuid.NewString(),
		Project: p,
		Files:   append([]vfs.File(nil), files...),
		Removed: append([]string(nil), removed...),
		Label:   label,
		deps:    deps,
	}
}

// Key coalesces queued jobs of the same label and project.
func (j *Job) Key() string {
	return j.Project.ID + "/" + j.Label
}

// Perform runs the job. The history's end time is set exactly once and
// the history is handed to the sink exactly once, whatever the outcome.
// An interruption returns the original cancellation cause.
func (j *Job) Perform(ctx context.Context, ind *progress.Indicator) (err error) {
	ind.SetIndeterminate(false)
	ind.SetText("Updating indexes")

	h := diagnostic.NewHistory(j.Project.Name, j.Project.ID, j.ID, j.Label)
	h.Threads = j.deps.Runner.Threads()
	h.SetIndexingStart(j.deps.Now())
	j.history = h

	defer func() {
		h.SetIndexingEnd(j.deps.Now())
		j.finish(ctx, h, err)
	}()

	if len(j.Removed) > 0 && j.deps.Removal != nil {
		if rmErr := j.deps.Removal.Remove(context.WithoutCancel(ctx), j.Project.ID, j.Removed); rmErr != nil {
			slog.Warn("index_removal_failed",
				slog.String("project", j.Project.Name),
				slog.Int("paths", len(j.Removed)),
				slog.String("error", rmErr.Error()))
		} else {
			h.Removed = len(j.Removed)
		}
	}

	stats, runErr := j.deps.Runner.IndexFiles(ctx, j.Project, j.Label, j.Files, ind)

	var interrupted *InterruptedError
	var unrecoverable *UnrecoverableError
	switch {
	case runErr == nil:
		h.AddProviderStatistics(stats.Summary())
		return nil
	case errors.As(runErr, &interrupted):
		h.SetWasInterrupted(true)
		h.AddProviderStatistics(interrupted.Statistics.Summary())
		return interrupted.Cause
	case errors.As(runErr, &unrecoverable):
		h.AddProviderStatistics(unrecoverable.Statistics.Summary())
		h.Error = runErr.Error()
		return runErr
	default:
		if stats != nil {
			h.AddProviderStatistics(stats.Summary())
		}
		h.Error = runErr.Error()
		return runErr
	}
}

func (j *Job) finish(ctx context.Context, h *diagnostic.History, err error) {
	result := telemetry.ResultCompleted
	switch {
	case h.Times.WasInterrupted:
		result = telemetry.ResultInterrupted
	case err != nil:
		result = telemetry.ResultFailed
	}
	telemetry.ObserveJob(j.Label, result, h.Duration())

	if j.deps.Sink != nil {
		if dumpErr := j.deps.Sink.Dump(context.WithoutCancel(ctx), h.Finalized()); dumpErr != nil {
			slog.Warn("history_dump_failed",
				slog.String("project", j.Project.Name),
				slog.String("job_id", j.ID),
				slog.String("error", dumpErr.Error()))
		}
	}

	slog.Info("Reindexing refreshed files",
		slog.String("project", j.Project.Name),
		slog.String("label", j.Label),
		slog.Int("files", h.Files),
		slog.Int("skipped", h.Skipped),
		slog.Int("removed", h.Removed),
		slog.Bool("interrupted", h.Times.WasInterrupted),
		slog.Duration("duration", h.Duration()))
}

// History returns the job's history once Perform has returned, or nil.
func (j *Job) History() *diagnostic.History {
	return j.history
}

// String renders the label, the project and a sample of the job's paths.
func (j *Job) String() string {
	j.stringOnce.Do(func() {
		var b strings.Builder
		fmt.Fprintf(&b, "Job{%s} [%s", j.Label, j.Project.Name)
		n := 0
		for _, f := range j.Files {
			if n >= j.deps.SampleSize {
				break
			}
			b.WriteString(", ")
			b.WriteString(j.renderPath(f.Path()))
			n++
		}
		for _, path := range j.Removed {
			if n >= j.deps.SampleSize {
				break
			}
			b.WriteString(", ")
			b.WriteString(j.renderPath(path))
			n++
		}
		if total := len(j.Files) + len(j.Removed); total > n {
			fmt.Fprintf(&b, ", ... (%d more)", total-n)
		}
		b.WriteString("]")
		j.rendered = b.String()
	})
	return j.rendered
}

func (j *Job) renderPath(path string) string {
	if rel, ok := j.Project.Rel(path); ok {
		return ProjectPathMacro + "/" + rel
	}
	return path
}
