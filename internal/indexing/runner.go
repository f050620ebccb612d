// Package indexing runs the providers over a set of changed files. Runner
// is the bounded worker pool; Job wraps one run with its history.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanidx/internal/config"
	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/provider"
	"github.com/Aman-CERP/amanidx/internal/telemetry"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// Committer records what became of a file: Commit once its content is
// indexed, Discard when it was skipped or could not be read.
type Committer interface {
	Commit(ctx context.Context, projectID string, file vfs.File, content []byte, readAt time.Time) error
	Discard(ctx context.Context, projectID string, file vfs.File, at time.Time) error
}

// NumberOfIndexingThreads is the worker count configured for indexing.
func NumberOfIndexingThreads(cfg *config.Config) int {
	return cfg.IndexingThreads()
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Providers run on every file, in order (required).
	Providers provider.Set

	// Threads is the worker count. 0 means config.MaxThreads capped
	// runtime.NumCPU().
	Threads int

	// Committer is called after every provider succeeded for a file, and
	// for every file skipped or not readable.
	Committer Committer

	// MaxFileSize skips larger files. 0 disables the limit.
	MaxFileSize int64
}

// Runner indexes files with a fixed pool of workers.
type Runner struct {
	providers   provider.Set
	threads     int
	committer   Committer
	maxFileSize int64
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if len(deps.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	threads := deps.Threads
	if threads <= 0 {
		threads = config.NewConfig().IndexingThreads()
	}
	return &Runner{
		providers:   deps.Providers,
		threads:     threads,
		committer:   deps.Committer,
		maxFileSize: deps.MaxFileSize,
	}, nil
}

// Threads returns the configured worker count.
func (r *Runner) Threads() int { return r.threads }

// Providers returns the providers run on every file.
func (r *Runner) Providers() provider.Set { return r.providers }

// providerOutcome is the result of one provider on one file.
type providerOutcome struct {
	provider   string
	items      int
	applicable bool
	duration   time.Duration
	err        error
}

// fileResult is what a worker reports to the aggregator.
type fileResult struct {
	worker  int
	path    string
	skipped bool
	// readErr is set when the content could not be read; the file counts
	// as skipped and failed.
	readErr  error
	bytes    int64
	outcomes []providerOutcome
}

// IndexFiles runs every provider over files and returns the statistics.
//
// Each file is handled by exactly one worker. Cancellation of ctx or ind
// is checked before a worker picks up a file; the run then returns an
// *InterruptedError with the statistics of the files completed so far. A
// fatal provider error stops the run with an *UnrecoverableError.
func (r *Runner) IndexFiles(ctx context.Context, p *project.Project, label string, files []vfs.File, ind *progress.Indicator) (*Statistics, error) {
	start := time.Now()
	threads := r.threads
	if threads > len(files) {
		threads = len(files)
	}
	if threads < 1 {
		threads = 1
	}
	stats := newStatistics(r.providers.Names(), threads)
	if len(files) == 0 {
		return stats, nil
	}

	slog.Info("indexing_run_started",
		slog.String("project", p.Name),
		slog.String("label", label),
		slog.Int("files", len(files)),
		slog.Int("threads", threads))

	ind.SetIndeterminate(false)

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan int)
	results := make(chan fileResult)
	aggDone := make(chan struct{})

	// Aggregator: the only writer of stats.
	go func() {
		defer close(aggDone)
		completed := 0
		for res := range results {
			stats.add(res)
			observeFile(res)
			completed++
			ind.SetFraction(float64(completed) / float64(len(files)))
		}
	}()

	g.Go(func() error {
		defer close(work)
		for i := range files {
			select {
			case work <- i:
			case <-gctx.Done():
				return nil
			case <-ind.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < threads; w++ {
		worker := w
		g.Go(func() error {
			for i := range work {
				if gctx.Err() != nil || ind.IsCanceled() {
					return nil
				}
				res, err := r.indexFile(gctx, p, worker, files[i], ind)
				if err != nil {
					return err
				}
				results <- res
			}
			return nil
		})
	}

	runErr := g.Wait()
	close(results)
	<-aggDone
	stats.Duration = time.Since(start)

	if runErr != nil {
		slog.Error("indexing_run_aborted",
			slog.String("project", p.Name),
			slog.String("label", label),
			slog.Int("completed", stats.Files+stats.Skipped),
			slog.String("error", runErr.Error()))
		return stats, &UnrecoverableError{Statistics: stats, Cause: runErr}
	}

	if done := stats.Files + stats.Skipped; done < len(files) {
		cause := ctx.Err()
		if cause == nil {
			cause = progress.ErrCanceled
		}
		slog.Info("indexing_run_interrupted",
			slog.String("project", p.Name),
			slog.String("label", label),
			slog.Int("completed", done),
			slog.Int("total", len(files)))
		return stats, &InterruptedError{Statistics: stats, Cause: cause}
	}

	slog.Info("indexing_run_completed",
		slog.String("project", p.Name),
		slog.String("label", label),
		slog.Int("files", stats.Files),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failures", len(stats.Failures)),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

func (r *Runner) indexFile(ctx context.Context, p *project.Project, worker int, file vfs.File, ind *progress.Indicator) (fileResult, error) {
	res := fileResult{worker: worker, path: file.Path()}

	if rel, ok := p.Rel(file.Path()); ok {
		ind.SetText2(rel)
	} else {
		ind.SetText2(file.Path())
	}

	checkedAt := time.Now()
	if !file.Valid() || file.IsDir() {
		return r.skip(ctx, p, file, res, checkedAt), nil
	}
	if r.maxFileSize > 0 && file.Length() > r.maxFileSize {
		return r.skip(ctx, p, file, res, checkedAt), nil
	}

	readAt := time.Now()
	content, err := vfs.ReadContent(file)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, vfs.ErrNotRegular):
		// Deleted or replaced between the validity check and the read.
		return r.skip(ctx, p, file, res, readAt), nil
	case isResourceExhausted(err):
		return res, amanerrors.UnrecoverableError(fmt.Sprintf("failed to read %s", file.Path()), err)
	default:
		res.readErr = amanerrors.New(amanerrors.ErrCodeFileInvalid,
			fmt.Sprintf("failed to read %s", file.Path()), err)
		slog.Warn("file_read_failed",
			slog.String("path", file.Path()),
			slog.String("error", err.Error()))
		return r.skip(ctx, p, file, res, readAt), nil
	}
	res.bytes = int64(len(content))

	// A file is indexed as a whole even when the run is cancelled meanwhile.
	fileCtx := context.WithoutCancel(ctx)
	in := provider.Input{ProjectID: p.ID, Path: file.Path(), Content: content}
	allOK := true
	for _, pr := range r.providers {
		t0 := time.Now()
		out, err := runProvider(fileCtx, pr, in)
		o := providerOutcome{
			provider:   pr.Name(),
			items:      out.Items,
			applicable: out.Applicable,
			duration:   time.Since(t0),
		}
		if err != nil {
			if isFatal(err) {
				return res, err
			}
			o.err = err
			allOK = false
			slog.Warn("provider_failed",
				slog.String("provider", pr.Name()),
				slog.String("path", file.Path()),
				slog.String("error", err.Error()))
		}
		res.outcomes = append(res.outcomes, o)
	}

	if allOK && r.committer != nil {
		if err := r.committer.Commit(fileCtx, p.ID, file, content, readAt); err != nil {
			slog.Warn("commit_failed",
				slog.String("path", file.Path()),
				slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// skip marks res skipped and drops file from the change set so it does
// not stay pending.
func (r *Runner) skip(ctx context.Context, p *project.Project, file vfs.File, res fileResult, at time.Time) fileResult {
	res.skipped = true
	if r.committer == nil {
		return res
	}
	if err := r.committer.Discard(context.WithoutCancel(ctx), p.ID, file, at); err != nil {
		slog.Warn("discard_failed",
			slog.String("path", file.Path()),
			slog.String("error", err.Error()))
	}
	return res
}

// isResourceExhausted reports read errors that will hit every other file
// too: the process or the system is out of descriptors, memory or space.
func isResourceExhausted(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ENOMEM, syscall.ENOSPC} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func runProvider(ctx context.Context, pr provider.Provider, in provider.Input) (out provider.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = amanerrors.UnrecoverableError(
				fmt.Sprintf("provider %s panicked on %s: %v", pr.Name(), in.Path, rec), nil)
		}
	}()
	return pr.Index(ctx, in)
}

func isFatal(err error) bool {
	return amanerrors.IsFatal(err) || errors.Is(err, ErrUnrecoverable)
}

func observeFile(res fileResult) {
	if res.readErr != nil {
		telemetry.FileFailures.WithLabelValues(readFailureProvider).Inc()
	}
	if res.skipped {
		telemetry.FilesSkipped.Inc()
		return
	}
	telemetry.BytesIndexed.Add(float64(res.bytes))
	for _, o := range res.outcomes {
		switch {
		case o.err != nil:
			telemetry.FileFailures.WithLabelValues(o.provider).Inc()
		case o.applicable:
			telemetry.FilesIndexed.WithLabelValues(o.provider).Inc()
		}
	}
}
