// Package estimate decides whether a project's pending change set is large
// enough to justify a blocking index rebuild.
package estimate

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// ChangeSource is a cursor over the files changed since the last indexing
// pass. fn returns false to stop the scan. ProcessChangedFiles returns
// true iff every changed file was visited.
type ChangeSource interface {
	ProcessChangedFiles(projectID string, fn func(vfs.File) bool) bool
}

// Thresholds bound the scan. The first one reached ends it.
type Thresholds struct {
	MinFiles int
	MinBytes int64
	Budget   time.Duration
}

// DefaultThresholds are 20 files, 1 MiB, or 100ms of scanning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinFiles: 20,
		MinBytes: 1 << 20,
		Budget:   100 * time.Millisecond,
	}
}

// ThresholdsFromConfig reads the indexing section of cfg.
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		MinFiles: cfg.Indexing.MinFilesToStartRebuild,
		MinBytes: cfg.Indexing.MinSizeToStartRebuild,
		Budget:   cfg.EstimateBudgetDuration(),
	}
}

// Estimator answers "might this project have many changed files".
type Estimator struct {
	source     ChangeSource
	thresholds Thresholds

	// now is a monotonic clock. Replaced in tests.
	now func() time.Time
}

// New creates an Estimator over source.
func New(source ChangeSource, thresholds Thresholds) *Estimator {
	return &Estimator{
		source:     source,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Thresholds returns the configured limits.
func (e *Estimator) Thresholds() Thresholds {
	return e.thresholds
}

// MightHaveManyChangedFiles scans the change set until a threshold is
// reached or the cursor is exhausted. It returns false only when every
// changed file was seen and none of the limits was crossed. A cancelled
// ctx stops the scan and counts as "many".
func (e *Estimator) MightHaveManyChangedFiles(ctx context.Context, projectID string) bool {
	start := e.now()
	var files int
	var bytes int64

	exhausted := e.source.ProcessChangedFiles(projectID, func(f vfs.File) bool {
		files++
		if f.Valid() && !f.IsDir() {
			bytes += f.Length()
		}
		if ctx.Err() != nil {
			return false
		}
		return files < e.thresholds.MinFiles &&
			bytes < e.thresholds.MinBytes &&
			e.now().Sub(start) < e.thresholds.Budget
	})

	slog.Debug("change_set_estimated",
		slog.String("project", projectID),
		slog.Int("files_seen", files),
		slog.Int64("bytes_seen", bytes),
		slog.Bool("exhausted", exhausted),
		slog.Duration("elapsed", e.now().Sub(start)))

	return !exhausted
}
