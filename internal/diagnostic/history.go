// Package diagnostic records what each indexing job did and hands the
// finished record to one or more sinks: JSON files next to the index, the
// store, the log.
package diagnostic

import (
	"sync"
	"time"
)

// Times holds the wall-clock bounds of a job.
type Times struct {
	IndexingStart  time.Time `json:"indexing_start"`
	IndexingEnd    time.Time `json:"indexing_end"`
	WasInterrupted bool      `json:"was_interrupted"`
}

// ProviderStatistics is the per-provider part of a job's statistics.
type ProviderStatistics struct {
	Provider string `json:"provider"`
	// Files counts files the provider handled, Items the index entries it
	// wrote.
	Files      int   `json:"files"`
	Items      int   `json:"items"`
	Failures   int   `json:"failures"`
	DurationMs int64 `json:"duration_ms"`
}

// FileFailure is a per-file provider error that did not stop the job.
type FileFailure struct {
	Path     string `json:"path"`
	Provider string `json:"provider"`
	Error    string `json:"error"`
}

// Summary is the statistics of one run as handed to a history.
type Summary struct {
	Files       int                  `json:"files"`
	Skipped     int                  `json:"skipped"`
	Bytes       int64                `json:"bytes"`
	Providers   []ProviderStatistics `json:"providers"`
	Failures    []FileFailure        `json:"failures,omitempty"`
	WorkerFiles []int                `json:"worker_files,omitempty"`
}

// History is the record of one indexing job. It is filled by the goroutine
// running the job and handed to a Sink by value once finished.
type History struct {
	ProjectName string `json:"project_name"`
	ProjectID   string `json:"project_id"`
	JobID       string `json:"job_id"`
	Label       string `json:"label"`
	Threads     int    `json:"threads"`

	Times Times `json:"times"`

	Files     int                  `json:"files"`
	Skipped   int                  `json:"skipped"`
	Bytes     int64                `json:"bytes"`
	Removed   int                  `json:"removed"`
	Providers []ProviderStatistics `json:"providers"`
	Failures  []FileFailure        `json:"failures,omitempty"`
	Error     string               `json:"error,omitempty"`

	endOnce *sync.Once
}

// NewHistory starts the record of a job.
func NewHistory(projectName, projectID, jobID, label string) *History {
	return &History{
		ProjectName: projectName,
		ProjectID:   projectID,
		JobID:       jobID,
		Label:       label,
		endOnce:     &sync.Once{},
	}
}

func (h *History) SetIndexingStart(t time.Time) {
	h.Times.IndexingStart = t
}

// SetIndexingEnd records the end time. Only the first call has an effect;
// it returns false for every later call.
func (h *History) SetIndexingEnd(t time.Time) bool {
	if h.endOnce == nil {
		h.endOnce = &sync.Once{}
	}
	set := false
	h.endOnce.Do(func() {
		h.Times.IndexingEnd = t
		set = true
	})
	return set
}

func (h *History) SetWasInterrupted(interrupted bool) {
	h.Times.WasInterrupted = interrupted
}

// AddProviderStatistics folds the statistics of a run into the history.
// Provider entries with the same name are merged.
func (h *History) AddProviderStatistics(s Summary) {
	h.Files += s.Files
	h.Skipped += s.Skipped
	h.Bytes += s.Bytes
	h.Failures = append(h.Failures, s.Failures...)

	for _, ps := range s.Providers {
		merged := false
		for i := range h.Providers {
			if h.Providers[i].Provider == ps.Provider {
				h.Providers[i].Files += ps.Files
				h.Providers[i].Items += ps.Items
				h.Providers[i].Failures += ps.Failures
				h.Providers[i].DurationMs += ps.DurationMs
				merged = true
				break
			}
		}
		if !merged {
			h.Providers = append(h.Providers, ps)
		}
	}
}

// Duration is the time between start and end, zero while running.
func (h *History) Duration() time.Duration {
	if h.Times.IndexingEnd.IsZero() {
		return 0
	}
	return h.Times.IndexingEnd.Sub(h.Times.IndexingStart)
}

// Finalized returns a copy detached from the history's mutation state.
func (h *History) Finalized() History {
	out := *h
	out.endOnce = nil
	out.Providers = append([]ProviderStatistics(nil), h.Providers...)
	out.Failures = append([]FileFailure(nil), h.Failures...)
	return out
}
