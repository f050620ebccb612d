// Package telemetry exposes indexing metrics in Prometheus format. Metrics
// are always collected in-process; they are only served when a metrics
// address is configured.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amanidx"

var FilesIndexed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "indexing",
	Name:      "files_indexed_total",
	Help:      "Files handled by a provider.",
}, []string{"provider"})

var FileFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "indexing",
	Name:      "file_failures_total",
	Help:      "Per-file provider failures that did not stop the run.",
}, []string{"provider"})

var FilesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "indexing",
	Name:      "files_skipped_total",
	Help:      "Files that were gone or not regular files at pickup.",
})

var BytesIndexed = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "indexing",
	Name:      "bytes_indexed_total",
})

var JobResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "indexing",
	Name:      "job_results_total",
	Help:      "Indexing jobs by outcome.",
}, []string{"label", "result"})

var JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "indexing",
	Name:      "job_duration_seconds",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
}, []string{"label"})

var EstimatorVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "estimator",
	Name:      "verdicts_total",
	Help:      "Change-set estimates by verdict (many, few).",
}, []string{"verdict"})

var DumbMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "dumb_mode",
	Name:      "active",
	Help:      "1 while the project's index is being rebuilt.",
}, []string{"project"})

var QueuedTasks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "dumb_mode",
	Name:      "queued_tasks",
}, []string{"project"})

var TaskResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "dumb_mode",
	Name:      "task_results_total",
}, []string{"result"})

// Job results.
const (
	ResultCompleted   = "completed"
	ResultInterrupted = "interrupted"
	ResultFailed      = "failed"
	ResultCoalesced   = "coalesced"
	ResultLocked      = "locked"
)

// Collectors returns every metric of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		FilesIndexed, FileFailures, FilesSkipped, BytesIndexed,
		JobResults, JobDuration, EstimatorVerdicts,
		DumbMode, QueuedTasks, TaskResults,
	}
}

var registerOnce sync.Once

// Register adds the package metrics to the default registry once.
func Register() {
	registerOnce.Do(func() {
		for _, c := range Collectors() {
			_ = prometheus.Register(c)
		}
	})
}

// ObserveJob records the outcome and duration of an indexing job.
func ObserveJob(label, result string, d time.Duration) {
	JobResults.WithLabelValues(label, result).Inc()
	JobDuration.WithLabelValues(label).Observe(d.Seconds())
}

// ObserveVerdict records an estimator decision.
func ObserveVerdict(many bool) {
	if many {
		EstimatorVerdicts.WithLabelValues("many").Inc()
		return
	}
	EstimatorVerdicts.WithLabelValues("few").Inc()
}

// SetDumbMode flips the dumb-mode gauge of project.
func SetDumbMode(project string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	DumbMode.WithLabelValues(project).Set(v)
}
