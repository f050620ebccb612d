package indexing

import (
	"time"

	"github.com/Aman-CERP/amanidx/internal/diagnostic"
)

// providerStats accumulates the results of one provider.
type providerStats struct {
	files    int
	items    int
	failures int
	duration time.Duration
}

// Statistics is the outcome of one run. It is written by the runner's
// aggregator goroutine only and read after the run returned.
type Statistics struct {
	Files   int
	Skipped int
	Bytes   int64
	// WorkerFiles counts the files each worker picked up.
	WorkerFiles []int
	Failures    []diagnostic.FileFailure
	Duration    time.Duration

	order     []string
	providers map[string]*providerStats
}

func newStatistics(providers []string, workers int) *Statistics {
	s := &Statistics{
		WorkerFiles: make([]int, workers),
		order:       append([]string(nil), providers...),
		providers:   make(map[string]*providerStats, len(providers)),
	}
	for _, p := range providers {
		s.providers[p] = &providerStats{}
	}
	return s
}

// readFailureProvider is the provider name recorded for files whose
// content could not be read.
const readFailureProvider = "read"

// add folds one file result in.
func (s *Statistics) add(r fileResult) {
	if r.worker >= 0 && r.worker < len(s.WorkerFiles) {
		s.WorkerFiles[r.worker]++
	}
	if r.readErr != nil {
		s.Failures = append(s.Failures, diagnostic.FileFailure{
			Path:     r.path,
			Provider: readFailureProvider,
			Error:    r.readErr.Error(),
		})
	}
	if r.skipped {
		s.Skipped++
		return
	}
	s.Files++
	s.Bytes += r.bytes

	for _, o := range r.outcomes {
		ps, ok := s.providers[o.provider]
		if !ok {
			ps = &providerStats{}
			s.providers[o.provider] = ps
			s.order = append(s.order, o.provider)
		}
		ps.duration += o.duration
		if o.err != nil {
			ps.failures++
			s.Failures = append(s.Failures, diagnostic.FileFailure{
				Path:     r.path,
				Provider: o.provider,
				Error:    o.err.Error(),
			})
			continue
		}
		if o.applicable {
			ps.files++
			ps.items += o.items
		}
	}
}

// ProviderFiles returns the number of files provider handled.
func (s *Statistics) ProviderFiles(provider string) int {
	if ps, ok := s.providers[provider]; ok {
		return ps.files
	}
	return 0
}

// Summary converts the statistics for a history. Providers that touched
// no file are left out.
func (s *Statistics) Summary() diagnostic.Summary {
	sum := diagnostic.Summary{
		Files:       s.Files,
		Skipped:     s.Skipped,
		Bytes:       s.Bytes,
		Failures:    append([]diagnostic.FileFailure(nil), s.Failures...),
		WorkerFiles: append([]int(nil), s.WorkerFiles...),
	}
	for _, name := range s.order {
		ps := s.providers[name]
		if ps.files == 0 && ps.failures == 0 {
			continue
		}
		sum.Providers = append(sum.Providers, diagnostic.ProviderStatistics{
			Provider:   name,
			Files:      ps.files,
			Items:      ps.items,
			Failures:   ps.failures,
			DurationMs: ps.duration.Milliseconds(),
		})
	}
	return sum
}
