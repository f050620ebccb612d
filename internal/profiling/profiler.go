// Package profiling writes CPU, heap, goroutine and trace profiles of an
// indexing run.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Paths names the profile files to write. Empty paths are skipped.
type Paths struct {
	CPU       string
	Heap      string
	Goroutine string
	Trace     string
}

// Enabled reports whether any profile is requested.
func (p Paths) Enabled() bool {
	return p.CPU != "" || p.Heap != "" || p.Goroutine != "" || p.Trace != ""
}

// Session is a running set of profiles. CPU and trace profiles cover the
// whole session; heap and goroutine profiles are snapshots taken by Stop.
type Session struct {
	paths     Paths
	cpuFile   *os.File
	traceFile *os.File
	stopped   bool
}

// Start begins the CPU profile and trace named in paths.
func Start(paths Paths) (*Session, error) {
	s := &Session{paths: paths}

	if paths.CPU != "" {
		f, err := os.Create(paths.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if paths.Trace != "" {
		f, err := os.Create(paths.Trace)
		if err != nil {
			s.stopCPU()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}
	return s, nil
}

// Stop ends the CPU profile and trace and writes the snapshot profiles.
// Calling Stop twice is a no-op.
func (s *Session) Stop() error {
	if s == nil || s.stopped {
		return nil
	}
	s.stopped = true

	s.stopCPU()
	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.traceFile = nil
	}

	var errs []error
	if s.paths.Heap != "" {
		// Collect first so the profile reflects live objects only.
		runtime.GC()
		errs = append(errs, writeLookup("heap", s.paths.Heap, 0))
	}
	if s.paths.Goroutine != "" {
		errs = append(errs, writeLookup("goroutine", s.paths.Goroutine, 1))
	}
	return errors.Join(errs...)
}

func (s *Session) stopCPU() {
	if s.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = s.cpuFile.Close()
	s.cpuFile = nil
}

func writeLookup(name, path string, debug int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup(name).WriteTo(f, debug); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
