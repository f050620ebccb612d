package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WatchPIDFileName is the file under the data directory naming the
// process that keeps the project's index up to date.
const WatchPIDFileName = "watch.pid"

// ErrAlreadyWatched is returned by Acquire when a live process owns the
// project.
var ErrAlreadyWatched = errors.New("project is already watched by another process")

// PIDFile records the process watching a project.
type PIDFile struct {
	path string
}

// NewPIDFile returns the watch PID file of a project data directory.
func NewPIDFile(dataDir string) *PIDFile {
	return &PIDFile{path: filepath.Join(dataDir, WatchPIDFileName)}
}

func (p *PIDFile) Path() string { return p.path }

// Acquire writes the current PID. A stale file left by a dead process is
// replaced.
func (p *PIDFile) Acquire() error {
	if pid, err := p.Read(); err == nil && pid != os.Getpid() && processExists(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyWatched, pid)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Release removes the file if it still names this process.
func (p *PIDFile) Release() error {
	if pid, err := p.Read(); err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID. A missing file yields os.ErrNotExist.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", p.path, err)
	}
	return pid, nil
}

// Owner returns the PID of the live watching process, or 0.
func (p *PIDFile) Owner() int {
	pid, err := p.Read()
	if err != nil || !processExists(pid) {
		return 0
	}
	return pid
}

// WatcherStatus describes the watching process for status output.
func (p *PIDFile) WatcherStatus() string {
	if pid := p.Owner(); pid != 0 {
		return fmt.Sprintf("running (pid %d)", pid)
	}
	return "not running"
}

func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 checks liveness.
	return process.Signal(syscall.Signal(0)) == nil
}
