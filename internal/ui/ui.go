// Package ui provides terminal UI components for indexing progress and
// index status display.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/amanidx/internal/diagnostic"
	"github.com/Aman-CERP/amanidx/internal/progress"
)

// ProgressEvent is one observation of a project's running task.
type ProgressEvent struct {
	Task       string
	Snapshot   progress.Snapshot
	Pending    int
	Rebuilding bool
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats sums up the jobs a command ran.
type CompletionStats struct {
	Jobs        int
	Files       int
	Skipped     int
	Removed     int
	Bytes       int64
	Duration    time.Duration
	Errors      int
	Warnings    int
	Interrupted bool
	Providers   []diagnostic.ProviderStatistics
	Failures    []diagnostic.FileFailure
}

// Add folds the history of one finished job into the stats.
func (s *CompletionStats) Add(h diagnostic.History) {
	s.Jobs++
	s.Files += h.Files
	s.Skipped += h.Skipped
	s.Removed += h.Removed
	s.Bytes += h.Bytes
	s.Duration += h.Duration()
	s.Errors += len(h.Failures)
	if h.Error != "" {
		s.Errors++
	}
	s.Interrupted = s.Interrupted || h.Times.WasInterrupted
	s.Failures = append(s.Failures, h.Failures...)

	for _, ps := range h.Providers {
		merged := false
		for i := range s.Providers {
			if s.Providers[i].Provider == ps.Provider {
				s.Providers[i].Files += ps.Files
				s.Providers[i].Items += ps.Items
				s.Providers[i].Failures += ps.Failures
				s.Providers[i].DurationMs += ps.DurationMs
				merged = true
				break
			}
		}
		if !merged {
			s.Providers = append(s.Providers, ps)
		}
	}
}

// Renderer defines the interface for progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	ProjectDir string // Project directory path to display in header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithProjectDir sets the project directory path to display in header.
func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) {
		c.ProjectDir = dir
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates an appropriate renderer based on config and environment.
// It returns a TUI renderer for interactive terminals, and a plain text
// renderer for CI environments, pipes, or when --no-tui is specified.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
