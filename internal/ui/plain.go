package ui

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// maxListedFailures bounds the failures printed in a summary.
const maxListedFailures = 10

// PlainRenderer outputs plain text progress (for CI/pipes). A line is
// printed only when the task, its text or its whole percent changes.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	noColor  bool
	lastLine string
	errors   []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := formatPlainLine(event)
	if line == "" || line == r.lastLine {
		return
	}
	r.lastLine = line
	_, _ = fmt.Fprintln(r.out, line)
}

// formatPlainLine renders "[TAG] 42% - text" or "[TAG] text" for
// indeterminate progress.
func formatPlainLine(event ProgressEvent) string {
	tag := "TASK"
	if event.Rebuilding {
		tag = "INDEX"
	}
	msg := event.Snapshot.Text
	if msg == "" {
		msg = event.Task
	}
	if event.Snapshot.Indeterminate {
		if msg == "" {
			return ""
		}
		return fmt.Sprintf("[%s] %s", tag, msg)
	}
	pct := int(math.Floor(event.Snapshot.ProgressPct))
	return fmt.Sprintf("[%s] %d%% - %s", tag, pct, msg)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verb := "Complete"
	if stats.Interrupted {
		verb = "Interrupted"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %d files indexed, %d removed in %s",
		verb, stats.Files, stats.Removed, stats.Duration.Round(100*time.Millisecond))

	if stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d skipped", stats.Skipped)
	}
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if len(stats.Providers) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Providers:")
		for _, p := range stats.Providers {
			d := time.Duration(p.DurationMs) * time.Millisecond
			_, _ = fmt.Fprintf(r.out, "  %-10s %d files, %d items in %s\n",
				p.Provider+":", p.Files, p.Items, d.Round(100*time.Millisecond))
		}
	}

	if len(stats.Failures) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Failures:")
		for i, f := range stats.Failures {
			if i == maxListedFailures {
				_, _ = fmt.Fprintf(r.out, "  ... and %d more\n", len(stats.Failures)-maxListedFailures)
				break
			}
			_, _ = fmt.Fprintf(r.out, "  %s (%s): %s\n", f.Path, f.Provider, f.Error)
		}
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
