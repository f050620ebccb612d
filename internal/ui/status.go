package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Aman-CERP/amanidx/internal/diagnostic"
)

// JobInfo is the status view of one finished indexing job.
type JobInfo struct {
	Label       string        `json:"label"`
	Files       int           `json:"files"`
	Removed     int           `json:"removed"`
	Failures    int           `json:"failures"`
	Duration    time.Duration `json:"duration_ns"`
	FinishedAt  time.Time     `json:"finished_at"`
	Interrupted bool          `json:"interrupted"`
	Error       string        `json:"error,omitempty"`
}

// StatusInfo contains index health information.
type StatusInfo struct {
	ProjectName string    `json:"project_name"`
	ProjectID   string    `json:"project_id"`
	BasePath    string    `json:"base_path"`
	State       string    `json:"state"` // "usable", "rebuilding"
	LastIndexed time.Time `json:"last_indexed"`

	IndexedFiles   int  `json:"indexed_files"`
	Symbols        int  `json:"symbols"`
	PendingDirty   int  `json:"pending_dirty"`
	PendingRemoved int  `json:"pending_removed"`
	IndexCurrent   bool `json:"index_current"`
	Incomplete     bool `json:"incomplete"`

	StoreSize     int64  `json:"store_size"`
	WatcherStatus string `json:"watcher_status"` // "running (pid N)", "not running"

	LastJob *JobInfo `json:"last_job,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
		now:    time.Now,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index Status: "+info.ProjectName))

	_, _ = fmt.Fprintf(r.out, "  Path:         %s\n", info.BasePath)
	_, _ = fmt.Fprintf(r.out, "  State:        %s\n", r.renderStatus(info.State))
	_, _ = fmt.Fprintf(r.out, "  Files:        %d\n", info.IndexedFiles)
	_, _ = fmt.Fprintf(r.out, "  Symbols:      %d\n", info.Symbols)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Last indexed: %s\n", r.formatTime(info.LastIndexed))
	}
	_, _ = fmt.Fprintf(r.out, "  Storage:      %s\n", FormatBytes(info.StoreSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Changes:")
	_, _ = fmt.Fprintf(r.out, "    Dirty:   %d\n", info.PendingDirty)
	_, _ = fmt.Fprintf(r.out, "    Removed: %d\n", info.PendingRemoved)
	_, _ = fmt.Fprintln(r.out)

	switch {
	case info.Incomplete:
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Warning.Render("Previous build did not finish; the next start rebuilds."))
	case !info.IndexCurrent:
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Warning.Render("Index format is outdated; the next start rebuilds."))
	}

	if j := info.LastJob; j != nil {
		_, _ = fmt.Fprintln(r.out, "  Last job:")
		_, _ = fmt.Fprintf(r.out, "    %s: %d files, %d removed in %s (%s)\n",
			j.Label, j.Files, j.Removed, formatDuration(j.Duration), r.formatTime(j.FinishedAt))
		if j.Interrupted {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Warning.Render("interrupted"))
		}
		if j.Failures > 0 {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Error.Render(fmt.Sprintf("%d file failures", j.Failures)))
		}
		if j.Error != "" {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Error.Render(j.Error))
		}
	}

	if info.WatcherStatus != "" && info.WatcherStatus != "n/a" {
		_, _ = fmt.Fprintf(r.out, "  Watcher: %s\n", r.renderStatus(info.WatcherStatus))
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "usable", "running":
		return r.styles.Success.Render(status)
	case "rebuilding", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

func (r *StatusRenderer) formatTime(t time.Time) string {
	diff := r.now().Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// JobInfoFromHistory summarizes a finished job for StatusInfo.LastJob.
func JobInfoFromHistory(h diagnostic.History) *JobInfo {
	return &JobInfo{
		Label:       h.Label,
		Files:       h.Files,
		Removed:     h.Removed,
		Failures:    len(h.Failures),
		Duration:    h.Duration(),
		FinishedAt:  h.Times.IndexingEnd,
		Interrupted: h.Times.WasInterrupted,
		Error:       h.Error,
	}
}
