package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
)

// maxLineSize bounds a single log line read by the viewer.
const maxLineSize = 1 << 20

// Entry is one parsed log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	// Raw is the line as written. Lines that are not JSON only have Raw.
	Raw   string
	Valid bool
}

// ViewerConfig filters and formats entries.
type ViewerConfig struct {
	// Level drops entries below this level. Empty keeps all.
	Level string
	// Pattern keeps only lines matching it. Nil keeps all.
	Pattern *regexp.Regexp
	NoColor bool
}

// Viewer reads and formats the JSON log file written by Setup.
type Viewer struct {
	cfg    ViewerConfig
	out    io.Writer
	levels map[string]lipgloss.Style
}

// NewViewer creates a viewer printing to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	v := &Viewer{cfg: cfg, out: out, levels: map[string]lipgloss.Style{}}
	if !cfg.NoColor {
		v.levels["DEBUG"] = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		v.levels["INFO"] = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
		v.levels["WARN"] = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
		v.levels["ERROR"] = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	}
	return v
}

// Tail returns the matching entries among the last n lines of path.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	entries := make([]Entry, 0, len(ring))
	for _, line := range ring {
		if e := ParseLine(line); v.matches(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Follow sends entries appended to path until ctx is done. A rotated
// file is reopened from its start.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- Entry) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()
	// The directory sees the rename and re-create of a rotation.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	r := bufio.NewReaderSize(f, 64*1024)

	var partial string
	drain := func() bool {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				partial += line
				return true
			}
			line = strings.TrimSuffix(partial+line, "\n")
			partial = ""
			if line == "" {
				continue
			}
			if e := ParseLine(line); v.matches(e) {
				select {
				case entries <- e:
				case <-ctx.Done():
					return false
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write):
				if !drain() {
					return nil
				}
			case ev.Has(fsnotify.Create):
				nf, err := os.Open(path)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					return fmt.Errorf("failed to reopen log file: %w", err)
				}
				_ = f.Close()
				f, partial = nf, ""
				r.Reset(f)
				if !drain() {
					return nil
				}
			}
		}
	}
}

// Print writes entries to the viewer's output.
func (v *Viewer) Print(entries []Entry) {
	for _, e := range entries {
		_, _ = fmt.Fprintln(v.out, v.Format(e))
	}
}

// Format renders an entry as "15:04:05.000 LEVEL msg key=value ...",
// attributes sorted by key.
func (v *Viewer) Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}

	level := strings.ToUpper(e.Level)
	if style, ok := v.levels[level]; ok {
		level = style.Render(fmt.Sprintf("%-5s", level))
	} else {
		level = fmt.Sprintf("%-5s", level)
	}

	var b strings.Builder
	b.WriteString(e.Time.Local().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}

func (v *Viewer) matches(e Entry) bool {
	if v.cfg.Level != "" && e.Valid && LevelFromString(e.Level) < LevelFromString(v.cfg.Level) {
		return false
	}
	if v.cfg.Pattern != nil && !v.cfg.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// ParseLine parses one line of the JSON log.
func ParseLine(line string) Entry {
	e := Entry{Raw: line}

	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return e
	}
	e.Valid = true

	if s, ok := data["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, s)
	}
	e.Level, _ = data["level"].(string)
	e.Msg, _ = data["msg"].(string)
	delete(data, "time")
	delete(data, "level")
	delete(data, "msg")
	e.Attrs = data
	return e
}
