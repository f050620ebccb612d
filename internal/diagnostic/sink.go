package diagnostic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/amanidx/internal/store"
)

// Sink receives finished histories, once per completed or interrupted job.
type Sink interface {
	Dump(ctx context.Context, h History) error
}

// DirName is the directory inside a project's data dir holding dumps.
const DirName = "diagnostic"

const (
	dumpPrefix     = "indexing-"
	dumpTimeLayout = "20060102T150405.000000000"
)

// Dumper writes each history as a JSON file and keeps the newest Keep of
// them. Jobs that indexed nothing and were not interrupted are not dumped.
type Dumper struct {
	Dir  string
	Keep int
}

// NewDumper creates a dumper writing under dataDir/diagnostic.
func NewDumper(dataDir string, keep int) *Dumper {
	return &Dumper{Dir: filepath.Join(dataDir, DirName), Keep: keep}
}

func (d *Dumper) Dump(ctx context.Context, h History) error {
	if h.Files == 0 && !h.Times.WasInterrupted && h.Error == "" {
		return nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create diagnostic dir: %w", err)
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	name := dumpPrefix + h.Times.IndexingStart.UTC().Format(dumpTimeLayout) + "-" + h.JobID + ".json"
	path := filepath.Join(d.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write history: %w", err)
	}

	return d.prune()
}

// Files returns the dump files, oldest first.
func (d *Dumper) Files() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), dumpPrefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, filepath.Join(d.Dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *Dumper) prune() error {
	if d.Keep <= 0 {
		return nil
	}
	files, err := d.Files()
	if err != nil {
		return fmt.Errorf("failed to list histories: %w", err)
	}
	for len(files) > d.Keep {
		if err := os.Remove(files[0]); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		files = files[1:]
	}
	return nil
}

// HistoryStore is the part of the store holding histories.
type HistoryStore interface {
	SaveHistory(ctx context.Context, rec store.HistoryRecord, keep int) error
	RecentHistories(ctx context.Context, projectID string, limit int) ([]store.HistoryRecord, error)
}

// StoreSink keeps histories in the index store so they outlive the
// diagnostic directory and can be listed by the CLI and MCP tools.
type StoreSink struct {
	store HistoryStore
	keep  int
}

// NewStoreSink creates a sink keeping at most keep records per project.
func NewStoreSink(st HistoryStore, keep int) *StoreSink {
	return &StoreSink{store: st, keep: keep}
}

func (s *StoreSink) Dump(ctx context.Context, h History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return s.store.SaveHistory(ctx, store.HistoryRecord{
		ProjectID:   h.ProjectID,
		JobID:       h.JobID,
		Label:       h.Label,
		StartedAt:   h.Times.IndexingStart,
		EndedAt:     h.Times.IndexingEnd,
		Interrupted: h.Times.WasInterrupted,
		Files:       h.Files,
		Data:        data,
	}, s.keep)
}

// Recent returns up to limit histories of projectID, newest first.
func (s *StoreSink) Recent(ctx context.Context, projectID string, limit int) ([]History, error) {
	recs, err := s.store.RecentHistories(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]History, 0, len(recs))
	for _, rec := range recs {
		var h History
		if err := json.Unmarshal(rec.Data, &h); err != nil {
			slog.Warn("history_decode_failed",
				slog.String("job_id", rec.JobID),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// MultiSink forwards every history to all of its sinks.
type MultiSink []Sink

func (m MultiSink) Dump(ctx context.Context, h History) error {
	var errs []error
	for _, s := range m {
		if err := s.Dump(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink logs a one-line summary of every history.
type LogSink struct{}

func (LogSink) Dump(_ context.Context, h History) error {
	level := slog.LevelInfo
	if h.Error != "" {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "indexing_history",
		slog.String("project", h.ProjectName),
		slog.String("job_id", h.JobID),
		slog.String("label", h.Label),
		slog.Int("files", h.Files),
		slog.Int("skipped", h.Skipped),
		slog.Int("failures", len(h.Failures)),
		slog.Bool("interrupted", h.Times.WasInterrupted),
		slog.Duration("duration", h.Duration()))
	return nil
}
