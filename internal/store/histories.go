package store

import (
	"context"
	"fmt"
	"time"
)

// HistoryRecord is a finished indexing history as stored. Data holds the
// full JSON document; the other columns exist for listing and pruning.
type HistoryRecord struct {
	ID          int64
	ProjectID   string
	JobID       string
	Label       string
	StartedAt   time.Time
	EndedAt     time.Time
	Interrupted bool
	Files       int
	Data        []byte
}

// SaveHistory appends rec and keeps at most keep records for the project.
func (s *Store) SaveHistory(ctx context.Context, rec HistoryRecord, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	interrupted := 0
	if rec.Interrupted {
		interrupted = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO indexing_histories (project_id, job_id, label, started_at, ended_at, interrupted, files, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ProjectID, rec.JobID, rec.Label, rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(),
		interrupted, rec.Files, string(rec.Data)); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM indexing_histories
			WHERE project_id = ? AND id NOT IN (
				SELECT id FROM indexing_histories WHERE project_id = ?
				ORDER BY started_at DESC, id DESC LIMIT ?
			)
		`, rec.ProjectID, rec.ProjectID, keep); err != nil {
			return fmt.Errorf("prune histories: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecentHistories returns up to limit records, newest first.
func (s *Store) RecentHistories(ctx context.Context, projectID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, job_id, label, started_at, ended_at, interrupted, files, data
		FROM indexing_histories WHERE project_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query histories: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		var started, ended int64
		var interrupted int
		var data string
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.JobID, &rec.Label,
			&started, &ended, &interrupted, &rec.Files, &data); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.StartedAt = time.Unix(0, started)
		rec.EndedAt = time.Unix(0, ended)
		rec.Interrupted = interrupted != 0
		rec.Data = []byte(data)
		out = append(out, rec)
	}
	return out, rows.Err()
}
