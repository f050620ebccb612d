// Package store persists index state in SQLite: per-file stamps that mark
// a file as indexed, the symbol table, project state and indexing
// histories.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// IndexVersion is bumped whenever the stored index layout changes. A
// project whose recorded version differs is rebuilt from scratch.
const IndexVersion = "3"

// State keys.
const (
	StateKeyIndexVersion = "index_version"
	StateKeyLastIndexed  = "last_indexed_at"
)

// DefaultFileName is the database file name inside a project's data dir.
const DefaultFileName = "index.db"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Stamp records the content a file had when it was last indexed.
type Stamp struct {
	Path      string
	Hash      uint64
	Size      int64
	ModTime   time.Time
	IndexedAt time.Time
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db   *sql.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the database at path using DriverName.
func Open(path string) (*Store, error) {
	return openWith(DriverName, path)
}

func openWith(driver, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeFilePermission, "failed to create store directory", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer. Workers serialize on the pool instead of on SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex, "failed to migrate index store", err).
			WithSuggestion("Delete the .amanidx directory and run 'amanidx index'")
	}

	slog.Debug("store_opened",
		slog.String("path", path),
		slog.String("driver", driver))
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// DB exposes the connection for components that keep their own tables.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// GetState returns the value stored under key for projectID.
func (s *Store) GetState(ctx context.Context, projectID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM project_state WHERE project_id = ? AND key = ?`,
		projectID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores value under key for projectID.
func (s *Store) SetState(ctx context.Context, projectID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_state (project_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(project_id, key) DO UPDATE SET value = excluded.value
	`, projectID, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// IsIndexCurrent reports whether the project's index was built with the
// current IndexVersion.
func (s *Store) IsIndexCurrent(ctx context.Context, projectID string) (bool, error) {
	v, err := s.GetState(ctx, projectID, StateKeyIndexVersion)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == IndexVersion, nil
}

// MarkIndexCurrent records IndexVersion and the completion time.
func (s *Store) MarkIndexCurrent(ctx context.Context, projectID string, at time.Time) error {
	if err := s.SetState(ctx, projectID, StateKeyIndexVersion, IndexVersion); err != nil {
		return err
	}
	return s.SetState(ctx, projectID, StateKeyLastIndexed, at.UTC().Format(time.RFC3339Nano))
}

// StampCount returns the number of indexed files of projectID.
func (s *Store) StampCount(ctx context.Context, projectID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_stamps WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stamps: %w", err)
	}
	return n, nil
}

// GetStamp returns the stamp of path.
func (s *Store) GetStamp(ctx context.Context, projectID, path string) (Stamp, error) {
	var st Stamp
	var hash, modTime, indexedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT path, hash, size, mod_time, indexed_at
		FROM file_stamps WHERE project_id = ? AND path = ?
	`, projectID, path).Scan(&st.Path, &hash, &st.Size, &modTime, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Stamp{}, ErrNotFound
	}
	if err != nil {
		return Stamp{}, fmt.Errorf("get stamp: %w", err)
	}
	st.Hash = uint64(hash)
	st.ModTime = time.Unix(0, modTime)
	st.IndexedAt = time.Unix(0, indexedAt)
	return st, nil
}

// AllStamps returns every stamp of projectID keyed by path.
func (s *Store) AllStamps(ctx context.Context, projectID string) (map[string]Stamp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, hash, size, mod_time, indexed_at
		FROM file_stamps WHERE project_id = ?
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query stamps: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Stamp)
	for rows.Next() {
		var st Stamp
		var hash, modTime, indexedAt int64
		if err := rows.Scan(&st.Path, &hash, &st.Size, &modTime, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan stamp: %w", err)
		}
		st.Hash = uint64(hash)
		st.ModTime = time.Unix(0, modTime)
		st.IndexedAt = time.Unix(0, indexedAt)
		out[st.Path] = st
	}
	return out, rows.Err()
}

// PutStamp inserts or replaces the stamp of st.Path.
func (s *Store) PutStamp(ctx context.Context, projectID string, st Stamp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_stamps (project_id, path, hash, size, mod_time, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			hash = excluded.hash,
			size = excluded.size,
			mod_time = excluded.mod_time,
			indexed_at = excluded.indexed_at
	`, projectID, st.Path, int64(st.Hash), st.Size, st.ModTime.UnixNano(), st.IndexedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put stamp %s: %w", st.Path, err)
	}
	return nil
}

// DeleteStamps removes the stamps of paths.
func (s *Store) DeleteStamps(ctx context.Context, projectID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM file_stamps WHERE project_id = ? AND path = ?`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.ExecContext(ctx, projectID, p); err != nil {
			return fmt.Errorf("delete stamp %s: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ResetProject drops every stamp, symbol and state row of projectID so the
// next startup performs a full build. Histories are kept.
func (s *Store) ResetProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM file_stamps WHERE project_id = ?`,
		`DELETE FROM symbols WHERE project_id = ?`,
		`DELETE FROM project_state WHERE project_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, projectID); err != nil {
			return fmt.Errorf("reset project: %w", err)
		}
	}
	return tx.Commit()
}
