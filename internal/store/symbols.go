package store

import (
	"context"
	"fmt"
)

// Symbol is a named declaration found in a file.
type Symbol struct {
	Path string
	Name string
	Kind string
	Line int
}

// ReplaceSymbols swaps the symbols of path for syms in one transaction.
func (s *Store) ReplaceSymbols(ctx context.Context, projectID, path string, syms []Symbol) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE project_id = ? AND path = ?`, projectID, path); err != nil {
		return fmt.Errorf("delete symbols: %w", err)
	}

	if len(syms) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO symbols (project_id, path, name, kind, line) VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, sym := range syms {
			if _, err := stmt.ExecContext(ctx, projectID, path, sym.Name, sym.Kind, sym.Line); err != nil {
				return fmt.Errorf("insert symbol %s: %w", sym.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteSymbols removes every symbol of path.
func (s *Store) DeleteSymbols(ctx context.Context, projectID, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE project_id = ? AND path = ?`, projectID, path); err != nil {
		return fmt.Errorf("delete symbols: %w", err)
	}
	return nil
}

// FindSymbols returns symbols whose name starts with prefix.
func (s *Store) FindSymbols(ctx context.Context, projectID, prefix string, limit int) ([]Symbol, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, name, kind, line FROM symbols
		WHERE project_id = ? AND name LIKE ? ESCAPE '\'
		ORDER BY name, path, line
		LIMIT ?
	`, projectID, escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.Path, &sym.Name, &sym.Kind, &sym.Line); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SymbolCount returns the number of symbols stored for projectID.
func (s *Store) SymbolCount(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
