package store

import (
	"fmt"
	"strings"
	"time"
)

// RecordEvent appends one entry to the history table. CreatedAt defaults to
// now when zero.
func (s *Store) RecordEvent(e *HistoryEntry) (int64, error) {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	query := `
		INSERT INTO history
		(action, formula, version, from_version, backend, outcome, error, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		e.Action,
		e.Formula,
		e.Version,
		e.FromVersion,
		e.Backend,
		e.Outcome,
		e.Error,
		e.Elapsed.Milliseconds(),
		created.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, wrapErr(err, "failed to record %s of %s", e.Action, e.Formula)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get history ID: %w", err)
	}
	return id, nil
}

// ListHistory returns the newest entries first. A limit of zero or less
// returns everything; a non-empty formula filters by name.
func (s *Store) ListHistory(limit int, formula string) ([]*HistoryEntry, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT id, action, formula, version, from_version, backend, outcome, error, elapsed_ms, created_at
		FROM history
	`)
	var args []any
	if formula != "" {
		b.WriteString(" WHERE formula = ?")
		args = append(args, formula)
	}
	b.WriteString(" ORDER BY id DESC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, wrapErr(err, "failed to list history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var elapsedMS int64
		var createdAt string

		err := rows.Scan(
			&e.ID,
			&e.Action,
			&e.Formula,
			&e.Version,
			&e.FromVersion,
			&e.Backend,
			&e.Outcome,
			&e.Error,
			&elapsedMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at for history entry %d: %w", e.ID, err)
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return entries, nil
}

// HistoryCount returns the number of recorded entries.
func (s *Store) HistoryCount() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM history").Scan(&count); err != nil {
		return 0, wrapErr(err, "failed to count history")
	}
	return count, nil
}
