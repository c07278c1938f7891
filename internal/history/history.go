// Package history keeps a log of finished work-cycle phases in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the database file created under the data directory.
const FileName = "history.db"

const schema = `
CREATE TABLE IF NOT EXISTS phases (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	plugin       TEXT    NOT NULL,
	phase        TEXT    NOT NULL,
	next_phase   TEXT    NOT NULL,
	cycle_count  INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	completed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phases_completed_at ON phases(completed_at);
`

// ErrInvalidEntry is returned for entries missing a plugin or phase.
var ErrInvalidEntry = errors.New("history: invalid entry")

// Entry is one finished phase.
type Entry struct {
	ID          int64         `json:"id"`
	Plugin      string        `json:"plugin"`
	Phase       string        `json:"phase"`
	Next        string        `json:"next"`
	CycleCount  int           `json:"cycle_count"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Totals summarizes the log per phase name.
type Totals struct {
	Phase    string
	Count    int
	Duration time.Duration
}

// Store is a phase log backed by one SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dsn and applies the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e and returns its id.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Plugin == "" || e.Phase == "" {
		return 0, fmt.Errorf("%w: plugin and phase are required", ErrInvalidEntry)
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO phases (plugin, phase, next_phase, cycle_count, duration_ms, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Plugin, e.Phase, e.Next, e.CycleCount, e.Duration.Milliseconds(), e.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record phase: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first. A limit of zero or
// less returns every entry.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, plugin, phase, next_phase, cycle_count, duration_ms, completed_at
		FROM phases ORDER BY completed_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			durationMs  int64
			completedMs int64
		)
		if err := rows.Scan(&e.ID, &e.Plugin, &e.Phase, &e.Next, &e.CycleCount, &durationMs, &completedMs); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CompletedAt = time.UnixMilli(completedMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Since returns per-phase totals for entries completed at or after t,
// ordered by phase name.
func (s *Store) Since(ctx context.Context, t time.Time) ([]Totals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, COUNT(*), SUM(duration_ms) FROM phases
		 WHERE completed_at >= ? GROUP BY phase ORDER BY phase`,
		t.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	var out []Totals
	for rows.Next() {
		var (
			tot Totals
			ms  int64
		)
		if err := rows.Scan(&tot.Phase, &tot.Count, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		tot.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, tot)
	}
	return out, rows.Err()
}

// Prune deletes entries completed before t and returns how many were removed.
func (s *Store) Prune(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM phases WHERE completed_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}
