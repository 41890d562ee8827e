// Package results persists run history to a local SQLite database so that
// past outcomes survive the process and can be listed later.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// schema contains the DDL executed on first open. Using IF NOT EXISTS makes
// it safe to run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at  TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    total       INTEGER NOT NULL,
    passed      INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    skipped     INTEGER NOT NULL,
    fatal       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
    run_id      INTEGER NOT NULL REFERENCES runs(id),
    test_id     TEXT NOT NULL,
    title       TEXT NOT NULL,
    project     TEXT NOT NULL,
    status      TEXT NOT NULL,
    retry       INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);
`

// Run summarizes one completed run.
type Run struct {
	ID         int64
	StartedAt  time.Time
	DurationMs int64
	Total      int
	Passed     int
	Failed     int
	Skipped    int
	Fatal      int
}

// Outcome is one test attempt's persisted result.
type Outcome struct {
	TestID     string
	Title      string
	Project    string
	Status     string
	Retry      int
	DurationMs int64
	Error      string
}

// Store is a SQLite-backed history of runs in WAL mode.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists a run and its outcomes in one transaction.
func (s *Store) RecordRun(ctx context.Context, run Run, outcomes []Outcome) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, duration_ms, total, passed, failed, skipped, fatal)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC(), run.DurationMs, run.Total, run.Passed, run.Failed, run.Skipped, run.Fatal)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, o := range outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outcomes (run_id, test_id, title, project, status, retry, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, o.TestID, o.Title, o.Project, o.Status, o.Retry, o.DurationMs, o.Error); err != nil {
			return 0, fmt.Errorf("insert outcome %s: %w", o.TestID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, total, passed, failed, skipped, fatal
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.DurationMs, &r.Total, &r.Passed, &r.Failed, &r.Skipped, &r.Fatal); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Outcomes returns the persisted outcomes of one run in insertion order.
func (s *Store) Outcomes(ctx context.Context, runID int64) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_id, title, project, status, retry, duration_ms, error
		 FROM outcomes WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.TestID, &o.Title, &o.Project, &o.Status, &o.Retry, &o.DurationMs, &o.Error); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
