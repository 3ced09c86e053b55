// Package report provides SQLite-based persistence for integrity findings.
// Findings from every run land in one table so operators can query them
// across runs.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/models"
	_ "modernc.org/sqlite"
)

// Store represents the SQLite findings database.
type Store struct {
	db    *sql.DB
	runID string
}

// New opens the findings database. Every finding recorded through the
// returned Store is tagged with runID.
func New(dbPath, runID string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, runID: runID}
	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize creates the database schema.
func (s *Store) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		rev_id INTEGER,
		parent_id INTEGER,
		timestamp TEXT,
		detail TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(run_id);
	CREATE INDEX IF NOT EXISTS idx_findings_rev ON findings(rev_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RunID returns the run id findings are recorded under.
func (s *Store) RunID() string {
	return s.runID
}

// Record stores one finding.
func (s *Store) Record(ctx context.Context, f models.Finding) error {
	var ts any
	if !f.Timestamp.IsZero() {
		ts = f.Timestamp.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (run_id, kind, rev_id, parent_id, timestamp, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.runID, string(f.Kind), f.RevID, f.ParentID, ts, f.Detail, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record finding: %w", err)
	}
	return nil
}

// Findings returns the findings recorded for a run in insertion order.
func (s *Store) Findings(ctx context.Context, runID string) ([]models.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, rev_id, parent_id, timestamp, detail
		FROM findings WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var out []models.Finding
	for rows.Next() {
		var (
			f      models.Finding
			kind   string
			ts     sql.NullString
			detail sql.NullString
		)
		if err := rows.Scan(&kind, &f.RevID, &f.ParentID, &ts, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Kind = models.FindingKind(kind)
		f.Detail = detail.String
		if ts.Valid {
			if t, err := time.Parse(time.RFC3339, ts.String); err == nil {
				f.Timestamp = t
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountByKind summarizes a run's findings.
func (s *Store) CountByKind(ctx context.Context, runID string) (map[models.FindingKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM findings WHERE run_id = ? GROUP BY kind
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}
	defer rows.Close()

	out := make(map[models.FindingKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[models.FindingKind(kind)] = n
	}
	return out, rows.Err()
}
