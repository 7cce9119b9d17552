package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/polisai/safeguards/pkg/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	service     TEXT NOT NULL,
	stage       TEXT NOT NULL,
	region      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	passed      INTEGER NOT NULL,
	warned      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	report      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at DESC);
`

// SQLiteRunStore persists run reports in a SQLite database file.
type SQLiteRunStore struct {
	db *sql.DB
}

// OpenSQLiteRunStore opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway database.
func OpenSQLiteRunStore(ctx context.Context, path string) (*SQLiteRunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run history %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate run history %s: %w", path, err)
	}
	return &SQLiteRunStore{db: db}, nil
}

// SaveRun inserts or replaces a run report.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, report *domain.RunReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrConfigInvalid)
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", report.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, service, stage, region, started_at, passed, warned, failed, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.Service, report.Stage, report.Region, report.StartedAt.UnixNano(),
		report.Summary.Passed, report.Summary.Warned, report.Summary.Failed, string(data),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", report.ID, err)
	}
	return nil
}

// GetRun retrieves a run report by id.
func (s *SQLiteRunStore) GetRun(ctx context.Context, id string) (*domain.RunReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return decodeRun([]byte(data))
}

// ListRuns returns matching runs, most recent first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*domain.RunReport, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Service != "" {
		clauses = append(clauses, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.Stage != "" {
		clauses = append(clauses, "stage = ?")
		args = append(args, filter.Stage)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}

	query := "SELECT report FROM runs"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var reports []*domain.RunReport
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		report, err := decodeRun([]byte(data))
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return reports, nil
}

// Prune deletes runs that started before cutoff and reports how many were removed.
func (s *SQLiteRunStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}
