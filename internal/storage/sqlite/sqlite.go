// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/quill/internal/storage"
)

// SQLiteStorage implements storage.Store using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

var _ storage.Store = (*SQLiteStorage)(nil)

// New creates a new SQLite storage backend, creating the file and schema
// when needed.
func New(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database with WAL mode for concurrent event writes
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RecordRun inserts or replaces a run record.
func (s *SQLiteStorage) RecordRun(ctx context.Context, run *storage.RunRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	history := run.ScoreHistory
	if history == nil {
		history = []float64{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal score history: %w", err)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO runs (
			id, group_id, document_path, document_title, category,
			baseline_score, final_score, target_score, improvement, iterations,
			stop_reason, success, degraded, message, error,
			metrics, score_history, input_tokens, output_tokens, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.GroupID, run.DocumentPath, run.DocumentTitle, run.Category,
		run.BaselineScore, run.FinalScore, run.TargetScore, run.Improvement, run.Iterations,
		run.StopReason, run.Success, run.Degraded, run.Message, run.Error,
		string(metricsJSON), string(historyJSON), run.InputTokens, run.OutputTokens,
		run.Duration.Milliseconds(), createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `
	id, group_id, document_path, document_title, category,
	baseline_score, final_score, target_score, improvement, iterations,
	stop_reason, success, degraded, message, error,
	metrics, score_history, input_tokens, output_tokens, duration_ms, created_at
`

// GetRun retrieves a run by ID. Returns storage.ErrNotFound when absent.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs matching filter, most recent first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*storage.RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE 1=1"
	args := []interface{}{}

	// Apply filters
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.DocumentPath != "" {
		query += " AND document_path = ?"
		args = append(args, filter.DocumentPath)
	}
	if filter.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, filter.GroupID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UnixMilli())
	}

	query += " ORDER BY created_at DESC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*storage.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*storage.RunRecord, error) {
	var (
		run                      storage.RunRecord
		metricsJSON, historyJSON string
		durationMS, createdAt    int64
	)
	err := row.Scan(
		&run.ID, &run.GroupID, &run.DocumentPath, &run.DocumentTitle, &run.Category,
		&run.BaselineScore, &run.FinalScore, &run.TargetScore, &run.Improvement, &run.Iterations,
		&run.StopReason, &run.Success, &run.Degraded, &run.Message, &run.Error,
		&metricsJSON, &historyJSON, &run.InputTokens, &run.OutputTokens, &durationMS, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metricsJSON), &run.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics for run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &run.ScoreHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal score history for run %s: %w", run.ID, err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.CreatedAt = time.UnixMilli(createdAt)
	return &run, nil
}

// RecordEvent stores a progress event.
func (s *SQLiteStorage) RecordEvent(ctx context.Context, event *storage.EventRecord) error {
	if event == nil || event.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	data := event.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
		INSERT INTO run_events (
			id, run_id, type, category, iteration, severity, message, percent, score, data, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.RunID, event.Type, event.Category, event.Iteration,
		event.Severity, event.Message, event.Percent, event.Score, string(dataJSON), ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, run=%s): %w", event.Type, event.RunID, err)
	}
	return nil
}

// ListEvents returns a run's events in the order they were recorded.
func (s *SQLiteStorage) ListEvents(ctx context.Context, runID string) ([]*storage.EventRecord, error) {
	query := `
		SELECT id, run_id, type, category, iteration, severity, message, percent, score, data, timestamp
		FROM run_events
		WHERE run_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.EventRecord
	for rows.Next() {
		var (
			ev       storage.EventRecord
			dataJSON string
			ts       int64
		)
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.Category, &ev.Iteration,
			&ev.Severity, &ev.Message, &ev.Percent, &ev.Score, &dataJSON, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &ev.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		if len(ev.Data) == 0 {
			ev.Data = nil
		}
		ev.Timestamp = time.UnixMilli(ts)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}
