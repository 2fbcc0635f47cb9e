package sqlite

import (
	"context"
	"fmt"
	"time"
)

// PruneRuns deletes runs created before olderThan together with their
// events, plus orphaned events (from runs that never recorded a summary)
// older than the cutoff. Returns the number of runs deleted.
func (s *SQLiteStorage) PruneRuns(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := olderThan.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE created_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete events of expired runs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired runs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_events WHERE timestamp < ? AND run_id NOT IN (SELECT id FROM runs)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete orphaned events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return int(deleted), nil
}

// PruneExcessRuns keeps only the keep most recent runs. keep <= 0 means
// unlimited and deletes nothing.
func (s *SQLiteStorage) PruneExcessRuns(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const excess = `SELECT id FROM runs ORDER BY created_at DESC, id ASC LIMIT -1 OFFSET ?`
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM run_events WHERE run_id IN (`+excess+`)`, keep); err != nil {
		return 0, fmt.Errorf("failed to delete events of excess runs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+excess+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to delete excess runs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return int(deleted), nil
}

// Counts reports the number of stored runs and events.
func (s *SQLiteStorage) Counts(ctx context.Context) (runs, events int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&runs); err != nil {
		return 0, 0, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_events`).Scan(&events); err != nil {
		return 0, 0, fmt.Errorf("failed to count events: %w", err)
	}
	return runs, events, nil
}

// Vacuum reclaims space after large prunes.
func (s *SQLiteStorage) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
