package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StartRun inserts a run. Saving the same ID again replaces it.
func (s *SQLiteStore) StartRun(ctx context.Context, run RunRecord) error {
	if run.Status == "" {
		run.Status = RunRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, tasks, status, error, started_ns, finished_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline = excluded.pipeline,
			tasks = excluded.tasks,
			status = excluded.status,
			error = excluded.error,
			started_ns = excluded.started_ns,
			finished_ns = excluded.finished_ns
	`, run.ID, run.Pipeline, run.Tasks, run.Status, run.Error, toNanos(run.StartedAt), toNanos(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// FinishRun records a run's outcome.
func (s *SQLiteStore) FinishRun(ctx context.Context, id, status, errText string, finished time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_ns = ? WHERE id = ?
	`, status, errText, toNanos(finished), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
// Returns a wrapped sql.ErrNoRows if it does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pipeline, tasks, status, error, started_ns, finished_ns
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, tasks, status, error, started_ns, finished_ns
		FROM runs
		ORDER BY started_ns DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var run RunRecord
	var started, finished int64
	if err := sc.Scan(&run.ID, &run.Pipeline, &run.Tasks, &run.Status, &run.Error, &started, &finished); err != nil {
		return nil, err
	}
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)
	return &run, nil
}
