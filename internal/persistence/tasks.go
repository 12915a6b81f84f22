package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StartTask inserts a task execution. Saving the same run and task again
// replaces it.
func (s *SQLiteStore) StartTask(ctx context.Context, rec TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (run_id, task_id, name, status, handled, error, input_keys, output_keys, started_ns, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			handled = excluded.handled,
			error = excluded.error,
			input_keys = excluded.input_keys,
			output_keys = excluded.output_keys,
			started_ns = excluded.started_ns,
			elapsed_ns = excluded.elapsed_ns
	`, rec.RunID, rec.TaskID, rec.Name, rec.Status, rec.Handled, rec.Error,
		joinKeys(rec.InputKeys), joinKeys(rec.OutputKeys), toNanos(rec.StartedAt), int64(rec.Elapsed))
	if err != nil {
		return fmt.Errorf("failed to save task run: %w", err)
	}
	return nil
}

// FinishTask records the outcome of a started task execution.
func (s *SQLiteStore) FinishTask(ctx context.Context, rec TaskRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_runs
		SET status = ?, handled = ?, error = ?, output_keys = ?, elapsed_ns = ?
		WHERE run_id = ? AND task_id = ?
	`, rec.Status, rec.Handled, rec.Error, joinKeys(rec.OutputKeys), int64(rec.Elapsed), rec.RunID, rec.TaskID)
	if err != nil {
		return fmt.Errorf("failed to finish task run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task run not found: %s/%s", rec.RunID, rec.TaskID)
	}
	return nil
}

// ListTasks returns a run's task executions in start order.
func (s *SQLiteStore) ListTasks(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_id, name, status, handled, error, input_keys, output_keys, started_ns, elapsed_ns
		FROM task_runs
		WHERE run_id = ?
		ORDER BY started_ns, task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task runs: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var inputs, outputs string
		var started, elapsed int64
		if err := rows.Scan(&rec.RunID, &rec.TaskID, &rec.Name, &rec.Status, &rec.Handled, &rec.Error,
			&inputs, &outputs, &started, &elapsed); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		rec.InputKeys = splitKeys(inputs)
		rec.OutputKeys = splitKeys(outputs)
		rec.StartedAt = fromNanos(started)
		rec.Elapsed = time.Duration(elapsed)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Keys are stored comma-separated.
func joinKeys(keys []string) string { return strings.Join(keys, ",") }

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
