package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Times are stored as Unix nanoseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		tasks INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_ns INTEGER NOT NULL,
		finished_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_ns);

	CREATE TABLE IF NOT EXISTS task_runs (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		handled INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		input_keys TEXT NOT NULL DEFAULT '',
		output_keys TEXT NOT NULL DEFAULT '',
		started_ns INTEGER NOT NULL,
		elapsed_ns INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
