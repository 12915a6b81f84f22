// Package persistence keeps a history of graph runs in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/taskgraph/internal/repository"
)

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunAborted = "aborted"
	RunFailed  = "failed"
)

// RunRecord is one graph run.
type RunRecord struct {
	ID         string
	Pipeline   string
	Tasks      int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// Duration returns how long the run took, or 0 while it is running.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TaskRecord is one node execution within a run.
type TaskRecord struct {
	RunID      string
	TaskID     string
	Name       string
	Status     string // scheduler.TaskStatus name
	Handled    bool
	Error      string
	InputKeys  []string
	OutputKeys []string
	StartedAt  time.Time
	Elapsed    time.Duration
}

// Store defines the persistence interface for run history.
type Store interface {
	// Run operations
	StartRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, id, status, errText string, finished time.Time) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Task operations
	StartTask(ctx context.Context, rec TaskRecord) error
	FinishTask(ctx context.Context, rec TaskRecord) error
	ListTasks(ctx context.Context, runID string) ([]TaskRecord, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store on a repository.SQLiteStore database.
type SQLiteStore struct {
	base *repository.SQLiteStore
	db   *sql.DB
}

// NewSQLiteStore opens or creates the history database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	base, err := repository.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return newStore(ctx, base)
}

// NewMemoryStore creates an in-memory store for testing.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	base, err := repository.NewMemoryStore(ctx)
	if err != nil {
		return nil, err
	}
	return newStore(ctx, base)
}

func newStore(ctx context.Context, base *repository.SQLiteStore) (*SQLiteStore, error) {
	store := &SQLiteStore{base: base, db: base.DB()}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		base.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.base.Close()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
