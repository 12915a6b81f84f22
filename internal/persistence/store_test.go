package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/task"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestStartAndGetRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	started := time.Unix(1700000000, 123)

	if err := store.StartRun(ctx, RunRecord{ID: "run-1", Pipeline: "p.yaml", Tasks: 3, StartedAt: started}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunRunning {
		t.Errorf("status = %q, want %q", run.Status, RunRunning)
	}
	if !run.StartedAt.Equal(started) {
		t.Errorf("started = %v, want %v", run.StartedAt, started)
	}
	if !run.FinishedAt.IsZero() || run.Duration() != 0 {
		t.Errorf("running run has finish time %v", run.FinishedAt)
	}

	finished := started.Add(2 * time.Second)
	if err := store.FinishRun(ctx, "run-1", RunFailed, "boom", finished); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	run, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunFailed || run.Error != "boom" || run.Duration() != 2*time.Second {
		t.Errorf("finished run = %+v", run)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if err := store.FinishRun(context.Background(), "missing", RunSuccess, "", time.Now()); err == nil {
		t.Fatal("expected error finishing unknown run")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i, id := range []string{"a", "b", "c"} {
		if err := store.StartRun(ctx, RunRecord{ID: id, Pipeline: "p", StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("runs = %+v", runs)
	}

	all, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestStartAndFinishTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	started := time.Unix(1700000000, 0)

	if err := store.StartRun(ctx, RunRecord{ID: "r", Pipeline: "p", StartedAt: started}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.StartTask(ctx, TaskRecord{RunID: "r", TaskID: "load#0", Name: "load", Status: "RUNNING", InputKeys: []string{"a", "b"}, StartedAt: started}); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if err := store.FinishTask(ctx, TaskRecord{RunID: "r", TaskID: "load#0", Status: "ERROR", Handled: true, Error: "bad", Elapsed: time.Second}); err != nil {
		t.Fatalf("FinishTask failed: %v", err)
	}

	recs, err := store.ListTasks(ctx, "r")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Name != "load" || rec.Status != "ERROR" || !rec.Handled || rec.Error != "bad" || rec.Elapsed != time.Second {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.InputKeys) != 2 || rec.OutputKeys != nil {
		t.Errorf("keys = %v / %v", rec.InputKeys, rec.OutputKeys)
	}

	if err := store.FinishTask(ctx, TaskRecord{RunID: "r", TaskID: "ghost#9"}); err == nil {
		t.Error("expected error finishing unknown task")
	}
}

func TestRecorder_RecordsGraphRun(t *testing.T) {
	store := testStore(t)
	bus := events.NewEventBus()
	ch := bus.SubscribeAll(64)

	done := make(chan struct{})
	rec := NewRecorder(store, "pipeline.yaml", ctxlog.Discard())
	go func() {
		rec.Consume(context.Background(), ch)
		close(done)
	}()

	g := scheduler.New(scheduler.WithPublisher(bus), scheduler.WithLogger(ctxlog.Discard()))
	load := g.Append(&task.Func{
		Label:   "load",
		Outputs: []string{"rows"},
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			return dataset.New().Put("rows", dataset.NewRaw([]byte("x"), nil)), nil
		},
	})
	g.Append(&task.Func{
		Label:  "parse",
		Inputs: []string{"rows"},
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			return nil, errors.New("bad header")
		},
	}, load)

	if _, err := g.Run(context.Background(), dataset.New()); err == nil {
		t.Fatal("expected run error")
	}
	bus.Close()
	<-done

	runs, err := store.ListRuns(context.Background(), 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, err = %v", runs, err)
	}
	run := runs[0]
	if run.Pipeline != "pipeline.yaml" || run.Tasks != 2 || run.Status != RunFailed || run.Error != "bad header" {
		t.Errorf("run = %+v", run)
	}

	recs, err := store.ListTasks(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].TaskID != "load#0" || recs[0].Status != "COMPLETED" || len(recs[0].OutputKeys) != 1 {
		t.Errorf("load = %+v", recs[0])
	}
	if recs[1].TaskID != "parse#1" || recs[1].Status != "ERROR" || recs[1].Handled || recs[1].Error != "bad header" {
		t.Errorf("parse = %+v", recs[1])
	}
}
