package persistence

import (
	"context"
	"log/slog"

	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// Recorder writes lifecycle events from a graph into a Store.
type Recorder struct {
	store    Store
	pipeline string
	logger   *slog.Logger
}

// NewRecorder records runs of the named pipeline into store.
func NewRecorder(store Store, pipeline string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, pipeline: pipeline, logger: logger}
}

// Observe applies one event to the store. Progress events are ignored.
func (r *Recorder) Observe(ctx context.Context, evt events.Event) error {
	switch e := evt.(type) {
	case events.RunStartedEvent:
		return r.store.StartRun(ctx, RunRecord{
			ID:        e.RunID,
			Pipeline:  r.pipeline,
			Tasks:     e.Tasks,
			Status:    RunRunning,
			StartedAt: e.Timestamp,
		})

	case events.RunFinishedEvent:
		status, errText := RunSuccess, ""
		switch {
		case e.Err != nil:
			status, errText = RunFailed, e.Err.Error()
		case e.Aborted:
			status = RunAborted
		}
		return r.store.FinishRun(ctx, e.RunID, status, errText, e.Timestamp)

	case events.TaskStartedEvent:
		return r.store.StartTask(ctx, TaskRecord{
			RunID:     e.RunID,
			TaskID:    e.ID,
			Name:      e.Name,
			Status:    scheduler.StatusRunning.String(),
			InputKeys: e.InputKeys,
			StartedAt: e.Timestamp,
		})

	case events.TaskCompletedEvent:
		return r.store.FinishTask(ctx, TaskRecord{
			RunID:      e.RunID,
			TaskID:     e.ID,
			Status:     scheduler.StatusCompleted.String(),
			OutputKeys: e.OutputKeys,
			Elapsed:    e.Duration,
		})

	case events.TaskFailedEvent:
		rec := TaskRecord{
			RunID:   e.RunID,
			TaskID:  e.ID,
			Status:  scheduler.StatusError.String(),
			Handled: e.Handled,
			Elapsed: e.Duration,
		}
		if e.Err != nil {
			rec.Error = e.Err.Error()
		}
		return r.store.FinishTask(ctx, rec)
	}
	return nil
}

// Consume records events from ch until it is closed or ctx is done. Store
// errors are logged and do not stop consumption.
func (r *Recorder) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Observe(ctx, evt); err != nil {
				r.logger.Warn("failed to record event", "event", evt.EventType(), "run", evt.Run(), "error", err)
			}
		}
	}
}
