// Package tracing turns graph lifecycle events into OpenTelemetry spans:
// one span per run with a child span per task execution.
package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/aristath/taskgraph/internal/events"
)

const instrumentationName = "github.com/aristath/taskgraph"

type runSpan struct {
	ctx  context.Context
	span trace.Span
}

// Recorder builds spans from events. Timestamps come from the events, so
// spans reflect when things happened rather than when they were consumed.
type Recorder struct {
	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]runSpan
	tasks map[string]trace.Span // run/task -> span
}

// NewRecorder creates a Recorder using tp.
func NewRecorder(tp trace.TracerProvider) *Recorder {
	return &Recorder{
		tracer: tp.Tracer(instrumentationName),
		runs:   make(map[string]runSpan),
		tasks:  make(map[string]trace.Span),
	}
}

func taskKey(run, id string) string { return run + "/" + id }

// Observe applies one event.
func (r *Recorder) Observe(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := evt.(type) {
	case events.RunStartedEvent:
		ctx, span := r.tracer.Start(context.Background(), "graph.run",
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(
				attribute.String("taskgraph.run_id", e.RunID),
				attribute.Int("taskgraph.tasks", e.Tasks),
			))
		r.runs[e.RunID] = runSpan{ctx: ctx, span: span}

	case events.TaskStartedEvent:
		parent := context.Background()
		if rs, ok := r.runs[e.RunID]; ok {
			parent = rs.ctx
		}
		_, span := r.tracer.Start(parent, e.Name,
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(
				attribute.String("taskgraph.task_id", e.ID),
				attribute.StringSlice("taskgraph.input_keys", e.InputKeys),
			))
		r.tasks[taskKey(e.RunID, e.ID)] = span

	case events.TaskCompletedEvent:
		span, ok := r.takeTask(e.RunID, e.ID)
		if !ok {
			return
		}
		span.SetAttributes(attribute.StringSlice("taskgraph.output_keys", e.OutputKeys))
		span.SetStatus(codes.Ok, "")
		span.End(trace.WithTimestamp(e.Timestamp))

	case events.TaskFailedEvent:
		span, ok := r.takeTask(e.RunID, e.ID)
		if !ok {
			return
		}
		span.SetAttributes(attribute.Bool("taskgraph.handled", e.Handled))
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
		span.End(trace.WithTimestamp(e.Timestamp))

	case events.RunFinishedEvent:
		rs, ok := r.runs[e.RunID]
		if !ok {
			return
		}
		delete(r.runs, e.RunID)

		rs.span.SetAttributes(attribute.Bool("taskgraph.aborted", e.Aborted))
		if e.Err != nil {
			rs.span.RecordError(e.Err)
			rs.span.SetStatus(codes.Error, e.Err.Error())
		}
		rs.span.End(trace.WithTimestamp(e.Timestamp))
	}
}

func (r *Recorder) takeTask(run, id string) (trace.Span, bool) {
	key := taskKey(run, id)
	span, ok := r.tasks[key]
	delete(r.tasks, key)
	return span, ok
}

// Consume observes events from ch until it is closed or ctx is done.
func (r *Recorder) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.Observe(evt)
		}
	}
}

// NewStdoutProvider creates a provider that pretty-prints finished spans to
// w. Callers must Shutdown it to flush.
func NewStdoutProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}
