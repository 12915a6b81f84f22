package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
	Run() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicGraph = "graph"
)

// Event type constants
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunFinished   = "run.finished"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeGraphProgress = "graph.progress"
)

// Publisher is what a graph needs from a bus.
type Publisher interface {
	Publish(topic string, event Event)
}

// RunStartedEvent is published when a graph run begins.
type RunStartedEvent struct {
	RunID     string
	Tasks     int
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) TaskID() string    { return "" }
func (e RunStartedEvent) Run() string       { return e.RunID }

// RunFinishedEvent is published when a graph run returns.
type RunFinishedEvent struct {
	RunID     string
	Aborted   bool
	Err       error // unhandled task error or context error
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }
func (e RunFinishedEvent) Run() string       { return e.RunID }

// TaskStartedEvent is published when a node is dispatched.
type TaskStartedEvent struct {
	RunID     string
	ID        string
	Name      string
	InputKeys []string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }
func (e TaskStartedEvent) Run() string       { return e.RunID }

// TaskCompletedEvent is published when a node's output has been recorded.
type TaskCompletedEvent struct {
	RunID      string
	ID         string
	Name       string
	OutputKeys []string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }
func (e TaskCompletedEvent) Run() string       { return e.RunID }

// TaskFailedEvent is published when a node ends in ERROR.
// Handled reports whether an error handler claimed the failure.
type TaskFailedEvent struct {
	RunID     string
	ID        string
	Name      string
	Err       error
	Handled   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }
func (e TaskFailedEvent) Run() string       { return e.RunID }

// GraphProgressEvent summarises node statuses after each pass.
type GraphProgressEvent struct {
	RunID     string
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e GraphProgressEvent) EventType() string { return EventTypeGraphProgress }
func (e GraphProgressEvent) TaskID() string    { return "" }
func (e GraphProgressEvent) Run() string       { return e.RunID }
