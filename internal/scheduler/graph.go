package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/task"
)

// Runner is the surface shared by Graph, ConcurrentGraph and wrappers
// around them.
type Runner interface {
	Append(t task.Task, deps ...*GraphTask) *GraphTask
	Run(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error)
	Tasks() []*GraphTask
	AutoresolveDependencies() error
	Validate() ([]*GraphTask, error)
	AddErrorHandler(match Matcher, fn ErrorHandler)
}

// Option configures a Graph.
type Option func(*Graph)

// WithCatalog sets the DataSet every task sees in its input.
func WithCatalog(ds *dataset.DataSet) Option {
	return func(g *Graph) {
		if ds != nil {
			g.catalog = ds
		}
	}
}

// WithResolution selects static or dynamic dependency resolution.
func WithResolution(mode ResolutionMode) Option {
	return func(g *Graph) { g.mode = mode }
}

// WithLogger sets the logger used by the graph and handed to task bodies
// through the context.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithPublisher makes the graph publish lifecycle events.
func WithPublisher(p events.Publisher) Option {
	return func(g *Graph) { g.publisher = p }
}

// Graph runs tasks one at a time, in append order among the runnable ones.
type Graph struct {
	mu        sync.RWMutex
	nodes     []*GraphTask
	handlers  []errorHandler
	catalog   *dataset.DataSet
	mode      ResolutionMode
	logger    *slog.Logger
	publisher events.Publisher
}

// New creates an empty graph. Dynamic resolution is the default.
func New(opts ...Option) *Graph {
	g := &Graph{
		catalog: dataset.New(),
		mode:    DynamicResolution,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Append adds t to the graph with the given static dependencies.
func (g *Graph) Append(t task.Task, deps ...*GraphTask) *GraphTask {
	g.mu.Lock()
	defer g.mu.Unlock()

	gt := newGraphTask(t, len(g.nodes), deps, g.logger)
	g.nodes = append(g.nodes, gt)
	return gt
}

// Tasks returns the nodes in append order.
func (g *Graph) Tasks() []*GraphTask {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]*GraphTask(nil), g.nodes...)
}

// Catalog returns the catalog DataSet. Tasks must treat it as read-only.
func (g *Graph) Catalog() *dataset.DataSet { return g.catalog }

// Mode returns the resolution mode.
func (g *Graph) Mode() ResolutionMode { return g.mode }

// Logger returns the graph's logger.
func (g *Graph) Logger() *slog.Logger { return g.logger }

// AddErrorHandler appends a handler. Handlers are tried in registration
// order and the first whose matcher accepts the error wins.
func (g *Graph) AddErrorHandler(match Matcher, fn ErrorHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, errorHandler{match: match, fn: fn})
}

// IsAllCompleted reports whether every node is COMPLETED.
func (g *Graph) IsAllCompleted() bool {
	for _, gt := range g.Tasks() {
		if gt.Status() != StatusCompleted {
			return false
		}
	}
	return true
}

// Run executes runnable nodes one by one until none is left, a handler
// aborts the run, or a task fails without a matching handler. It returns
// the output of the last node run, or ds when nothing ran.
//
// A node without dependencies gets the catalog merged with ds as input;
// other nodes get the catalog merged with their dependencies' outputs.
func (g *Graph) Run(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	st := g.begin(ds)
	ctx = ctxlog.WithLogger(ctx, g.logger.With("run", st.id))

	for !st.aborted {
		if err := ctx.Err(); err != nil {
			return g.finish(st, nil, err)
		}

		res := g.Resolve()
		runnable := g.runnable(res)
		if len(runnable) == 0 {
			break
		}

		node := runnable[0]
		input := g.dispatch(st, node, res[node], ds)
		o := node.invoke(ctx, input)
		if err := g.settle(st, o); err != nil {
			return g.finish(st, nil, err)
		}
		if o.err == nil {
			st.last = o.output
		}
		g.progress(st)
	}

	return g.finish(st, st.last, nil)
}

// runState is the mutable state of one call to Run.
type runState struct {
	id      string
	started time.Time
	aborted bool
	last    *dataset.DataSet
}

func (g *Graph) begin(ds *dataset.DataSet) *runState {
	st := &runState{
		id:      uuid.NewString(),
		started: time.Now(),
		last:    ds,
	}
	g.logger.Info("graph run started", "run", st.id, "tasks", len(g.Tasks()), "mode", g.mode)
	g.publish(events.TopicGraph, events.RunStartedEvent{
		RunID:     st.id,
		Tasks:     len(g.Tasks()),
		Timestamp: st.started,
	})
	return st
}

func (g *Graph) finish(st *runState, out *dataset.DataSet, err error) (*dataset.DataSet, error) {
	elapsed := time.Since(st.started)
	if err != nil {
		g.logger.Error("graph run failed", "run", st.id, "error", err, "elapsed", elapsed)
	} else {
		g.logger.Info("graph run finished", "run", st.id, "aborted", st.aborted, "elapsed", elapsed)
	}
	g.publish(events.TopicGraph, events.RunFinishedEvent{
		RunID:     st.id,
		Aborted:   st.aborted,
		Err:       err,
		Duration:  elapsed,
		Timestamp: time.Now(),
	})
	return out, err
}

// inputFor builds a node's input from the catalog and either its
// dependencies' outputs or the caller's DataSet. Earlier dependencies win
// on key conflicts.
func (g *Graph) inputFor(node *GraphTask, dynamic []*GraphTask, ds *dataset.DataSet) *dataset.DataSet {
	deps := node.StaticDependencies()
	for _, d := range dynamic {
		if !containsTask(deps, d) {
			deps = append(deps, d)
		}
	}

	input := g.catalog.Clone()
	if len(deps) == 0 {
		return input.Merge(ds)
	}
	for i := len(deps) - 1; i >= 0; i-- {
		input.Merge(deps[i].Output())
	}
	return input
}

// dispatch marks node RUNNING and returns its input. Only the owner calls it.
func (g *Graph) dispatch(st *runState, node *GraphTask, dynamic []*GraphTask, ds *dataset.DataSet) *dataset.DataSet {
	input := g.inputFor(node, dynamic, ds)
	node.markRunning(input, dynamic)
	g.publish(events.TopicTask, events.TaskStartedEvent{
		RunID:     st.id,
		ID:        node.ID(),
		Name:      node.Name(),
		InputKeys: input.Keys(),
		Timestamp: time.Now(),
	})
	return input
}

// settle applies a finished outcome to its node and routes a failure
// through the handler chain. It returns the error when no handler claims it.
func (g *Graph) settle(st *runState, o outcome) error {
	node := o.node
	node.apply(o)

	if o.err == nil {
		g.publish(events.TopicTask, events.TaskCompletedEvent{
			RunID:      st.id,
			ID:         node.ID(),
			Name:       node.Name(),
			OutputKeys: o.output.Keys(),
			Duration:   o.elapsed,
			Timestamp:  time.Now(),
		})
		return nil
	}

	handled := g.handle(st, node, o.err)
	g.publish(events.TopicTask, events.TaskFailedEvent{
		RunID:     st.id,
		ID:        node.ID(),
		Name:      node.Name(),
		Err:       o.err,
		Handled:   handled,
		Duration:  o.elapsed,
		Timestamp: time.Now(),
	})
	if handled {
		return nil
	}
	return o.err
}

// handle offers err to the handler chain. A match aborts the run.
func (g *Graph) handle(st *runState, node *GraphTask, err error) bool {
	g.mu.RLock()
	handlers := append([]errorHandler(nil), g.handlers...)
	g.mu.RUnlock()

	for _, h := range handlers {
		if !h.match(err) {
			continue
		}
		st.aborted = true
		g.logger.Warn("task error handled, aborting run", "run", st.id, "task", node.ID(), "error", err)
		h.fn(err, node.Input())
		return true
	}
	return false
}

func (g *Graph) progress(st *runState) {
	if g.publisher == nil {
		return
	}
	evt := events.GraphProgressEvent{RunID: st.id, Timestamp: time.Now()}
	for _, gt := range g.Tasks() {
		evt.Total++
		switch gt.Status() {
		case StatusInit:
			evt.Pending++
		case StatusRunning:
			evt.Running++
		case StatusCompleted:
			evt.Completed++
		case StatusError:
			evt.Failed++
		}
	}
	g.publish(events.TopicGraph, evt)
}

func (g *Graph) publish(topic string, evt events.Event) {
	if g.publisher != nil {
		g.publisher.Publish(topic, evt)
	}
}
