package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/task"
)

// Hook observes a DataSet before or after a task body runs.
// Hooks are not protected: a panicking hook propagates to the caller.
type Hook func(ds *dataset.DataSet)

func noopHook(*dataset.DataSet) {}

// GraphTask wraps one Task with its scheduling state.
//
// Status moves INIT -> RUNNING -> COMPLETED|ERROR and never returns to INIT.
// Only the graph that owns a node changes its state; workers executing the
// task body hand back an outcome that the owner applies.
type GraphTask struct {
	task   task.Task
	name   string
	index  int
	logger *slog.Logger

	status atomic.Int32

	mu          sync.RWMutex
	static      []*GraphTask
	dispatched  []*GraphTask // dynamic dependencies the node was started with
	preRunHook  Hook
	postRunHook Hook
	input       *dataset.DataSet
	output      *dataset.DataSet
	err         error
	elapsed     time.Duration
}

func newGraphTask(t task.Task, index int, deps []*GraphTask, logger *slog.Logger) *GraphTask {
	return &GraphTask{
		task:        t,
		name:        task.Name(t),
		index:       index,
		logger:      logger,
		static:      append([]*GraphTask(nil), deps...),
		preRunHook:  noopHook,
		postRunHook: noopHook,
	}
}

// NewGraphTask creates a free-standing node, mostly useful in tests and for
// running a single task with hooks outside a graph.
func NewGraphTask(t task.Task, deps ...*GraphTask) *GraphTask {
	return newGraphTask(t, 0, deps, slog.Default())
}

// Task returns the wrapped task.
func (gt *GraphTask) Task() task.Task { return gt.task }

// Name returns the task name.
func (gt *GraphTask) Name() string { return gt.name }

// Index returns the append position of the node in its graph.
func (gt *GraphTask) Index() int { return gt.index }

// ID returns a graph-unique identifier, name#index.
func (gt *GraphTask) ID() string { return fmt.Sprintf("%s#%d", gt.name, gt.index) }

// Status returns the current status. Safe from any goroutine.
func (gt *GraphTask) Status() TaskStatus { return TaskStatus(gt.status.Load()) }

func (gt *GraphTask) setStatus(s TaskStatus) { gt.status.Store(int32(s)) }

// StaticDependencies returns the edges fixed at construction or by
// AutoresolveDependencies.
func (gt *GraphTask) StaticDependencies() []*GraphTask {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return append([]*GraphTask(nil), gt.static...)
}

// Dependencies returns the static dependencies plus the dynamic ones the node
// was dispatched with. Scheduling never reads the dynamic part; it is kept
// for reporting.
func (gt *GraphTask) Dependencies() []*GraphTask {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	deps := append([]*GraphTask(nil), gt.static...)
	for _, d := range gt.dispatched {
		if !containsTask(deps, d) {
			deps = append(deps, d)
		}
	}
	return deps
}

func (gt *GraphTask) addStatic(dep *GraphTask) {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	if !containsTask(gt.static, dep) {
		gt.static = append(gt.static, dep)
	}
}

// IsRunnable reports whether the node is INIT and all its static
// dependencies are COMPLETED. A node without dependencies is runnable at once.
func (gt *GraphTask) IsRunnable() bool {
	if gt.Status() != StatusInit {
		return false
	}
	for _, dep := range gt.StaticDependencies() {
		if dep.Status() != StatusCompleted {
			return false
		}
	}
	return true
}

// SetPreRunHook installs a hook called with the input before Main.
// A nil hook restores the no-op default.
func (gt *GraphTask) SetPreRunHook(h Hook) {
	if h == nil {
		h = noopHook
	}
	gt.mu.Lock()
	gt.preRunHook = h
	gt.mu.Unlock()
}

// SetPostRunHook installs a hook called with the output after Main succeeds.
func (gt *GraphTask) SetPostRunHook(h Hook) {
	if h == nil {
		h = noopHook
	}
	gt.mu.Lock()
	gt.postRunHook = h
	gt.mu.Unlock()
}

func (gt *GraphTask) PreRunHook() Hook {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return gt.preRunHook
}

func (gt *GraphTask) PostRunHook() Hook {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return gt.postRunHook
}

// Input returns the DataSet the node was last started with.
func (gt *GraphTask) Input() *dataset.DataSet {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return gt.input
}

// Output returns the DataSet the task produced, nil until COMPLETED.
func (gt *GraphTask) Output() *dataset.DataSet {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return gt.output
}

// Err returns the error that put the node in ERROR.
func (gt *GraphTask) Err() error {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return gt.err
}

// Elapsed returns how long Main ran.
func (gt *GraphTask) Elapsed() time.Duration {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return gt.elapsed
}

// Run executes the node in the calling goroutine: RUNNING, pre-hook, Main,
// post-hook, COMPLETED. On failure the node goes to ERROR and the task's
// error is returned unmodified.
func (gt *GraphTask) Run(ctx context.Context, input *dataset.DataSet) (*dataset.DataSet, error) {
	if s := gt.Status(); s != StatusInit {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunnable, gt.ID(), s)
	}
	return gt.run(ctx, input, nil)
}

func (gt *GraphTask) run(ctx context.Context, input *dataset.DataSet, dynamic []*GraphTask) (*dataset.DataSet, error) {
	gt.markRunning(input, dynamic)
	o := gt.invoke(ctx, input)
	gt.apply(o)
	return o.output, o.err
}

// outcome is what a worker hands back after executing a node's body.
type outcome struct {
	node    *GraphTask
	output  *dataset.DataSet
	elapsed time.Duration
	err     error
}

// markRunning is called by the owner before the body is executed anywhere.
func (gt *GraphTask) markRunning(input *dataset.DataSet, dynamic []*GraphTask) {
	gt.mu.Lock()
	gt.input = input
	gt.dispatched = append([]*GraphTask(nil), dynamic...)
	gt.mu.Unlock()
	gt.setStatus(StatusRunning)
}

// invoke runs hooks and Main without touching node state, so it can execute
// on any worker.
func (gt *GraphTask) invoke(ctx context.Context, input *dataset.DataSet) outcome {
	logger := gt.logger.With("task", gt.ID())
	logger.Debug("task started", "input", input.String())

	gt.PreRunHook()(input)
	res := task.Timed(ctx, gt.task, input)
	if res.Err != nil {
		logger.Error("task failed", "error", res.Err, "elapsed", res.Elapsed)
		return outcome{node: gt, elapsed: res.Elapsed, err: res.Err}
	}
	gt.PostRunHook()(res.Output)

	logger.Debug("task completed", "elapsed", res.Elapsed, "output", res.Output.String())
	return outcome{node: gt, output: res.Output, elapsed: res.Elapsed}
}

// apply folds an outcome back into the node.
func (gt *GraphTask) apply(o outcome) {
	gt.mu.Lock()
	gt.elapsed = o.elapsed
	if o.err != nil {
		gt.err = o.err
	} else {
		gt.output = o.output
	}
	gt.mu.Unlock()

	if o.err != nil {
		gt.setStatus(StatusError)
		return
	}
	gt.setStatus(StatusCompleted)
}

func containsTask(list []*GraphTask, t *GraphTask) bool {
	for _, x := range list {
		if x == t {
			return true
		}
	}
	return false
}
