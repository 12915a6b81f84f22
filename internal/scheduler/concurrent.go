package scheduler

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
)

// DefaultPollInterval bounds how long the orchestrator sleeps between
// checks for finished submissions.
const DefaultPollInterval = 100 * time.Millisecond

// PoolConfig configures the worker pool of a ConcurrentGraph.
type PoolConfig struct {
	Workers      int           // Max concurrent task bodies (default runtime.NumCPU())
	PollInterval time.Duration // Wait granularity (default 100ms)
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// ConcurrentGraph resolves like Graph but submits every runnable node of a
// pass to a bounded worker pool.
//
// Workers only execute task bodies and hand back outcomes; node status and
// outputs are updated by the orchestrating goroutine when it drains them.
type ConcurrentGraph struct {
	*Graph
	pool PoolConfig
}

// NewConcurrentGraph creates an empty concurrent graph.
func NewConcurrentGraph(cfg PoolConfig, opts ...Option) *ConcurrentGraph {
	return &ConcurrentGraph{
		Graph: New(opts...),
		pool:  cfg.withDefaults(),
	}
}

// Pool returns the effective pool configuration.
func (cg *ConcurrentGraph) Pool() PoolConfig { return cg.pool }

// Run dispatches all runnable nodes, waits for at least one to finish,
// reconciles every finished one and repeats until nothing is runnable or
// outstanding, or a handler aborts the run.
//
// A failure no handler claims stops new dispatches; submissions already in
// the pool are drained and then the first such error is returned. The result
// merges, in append order, the outputs of all nodes completed by this run.
func (cg *ConcurrentGraph) Run(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	st := cg.begin(ds)
	ctx = ctxlog.WithLogger(ctx, cg.logger.With("run", st.id))

	results := make(chan outcome, len(cg.Tasks()))
	var pool errgroup.Group
	pool.SetLimit(cg.pool.Workers)

	ticker := time.NewTicker(cg.pool.PollInterval)
	defer ticker.Stop()

	completed := make(map[*GraphTask]bool)
	outstanding := 0
	var failure error

	for {
		if failure == nil && !st.aborted && ctx.Err() == nil {
			res := cg.Resolve()
			for _, node := range cg.runnable(res) {
				node := node
				input := cg.dispatch(st, node, res[node], ds)
				outstanding++
				pool.Go(func() error {
					results <- node.invoke(ctx, input)
					return nil
				})
			}
		}

		if outstanding == 0 {
			break
		}

		for _, o := range cg.await(st, ticker, results) {
			outstanding--
			err := cg.settle(st, o)
			switch {
			case o.err == nil:
				completed[o.node] = true
			case err == nil:
			case failure == nil:
				failure = err
			default:
				cg.logger.Error("additional unhandled task error", "run", st.id, "task", o.node.ID(), "error", err)
			}
		}
		cg.progress(st)
	}
	_ = pool.Wait()

	if failure != nil {
		return cg.finish(st, nil, failure)
	}
	if err := ctx.Err(); err != nil {
		return cg.finish(st, nil, err)
	}
	return cg.finish(st, cg.collect(completed, ds), nil)
}

// await blocks until at least one outcome is available and then takes every
// other outcome already waiting.
func (cg *ConcurrentGraph) await(st *runState, ticker *time.Ticker, results <-chan outcome) []outcome {
	var batch []outcome
	for len(batch) == 0 {
		select {
		case o := <-results:
			batch = append(batch, o)
		case <-ticker.C:
			cg.logger.Debug("waiting for running tasks", "run", st.id)
		}
	}
	for {
		select {
		case o := <-results:
			batch = append(batch, o)
		default:
			return batch
		}
	}
}

func (cg *ConcurrentGraph) collect(completed map[*GraphTask]bool, ds *dataset.DataSet) *dataset.DataSet {
	if len(completed) == 0 {
		return ds
	}
	out := dataset.New()
	for _, node := range cg.Tasks() {
		if completed[node] {
			out.Merge(node.Output())
		}
	}
	return out
}
