// Package builder turns a pipeline config into a ready-to-run graph.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gammazero/toposort"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/debug"
	"github.com/aristath/taskgraph/internal/repository"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/task"
)

// Pipeline is a built graph plus the nodes it was given, by config name.
type Pipeline struct {
	Runner  scheduler.Runner
	Catalog *dataset.DataSet
	nodes   map[string]*scheduler.GraphTask
}

// Node returns the node built for the named task entry.
func (p *Pipeline) Node(name string) (*scheduler.GraphTask, bool) {
	gt, ok := p.nodes[name]
	return gt, ok
}

// Run runs the graph with an empty initial DataSet.
func (p *Pipeline) Run(ctx context.Context) (*dataset.DataSet, error) {
	return p.Runner.Run(ctx, dataset.New())
}

// named gives a task the name of its pipeline entry.
type named struct {
	task.Task
	name string
}

func (n *named) Name() string             { return n.name }
func (n *named) InputDataKeys() []string  { return task.InputKeys(n.Task) }
func (n *named) OutputDataKeys() []string { return task.OutputKeys(n.Task) }

// Build loads the catalog, creates every task through reg and appends them
// in declaration order as soon as their named dependencies are in the graph.
//
// The logger comes from ctx; opts are applied after the options derived
// from cfg.
func Build(ctx context.Context, cfg *config.PipelineConfig, reg *Registry, opts ...scheduler.Option) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)

	if err := checkOrder(cfg.Tasks); err != nil {
		return nil, err
	}

	catalog, err := LoadCatalog(ctx, cfg.Catalog)
	if err != nil {
		return nil, err
	}

	runner, err := newRunner(cfg.Graph, catalog, logger, opts)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{Runner: runner, Catalog: catalog, nodes: make(map[string]*scheduler.GraphTask, len(cfg.Tasks))}
	for len(p.nodes) < len(cfg.Tasks) {
		tc, ok := nextAppendable(cfg.Tasks, p.nodes)
		if !ok {
			return nil, &scheduler.ConfigurationError{Reason: "tasks with unresolvable dependencies remain"}
		}

		factory, ok := reg.Lookup(tc.Class)
		if !ok {
			return nil, &scheduler.ConfigurationError{
				Reason: fmt.Sprintf("task %q: unknown class %q (known: %s)", tc.Name, tc.Class, strings.Join(reg.Classes(), ", ")),
			}
		}
		t, err := factory(tc.Params)
		if err != nil {
			return nil, &scheduler.ConfigurationError{Reason: fmt.Sprintf("task %q", tc.Name), Err: err}
		}

		deps := make([]*scheduler.GraphTask, 0, len(tc.Dependencies))
		for _, d := range tc.Dependencies {
			deps = append(deps, p.nodes[d])
		}
		p.nodes[tc.Name] = runner.Append(&named{Task: t, name: tc.Name}, deps...)
		logger.Debug("task appended", "name", tc.Name, "class", tc.Class, "dependencies", tc.Dependencies)
	}

	if cfg.Graph.Options.Autoresolve {
		if err := runner.AutoresolveDependencies(); err != nil {
			return nil, err
		}
	}

	logger.Info("graph built", "class", cfg.Graph.Class, "tasks", len(cfg.Tasks), "catalog", catalog.Len())
	return p, nil
}

// checkOrder rejects unknown dependency names and cycles before anything
// is constructed.
func checkOrder(tasks []config.TaskConfig) error {
	names := make(map[string]bool, len(tasks))
	for _, tc := range tasks {
		names[tc.Name] = true
	}

	var edges []toposort.Edge
	for _, tc := range tasks {
		if len(tc.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, tc.Name})
			continue
		}
		for _, d := range tc.Dependencies {
			if d == tc.Name {
				return &scheduler.ConfigurationError{Reason: fmt.Sprintf("task %q depends on itself", tc.Name)}
			}
			if !names[d] {
				return &scheduler.ConfigurationError{
					Reason: fmt.Sprintf("task %q depends on unknown task %q", tc.Name, d),
				}
			}
			edges = append(edges, toposort.Edge{d, tc.Name})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return &scheduler.ConfigurationError{Reason: "dependency cycle", Err: err}
	}
	return nil
}

// nextAppendable returns the first task not yet appended whose dependencies
// all are.
func nextAppendable(tasks []config.TaskConfig, appended map[string]*scheduler.GraphTask) (config.TaskConfig, bool) {
	for _, tc := range tasks {
		if _, done := appended[tc.Name]; done {
			continue
		}
		ready := !slices.ContainsFunc(tc.Dependencies, func(d string) bool {
			_, ok := appended[d]
			return !ok
		})
		if ready {
			return tc, true
		}
	}
	return config.TaskConfig{}, false
}

func newRunner(gc config.GraphConfig, catalog *dataset.DataSet, logger *slog.Logger, extra []scheduler.Option) (scheduler.Runner, error) {
	mode, ok := scheduler.ParseResolutionMode(gc.Options.Resolution)
	if !ok {
		return nil, &scheduler.ConfigurationError{Reason: fmt.Sprintf("unknown resolution %q", gc.Options.Resolution)}
	}
	opts := append([]scheduler.Option{
		scheduler.WithCatalog(catalog),
		scheduler.WithResolution(mode),
		scheduler.WithLogger(logger),
	}, extra...)

	switch gc.Class {
	case "", "Graph":
		return scheduler.New(opts...), nil
	case "ConcurrentGraph":
		var poll time.Duration
		if gc.Options.PollInterval != "" {
			d, err := time.ParseDuration(gc.Options.PollInterval)
			if err != nil {
				return nil, &scheduler.ConfigurationError{Reason: "poll_interval", Err: err}
			}
			poll = d
		}
		pool := scheduler.PoolConfig{Workers: gc.Options.Workers, PollInterval: poll}
		return scheduler.NewConcurrentGraph(pool, opts...), nil
	case "DebugGraph":
		return debug.NewGraph(gc.BaseDir, scheduler.New(opts...), logger), nil
	}
	return nil, &scheduler.ConfigurationError{Reason: fmt.Sprintf("unknown graph class %q", gc.Class)}
}

// LoadCatalog reads every catalog entry from its local file, in key order.
func LoadCatalog(ctx context.Context, entries map[string]config.CatalogEntry) (*dataset.DataSet, error) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	catalog := dataset.New()
	for _, key := range keys {
		entry := entries[key]
		typ, err := dataset.ParseDataType(entry.Type)
		if err != nil {
			return nil, fmt.Errorf("catalog %q: %w", key, err)
		}
		ctor, err := dataset.ConstructorFor(typ)
		if err != nil {
			return nil, fmt.Errorf("catalog %q: %w", key, err)
		}
		d, err := repository.NewLocalFile(entry.Path).Load(ctx, ctor)
		if err != nil {
			return nil, fmt.Errorf("catalog %q: %w", key, err)
		}
		catalog.Put(key, d)
	}
	return catalog, nil
}
