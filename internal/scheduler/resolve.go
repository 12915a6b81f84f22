package scheduler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/taskgraph/internal/task"
)

// Resolution maps every node that can be scheduled this pass to the dynamic
// dependencies found for it. Nodes missing from the map are deferred.
type Resolution map[*GraphTask][]*GraphTask

// Resolve computes the current pass's resolution.
//
// In static mode every INIT node resolves with no dynamic dependencies.
// In dynamic mode each declared input key outside the catalog must be
// produced by exactly one COMPLETED node, judged by that node's current
// output keys. A key with no producer yet, or with several, defers the node
// until a later pass.
func (g *Graph) Resolve() Resolution {
	nodes := g.Tasks()
	res := make(Resolution, len(nodes))

	for _, node := range nodes {
		if node.Status() != StatusInit {
			continue
		}
		if g.mode == StaticResolution {
			res[node] = nil
			continue
		}
		if deps, ok := g.resolveNode(node, nodes); ok {
			res[node] = deps
		}
	}
	return res
}

func (g *Graph) resolveNode(node *GraphTask, nodes []*GraphTask) ([]*GraphTask, bool) {
	var deps []*GraphTask
	for _, key := range task.InputKeys(node.Task()) {
		if g.catalog.Has(key) {
			continue
		}

		var producers []*GraphTask
		for _, other := range nodes {
			if other == node || other.Status() != StatusCompleted {
				continue
			}
			if slices.Contains(task.OutputKeys(other.Task()), key) {
				producers = append(producers, other)
			}
		}
		if len(producers) != 1 {
			return nil, false
		}
		if !containsTask(deps, producers[0]) {
			deps = append(deps, producers[0])
		}
	}
	return deps, true
}

// RunnableTasks returns the nodes the current pass would start, in append
// order.
func (g *Graph) RunnableTasks() []*GraphTask {
	return g.runnable(g.Resolve())
}

func (g *Graph) runnable(res Resolution) []*GraphTask {
	var out []*GraphTask
	for _, node := range g.Tasks() {
		deps, ok := res[node]
		if !ok || !node.IsRunnable() {
			continue
		}
		ready := true
		for _, d := range deps {
			if d.Status() != StatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, node)
		}
	}
	return out
}

// AutoresolveDependencies wires static edges from declared data keys, looking
// at every node regardless of status. A key produced by several nodes is a
// *DependencyAmbiguityError and nothing is wired. A key nobody produces and
// the catalog lacks is only logged. The resulting graph must be acyclic.
func (g *Graph) AutoresolveDependencies() error {
	nodes := g.Tasks()

	type edge struct{ consumer, producer *GraphTask }
	var edges []edge

	for _, node := range nodes {
		for _, key := range task.InputKeys(node.Task()) {
			if g.catalog.Has(key) {
				continue
			}

			var producers []*GraphTask
			for _, other := range nodes {
				if other == node {
					continue
				}
				if slices.Contains(task.OutputKeys(other.Task()), key) {
					producers = append(producers, other)
				}
			}

			switch len(producers) {
			case 0:
				g.logger.Warn("unresolved input key", "error", &MissingProducerError{Consumer: node.ID(), Key: key})
			case 1:
				edges = append(edges, edge{consumer: node, producer: producers[0]})
			default:
				ids := make([]string, len(producers))
				for i, p := range producers {
					ids[i] = p.ID()
				}
				return &DependencyAmbiguityError{Consumer: node.ID(), Key: key, Producers: ids}
			}
		}
	}

	for _, e := range edges {
		e.consumer.addStatic(e.producer)
		g.logger.Debug("dependency wired", "consumer", e.consumer.ID(), "producer", e.producer.ID())
	}

	_, err := g.Validate()
	return err
}

// Validate returns the nodes in a topological order of their static edges,
// or a *ConfigurationError if the edges contain a cycle or point outside
// the graph.
func (g *Graph) Validate() ([]*GraphTask, error) {
	nodes := g.Tasks()
	byID := make(map[string]*GraphTask, len(nodes))
	for _, n := range nodes {
		byID[n.ID()] = n
	}

	var edges []toposort.Edge
	for _, n := range nodes {
		deps := n.StaticDependencies()
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, n.ID()})
			continue
		}
		for _, d := range deps {
			if byID[d.ID()] != d {
				return nil, &ConfigurationError{
					Reason: fmt.Sprintf("task %s depends on %s which is not part of the graph", n.ID(), d.ID()),
				}
			}
			edges = append(edges, toposort.Edge{d.ID(), n.ID()})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &ConfigurationError{Reason: "dependency cycle", Err: err}
	}

	order := make([]*GraphTask, 0, len(nodes))
	for _, id := range sorted {
		if id != nil {
			order = append(order, byID[id.(string)])
		}
	}
	if len(order) != len(nodes) {
		var missing []string
		for _, n := range nodes {
			if !slices.Contains(order, n) {
				missing = append(missing, n.ID())
			}
		}
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", ")),
		}
	}
	return order, nil
}
