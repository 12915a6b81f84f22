package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/task"
)

func raw(s string) dataset.Data { return dataset.NewRaw([]byte(s), nil) }

func content(t *testing.T, ds *dataset.DataSet, key string) string {
	t.Helper()
	d, err := ds.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return string(d.Content().([]byte))
}

// trace records the order tasks ran in.
type trace struct {
	mu    sync.Mutex
	names []string
}

func (tr *trace) add(name string) {
	tr.mu.Lock()
	tr.names = append(tr.names, name)
	tr.mu.Unlock()
}

func (tr *trace) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.names...)
}

func (tr *trace) index(name string) int {
	for i, n := range tr.list() {
		if n == name {
			return i
		}
	}
	return -1
}

// names renders nodes by ID for failure messages.
func names(nodes []*GraphTask) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	return out
}

// producer emits each output key with its own name as content.
func producer(tr *trace, name string, inputs []string, outputs ...string) *task.Func {
	return &task.Func{
		Label:   name,
		Inputs:  inputs,
		Outputs: outputs,
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			if tr != nil {
				tr.add(name)
			}
			out := dataset.New()
			for _, k := range outputs {
				out.Put(k, raw(name))
			}
			return out, nil
		},
	}
}

// failing returns err from Main.
func failing(name string, err error) *task.Func {
	return &task.Func{
		Label: name,
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			return nil, err
		},
	}
}

type validationError struct{ field string }

func (e *validationError) Error() string { return "invalid " + e.field }
