package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/task"
)

// gated blocks in Main until release is closed, after signalling started.
func gated(name string, started chan<- string, release <-chan struct{}, outputs ...string) *task.Func {
	return &task.Func{
		Label:   name,
		Outputs: outputs,
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			started <- name
			<-release
			out := dataset.New()
			for _, k := range outputs {
				out.Put(k, raw(name))
			}
			return out, nil
		},
	}
}

func TestPoolConfig_Defaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  PoolConfig
		want PoolConfig
	}{
		{name: "zero value", cfg: PoolConfig{}, want: PoolConfig{Workers: runtime.NumCPU(), PollInterval: DefaultPollInterval}},
		{name: "explicit", cfg: PoolConfig{Workers: 3, PollInterval: time.Second}, want: PoolConfig{Workers: 3, PollInterval: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewConcurrentGraph(tt.cfg).Pool(); got != tt.want {
				t.Errorf("Pool() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConcurrentGraph_IndependentNodesRunTogether(t *testing.T) {
	const n = 4
	started := make(chan string, n)
	release := make(chan struct{})

	cg := NewConcurrentGraph(PoolConfig{Workers: n, PollInterval: 5 * time.Millisecond})
	var nodes []*GraphTask
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("N%d", i)
		nodes = append(nodes, cg.Append(gated(name, started, release, "key"+name)))
	}

	type result struct {
		ds  *dataset.DataSet
		err error
	}
	done := make(chan result, 1)
	go func() {
		ds, err := cg.Run(context.Background(), dataset.New())
		done <- result{ds, err}
	}()

	for i := 0; i < n; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d tasks started concurrently", i, n)
		}
	}
	for _, node := range nodes {
		if node.Status() != StatusRunning {
			t.Errorf("%s status = %v, want RUNNING", node.ID(), node.Status())
		}
	}
	close(release)

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
	if res.err != nil {
		t.Fatalf("Run failed: %v", res.err)
	}
	keys := res.ds.Keys()
	slices.Sort(keys)
	if want := []string{"keyN0", "keyN1", "keyN2", "keyN3"}; !slices.Equal(keys, want) {
		t.Errorf("output keys = %v, want %v", keys, want)
	}
	if !cg.IsAllCompleted() {
		t.Error("expected all nodes completed")
	}
}

func TestConcurrentGraph_RespectsDependencies(t *testing.T) {
	tr := &trace{}
	cg := NewConcurrentGraph(PoolConfig{Workers: 4, PollInterval: time.Millisecond})

	c := cg.Append(producer(tr, "C", []string{"X", "Y"}, "Z"))
	cg.Append(producer(tr, "A", nil, "X"))
	cg.Append(producer(tr, "B", []string{"X"}, "Y"))

	out, err := cg.Run(context.Background(), dataset.New())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := tr.list(); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Errorf("execution order = %v, want [A B C]", got)
	}
	if got := content(t, c.Input(), "X"); got != "A" {
		t.Errorf("X = %q, want %q", got, "A")
	}
	if got := content(t, c.Input(), "Y"); got != "B" {
		t.Errorf("Y = %q, want %q", got, "B")
	}
	keys := out.Keys()
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"X", "Y", "Z"}) {
		t.Errorf("output keys = %v, want [X Y Z]", keys)
	}
}

func TestConcurrentGraph_WorkerLimit(t *testing.T) {
	var running, peak atomic.Int32
	cg := NewConcurrentGraph(PoolConfig{Workers: 2, PollInterval: time.Millisecond})
	for i := 0; i < 6; i++ {
		cg.Append(&task.Func{
			Label: fmt.Sprintf("W%d", i),
			Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
				cur := running.Add(1)
				for {
					p := peak.Load()
					if cur <= p || peak.CompareAndSwap(p, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return dataset.New(), nil
			},
		})
	}

	if _, err := cg.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
	if !cg.IsAllCompleted() {
		t.Error("expected all nodes completed")
	}
}

func TestConcurrentGraph_UnhandledErrorDrainsOutstanding(t *testing.T) {
	boom := errors.New("boom")
	started := make(chan string, 1)
	release := make(chan struct{})

	cg := NewConcurrentGraph(PoolConfig{Workers: 2, PollInterval: time.Millisecond})
	slow := cg.Append(gated("Slow", started, release, "slow"))
	bad := cg.Append(&task.Func{
		Label: "Bad",
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			<-started
			defer close(release)
			return nil, boom
		},
	})
	after := cg.Append(producer(nil, "After", []string{"slow"}))

	out, err := cg.Run(context.Background(), dataset.New())
	if out != nil {
		t.Errorf("expected nil output, got %v", out)
	}
	if err != boom {
		t.Errorf("err = %v, want %v", err, boom)
	}

	if bad.Status() != StatusError {
		t.Errorf("Bad status = %v, want ERROR", bad.Status())
	}
	// Outstanding work is drained before returning
	if slow.Status() != StatusCompleted {
		t.Errorf("Slow status = %v, want COMPLETED", slow.Status())
	}
	// Nothing new starts after an unhandled failure
	if after.Status() != StatusInit {
		t.Errorf("After status = %v, want INIT", after.Status())
	}
}

// TestConcurrentGraph_HandledErrorStopsNewDispatches checks that a handled
// failure lets in-flight work finish but schedules nothing that only becomes
// runnable afterwards.
func TestConcurrentGraph_HandledErrorStopsNewDispatches(t *testing.T) {
	handled := make(chan struct{})
	cg := NewConcurrentGraph(PoolConfig{Workers: 2, PollInterval: time.Millisecond})

	// Slow finishes only once the failure has been handled, so Late would be
	// runnable on the very next pass.
	slow := cg.Append(&task.Func{
		Label:   "Slow",
		Outputs: []string{"s"},
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			<-handled
			return dataset.New().Put("s", raw("slow")), nil
		},
	})
	bad := cg.Append(failing("Bad", &validationError{field: "f"}))
	late := cg.Append(producer(nil, "Late", []string{"s"}, "l"))

	var calls atomic.Int32
	HandleAs(cg, func(err *validationError, input *dataset.DataSet) {
		if calls.Add(1) == 1 {
			close(handled)
		}
	})

	done := make(chan struct{})
	var out *dataset.DataSet
	var err error
	go func() {
		defer close(done)
		out, err = cg.Run(context.Background(), dataset.New())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
	if err != nil {
		t.Fatalf("handled error should not fail the run: %v", err)
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
	if bad.Status() != StatusError {
		t.Errorf("Bad status = %v, want ERROR", bad.Status())
	}
	if slow.Status() != StatusCompleted {
		t.Errorf("Slow status = %v, want COMPLETED (in-flight work drains)", slow.Status())
	}
	if late.Status() != StatusInit {
		t.Errorf("Late status = %v, want INIT after abort", late.Status())
	}
	if got := out.Keys(); !slices.Equal(got, []string{"s"}) {
		t.Errorf("output keys = %v, want [s]", got)
	}
}

func TestConcurrentGraph_ContextCancelled(t *testing.T) {
	cg := NewConcurrentGraph(PoolConfig{Workers: 1})
	node := cg.Append(producer(nil, "A", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cg.Run(ctx, dataset.New())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if node.Status() != StatusInit {
		t.Errorf("status = %v, want INIT", node.Status())
	}
}
