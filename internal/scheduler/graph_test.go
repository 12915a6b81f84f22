package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/task"
)

func TestGraph_EmptyRunReturnsInput(t *testing.T) {
	for _, g := range []Runner{New(), NewConcurrentGraph(PoolConfig{Workers: 2})} {
		ds := dataset.New().Put("a", raw("1"))
		out, err := g.Run(context.Background(), ds)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if out != ds {
			t.Errorf("%T: empty run should return the caller's DataSet", g)
		}
	}
}

func TestGraph_StaticChain(t *testing.T) {
	tr := &trace{}
	g := New(WithResolution(StaticResolution))

	a := g.Append(producer(tr, "A", nil, "a"))
	b := g.Append(producer(tr, "B", nil, "b"), a)
	c := g.Append(producer(tr, "C", nil, "c"), b)

	out, err := g.Run(context.Background(), dataset.New().Put("seed", raw("s")))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := tr.list(); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Errorf("execution order = %v, want [A B C]", got)
	}
	// Run returns the last node's output
	if got := out.Keys(); !slices.Equal(got, []string{"c"}) {
		t.Errorf("output keys = %v, want [c]", got)
	}
	if !g.IsAllCompleted() {
		t.Error("expected all nodes completed")
	}

	if !a.Input().Has("seed") {
		t.Error("root nodes should receive the caller's DataSet")
	}
	if got := b.Input().Keys(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("B input keys = %v, want its dependency's output [a]", got)
	}
	if got := content(t, c.Input(), "b"); got != "B" {
		t.Errorf("C input b = %q, want %q", got, "B")
	}
}

func TestGraph_AppendOrderBreaksTies(t *testing.T) {
	tr := &trace{}
	g := New()
	g.Append(producer(tr, "First", nil))
	g.Append(producer(tr, "Second", nil))
	g.Append(producer(tr, "Third", nil))

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := tr.list(); !slices.Equal(got, []string{"First", "Second", "Third"}) {
		t.Errorf("execution order = %v", got)
	}
}

func TestGraph_InputMergesCatalogAndDependencies(t *testing.T) {
	catalog := dataset.New().Put("shared", raw("catalog")).Put("config", raw("catalog"))
	g := New(WithCatalog(catalog), WithResolution(StaticResolution))

	a := g.Append(producer(nil, "A", nil, "shared", "a"))
	b := g.Append(producer(nil, "B", nil, "shared", "b"))
	c := g.Append(producer(nil, "C", nil), a, b)

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	in := c.Input()
	if got := content(t, in, "config"); got != "catalog" {
		t.Errorf("config = %q, want catalog value", got)
	}
	// Earlier dependencies win over later ones and the catalog
	if got := content(t, in, "shared"); got != "A" {
		t.Errorf("shared = %q, want %q", got, "A")
	}
	if !in.Has("a") || !in.Has("b") {
		t.Errorf("input keys = %v, want both dependency outputs", in.Keys())
	}
	if got := catalog.Keys(); !slices.Equal(got, []string{"shared", "config"}) {
		t.Errorf("catalog was modified: %v", got)
	}
}

func TestGraph_ConsumerWaitsForAllProducers(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{name: "A before B", order: []string{"A", "B"}},
		{name: "B before A", order: []string{"B", "A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &trace{}
			g := New()

			// Consumer first so append order alone would pick it.
			c := g.Append(producer(tr, "C", []string{"X", "Y"}, "Z"))
			keys := map[string]string{"A": "X", "B": "Y"}
			for _, name := range tt.order {
				g.Append(producer(tr, name, nil, keys[name]))
			}

			if _, err := g.Run(context.Background(), dataset.New()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if c.Status() != StatusCompleted {
				t.Fatalf("consumer status = %v, want COMPLETED", c.Status())
			}
			if tr.index("C") < tr.index("A") || tr.index("C") < tr.index("B") {
				t.Errorf("consumer ran before a producer: %v", tr.list())
			}
			if got := content(t, c.Input(), "X"); got != "A" {
				t.Errorf("X = %q, want %q", got, "A")
			}
			if got := content(t, c.Input(), "Y"); got != "B" {
				t.Errorf("Y = %q, want %q", got, "B")
			}
			if n := len(c.Dependencies()); n != 2 {
				t.Errorf("expected 2 dynamic dependencies, got %d", n)
			}
		})
	}
}

func TestGraph_RunnableOnlyAfterProducerCompleted(t *testing.T) {
	g := New()
	a := g.Append(producer(nil, "A", nil, "X"))
	c := g.Append(producer(nil, "C", []string{"X"}))

	if got := g.RunnableTasks(); !slices.Equal(got, []*GraphTask{a}) {
		t.Errorf("RunnableTasks() = %v, want [A#0]", names(got))
	}

	if _, err := a.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := g.RunnableTasks(); !slices.Equal(got, []*GraphTask{c}) {
		t.Errorf("RunnableTasks() = %v, want [C#1]", names(got))
	}

	res := g.Resolve()
	if got := res[c]; !slices.Equal(got, []*GraphTask{a}) {
		t.Errorf("resolved deps of C = %v, want [A#0]", names(got))
	}
	if _, resolved := res[a]; resolved {
		t.Error("only INIT nodes are resolved")
	}
}

func TestGraph_AmbiguousProducerDefersConsumer(t *testing.T) {
	g := New()
	g.Append(producer(nil, "P1", nil, "X"))
	g.Append(producer(nil, "P2", nil, "X"))
	c := g.Append(producer(nil, "C", []string{"X"}))

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if c.Status() != StatusInit {
		t.Errorf("consumer status = %v, want INIT while the key is ambiguous", c.Status())
	}
	if g.IsAllCompleted() {
		t.Error("graph should not be fully completed")
	}
}

func TestGraph_AutoresolveRejectsAmbiguity(t *testing.T) {
	g := New()
	g.Append(producer(nil, "P1", nil, "X"))
	g.Append(producer(nil, "P2", nil, "X"))
	g.Append(producer(nil, "Other", nil, "Y"))
	c := g.Append(producer(nil, "C", []string{"Y", "X"}))

	err := g.AutoresolveDependencies()

	var amb *DependencyAmbiguityError
	if !errors.As(err, &amb) {
		t.Fatalf("expected *DependencyAmbiguityError, got %v", err)
	}
	if amb.Consumer != "C#3" || amb.Key != "X" {
		t.Errorf("ambiguity = %s/%s, want C#3/X", amb.Consumer, amb.Key)
	}
	if !slices.Equal(amb.Producers, []string{"P1#0", "P2#1"}) {
		t.Errorf("producers = %v", amb.Producers)
	}
	if n := len(c.StaticDependencies()); n != 0 {
		t.Errorf("nothing should be wired when resolution fails, got %d edges", n)
	}
}

func TestGraph_AutoresolveWiresStaticEdges(t *testing.T) {
	tr := &trace{}
	g := New(WithResolution(StaticResolution))
	c := g.Append(producer(tr, "C", []string{"X", "Y"}))
	a := g.Append(producer(tr, "A", nil, "X"))
	b := g.Append(producer(tr, "B", []string{"X"}, "Y"))

	if err := g.AutoresolveDependencies(); err != nil {
		t.Fatalf("AutoresolveDependencies failed: %v", err)
	}

	if got := c.StaticDependencies(); !slices.Equal(got, []*GraphTask{a, b}) {
		t.Errorf("C deps = %v, want [A#1 B#2]", names(got))
	}
	if got := b.StaticDependencies(); !slices.Equal(got, []*GraphTask{a}) {
		t.Errorf("B deps = %v, want [A#1]", names(got))
	}
	if got := a.StaticDependencies(); len(got) != 0 {
		t.Errorf("A deps = %v, want none", names(got))
	}

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := tr.list(); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Errorf("execution order = %v, want [A B C]", got)
	}
}

func TestGraph_AutoresolveMissingProducerOnlyWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	g := New(WithLogger(logger), WithCatalog(dataset.New().Put("known", raw("k"))))
	c := g.Append(producer(nil, "C", []string{"known", "unknown"}))

	if err := g.AutoresolveDependencies(); err != nil {
		t.Fatalf("missing producer should only warn, got %v", err)
	}
	if n := len(c.StaticDependencies()); n != 0 {
		t.Errorf("expected no edges, got %d", n)
	}
	logs := buf.String()
	if !strings.Contains(logs, "unresolved input key") || !strings.Contains(logs, `no task produces key \"unknown\"`) {
		t.Errorf("expected a warning about key unknown, got: %s", logs)
	}
	if strings.Contains(logs, `\"known\"`) {
		t.Errorf("catalog key should not be reported: %s", logs)
	}
}

func TestGraph_AutoresolveDetectsCycle(t *testing.T) {
	g := New()
	g.Append(producer(nil, "A", []string{"Y"}, "X"))
	g.Append(producer(nil, "B", []string{"X"}, "Y"))

	err := g.AutoresolveDependencies()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error %q should mention the cycle", err)
	}
}

func TestGraph_Validate(t *testing.T) {
	g := New()
	a := g.Append(producer(nil, "A", nil))
	b := g.Append(producer(nil, "B", nil), a)
	c := g.Append(producer(nil, "C", nil), a, b)

	order, err := g.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !slices.Equal(order, []*GraphTask{a, b, c}) {
		t.Errorf("order = %v, want [A#0 B#1 C#2]", names(order))
	}

	foreign := NewGraphTask(producer(nil, "Foreign", nil))
	g.Append(producer(nil, "D", nil), foreign)
	_, err = g.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("dependency outside the graph: expected *ConfigurationError, got %v", err)
	}
}

func TestGraph_CatalogKeySatisfiesConsumer(t *testing.T) {
	g := New(WithCatalog(dataset.New().Put("catalog_key", raw("c"))))
	c := g.Append(producer(nil, "C", []string{"catalog_key"}))

	if got := g.RunnableTasks(); !slices.Equal(got, []*GraphTask{c}) {
		t.Errorf("RunnableTasks() = %v, want [C#0]", names(got))
	}

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := content(t, c.Input(), "catalog_key"); got != "c" {
		t.Errorf("catalog_key = %q, want %q", got, "c")
	}
}

func TestGraph_HandledErrorAbortsRun(t *testing.T) {
	tr := &trace{}
	g := New(WithResolution(StaticResolution))

	a := g.Append(producer(tr, "A", nil, "a"))
	bad := g.Append(failing("Bad", &validationError{field: "name"}), a)
	g.Append(producer(tr, "Independent", nil))

	var calls int
	var gotInput *dataset.DataSet
	HandleAs(g, func(err *validationError, input *dataset.DataSet) {
		calls++
		gotInput = input
		if err.field != "name" {
			t.Errorf("handler got field %q, want %q", err.field, "name")
		}
	})

	out, err := g.Run(context.Background(), dataset.New())
	if err != nil {
		t.Fatalf("handled error should not fail the run: %v", err)
	}

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if gotInput != bad.Input() || !gotInput.Has("a") {
		t.Error("handler should receive the failed node's input")
	}
	if bad.Status() != StatusError {
		t.Errorf("Bad status = %v, want ERROR", bad.Status())
	}
	// No node starts after an abort
	if got := tr.list(); !slices.Equal(got, []string{"A"}) {
		t.Errorf("executed = %v, want [A]", got)
	}
	// The last successful output is returned
	if got := out.Keys(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("output keys = %v, want [a]", got)
	}
}

func TestGraph_UnhandledErrorIsReturnedUnmodified(t *testing.T) {
	boom := errors.New("boom")
	g := New()
	g.Append(failing("Bad", boom))

	called := false
	HandleAs(g, func(err *validationError, input *dataset.DataSet) { called = true })

	out, err := g.Run(context.Background(), dataset.New())
	if out != nil {
		t.Errorf("expected nil output, got %v", out)
	}
	if err != boom {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if called {
		t.Error("non-matching handler was called")
	}
}

func TestGraph_FirstMatchingHandlerWins(t *testing.T) {
	boom := errors.New("boom")
	g := New()
	g.Append(failing("Bad", errors.Join(errors.New("context"), boom)))

	var got []string
	g.AddErrorHandler(MatchAs[*validationError](), func(error, *dataset.DataSet) { got = append(got, "validation") })
	g.AddErrorHandler(MatchIs(boom), func(error, *dataset.DataSet) { got = append(got, "is") })
	g.AddErrorHandler(MatchAny(), func(error, *dataset.DataSet) { got = append(got, "any") })

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !slices.Equal(got, []string{"is"}) {
		t.Errorf("handlers called = %v, want [is]", got)
	}
}

func TestGraph_DynamicBranching(t *testing.T) {
	tr := &trace{}
	g := New()

	branch := &task.Func{Label: "Branch", Outputs: []string{"K1", "K2"}}
	branch.Fn = func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
		tr.add("Branch")
		branch.Outputs = []string{"K1"}
		return dataset.New().Put("K1", raw("left")), nil
	}

	g.Append(branch)
	left := g.Append(producer(tr, "Left", []string{"K1"}))
	right := g.Append(producer(tr, "Right", []string{"K2"}))

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if left.Status() != StatusCompleted {
		t.Errorf("Left status = %v, want COMPLETED", left.Status())
	}
	if right.Status() != StatusInit {
		t.Errorf("Right status = %v, want INIT", right.Status())
	}
	if got := tr.list(); !slices.Equal(got, []string{"Branch", "Left"}) {
		t.Errorf("executed = %v, want [Branch Left]", got)
	}
}

func TestGraph_ContextCancelled(t *testing.T) {
	tr := &trace{}
	g := New()
	g.Append(producer(tr, "A", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Run(ctx, dataset.New())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if got := tr.list(); len(got) != 0 {
		t.Errorf("no task should run, got %v", got)
	}
}

func TestGraph_LoggerReachesTaskBodies(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	g := New(WithLogger(logger))
	g.Append(&task.Func{
		Label: "Logs",
		Fn: func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
			ctxlog.FromContext(ctx).Info("inside task")
			return ds, nil
		},
	})

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	logs := buf.String()
	if !strings.Contains(logs, "inside task") || !strings.Contains(logs, "run=") {
		t.Errorf("task log line missing or without run id: %s", logs)
	}
}

func TestGraph_PublishesLifecycleEvents(t *testing.T) {
	bus := events.NewEventBus()
	all := bus.SubscribeAll(64)

	g := New(WithPublisher(bus))
	a := g.Append(producer(nil, "A", nil, "X"))
	g.Append(failing("Bad", &validationError{field: "x"}), a)
	HandleAs(g, func(*validationError, *dataset.DataSet) {})

	if _, err := g.Run(context.Background(), dataset.New()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	bus.Close()

	var types []string
	runIDs := map[string]bool{}
	for evt := range all {
		types = append(types, evt.EventType())
		runIDs[evt.Run()] = true
		if f, ok := evt.(events.TaskFailedEvent); ok {
			if !f.Handled || f.ID != "Bad#1" {
				t.Errorf("TaskFailedEvent = %+v, want handled failure of Bad#1", f)
			}
		}
		if f, ok := evt.(events.RunFinishedEvent); ok {
			if !f.Aborted || f.Err != nil {
				t.Errorf("RunFinishedEvent = %+v, want aborted without error", f)
			}
		}
	}

	want := []string{
		events.EventTypeRunStarted,
		events.EventTypeTaskStarted,
		events.EventTypeTaskCompleted,
		events.EventTypeGraphProgress,
		events.EventTypeTaskStarted,
		events.EventTypeTaskFailed,
		events.EventTypeGraphProgress,
		events.EventTypeRunFinished,
	}
	if !slices.Equal(types, want) {
		t.Errorf("event types = %v\nwant %v", types, want)
	}
	if len(runIDs) != 1 {
		t.Errorf("expected one run id across events, got %d", len(runIDs))
	}
}

func TestParseResolutionMode(t *testing.T) {
	tests := []struct {
		in     string
		want   ResolutionMode
		wantOK bool
	}{
		{"", DynamicResolution, true},
		{"dynamic", DynamicResolution, true},
		{"static", StaticResolution, true},
		{"eager", DynamicResolution, false},
	}
	for _, tt := range tests {
		got, ok := ParseResolutionMode(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseResolutionMode(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
