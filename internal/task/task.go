// Package task defines the unit of work a graph schedules.
//
// A Task only has to implement Main. Tasks that take part in dynamic
// dependency resolution also implement InputDeclarer and/or OutputDeclarer;
// a task without them has no declared dependency surface.
package task

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/aristath/taskgraph/internal/dataset"
)

// Task transforms one DataSet into another.
type Task interface {
	Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error)
}

// InputDeclarer is implemented by tasks that consume named data keys.
type InputDeclarer interface {
	InputDataKeys() []string
}

// OutputDeclarer is implemented by tasks that produce named data keys.
// The result may change after Main has run.
type OutputDeclarer interface {
	OutputDataKeys() []string
}

// Named overrides the name derived from the task's Go type.
type Named interface {
	Name() string
}

// InputKeys returns the keys t declares it consumes, or nil.
func InputKeys(t Task) []string {
	if d, ok := t.(InputDeclarer); ok {
		return d.InputDataKeys()
	}
	return nil
}

// OutputKeys returns the keys t declares it produces, or nil.
func OutputKeys(t Task) []string {
	if d, ok := t.(OutputDeclarer); ok {
		return d.OutputDataKeys()
	}
	return nil
}

// Name returns t's Name() if it has one, otherwise its type name.
func Name(t Task) string {
	if n, ok := t.(Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}

	typ := reflect.TypeOf(t)
	if typ == nil {
		return "<nil>"
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Name() == "" {
		return typ.String()
	}
	return typ.Name()
}

// Func adapts a function and its declared keys into a Task.
type Func struct {
	Label   string
	Inputs  []string
	Outputs []string
	Fn      func(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error)
}

func (f *Func) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	return f.Fn(ctx, ds)
}

func (f *Func) InputDataKeys() []string  { return f.Inputs }
func (f *Func) OutputDataKeys() []string { return f.Outputs }
func (f *Func) Name() string             { return f.Label }

// PanicError is returned by Timed when Main panics.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

// Result is the outcome of one timed Main invocation.
type Result struct {
	Output  *dataset.DataSet
	Elapsed time.Duration
	Err     error
}

// Timed runs t.Main and records its wall-clock duration.
func Timed(ctx context.Context, t Task, ds *dataset.DataSet) (res Result) {
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			res.Output = nil
			res.Err = &PanicError{Task: Name(t), Value: r, Stack: debug.Stack()}
		}
	}()

	res.Output, res.Err = t.Main(ctx, ds)
	return res
}
