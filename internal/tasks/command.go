package tasks

import (
	"context"
	"fmt"

	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/process"
	"github.com/aristath/taskgraph/internal/repository"
	"github.com/aristath/taskgraph/internal/task"
)

// Command runs an external program. Stdin, when set, names the key fed to
// the program; Stdout, when set, names the key its output is stored under.
type Command struct {
	Args   []string
	Dir    string
	Stdin  string
	Stdout string
	Type   dataset.DataType

	// Processes tracks the child while it runs. Nil means process.Default.
	Processes *process.Manager
}

// NewCommand accepts params command (a list), dir, stdin, stdout and type.
func NewCommand(params map[string]any) (task.Task, error) {
	args, err := stringsParam(params, "command")
	if err != nil {
		return nil, err
	}
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("param %q must name a program", "command")
	}
	dir, err := stringParam(params, "dir", false, "")
	if err != nil {
		return nil, err
	}
	stdin, err := stringParam(params, "stdin", false, "")
	if err != nil {
		return nil, err
	}
	stdout, err := stringParam(params, "stdout", false, "")
	if err != nil {
		return nil, err
	}
	typeName, err := stringParam(params, "type", false, "raw")
	if err != nil {
		return nil, err
	}
	typ, err := dataset.ParseDataType(typeName)
	if err != nil {
		return nil, err
	}
	if _, err := dataset.ConstructorFor(typ); err != nil {
		return nil, err
	}
	return &Command{Args: args, Dir: dir, Stdin: stdin, Stdout: stdout, Type: typ}, nil
}

func (t *Command) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	var input []byte
	if t.Stdin != "" {
		d, err := ds.Get(t.Stdin)
		if err != nil {
			return nil, err
		}
		if input, err = repository.Encode(d); err != nil {
			return nil, err
		}
	}

	pm := t.Processes
	if pm == nil {
		pm = process.Default
	}
	cmd := process.Command(ctx, t.Args[0], t.Args[1:]...)
	cmd.Dir = t.Dir

	res, err := pm.Run(cmd, input)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("command finished", "program", t.Args[0], "bytes", len(res.Stdout), "elapsed", res.Elapsed)

	out := dataset.New()
	if t.Stdout == "" {
		return out, nil
	}
	ctor, err := dataset.ConstructorFor(t.Type)
	if err != nil {
		return nil, err
	}
	d, err := ctor(nil, res.Stdout)
	if err != nil {
		return nil, err
	}
	return out.Put(t.Stdout, d), nil
}

func (t *Command) InputDataKeys() []string {
	if t.Stdin == "" {
		return nil
	}
	return []string{t.Stdin}
}

func (t *Command) OutputDataKeys() []string {
	if t.Stdout == "" {
		return nil
	}
	return []string{t.Stdout}
}
