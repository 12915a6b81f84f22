// Package tasks provides the task classes pipeline files can name.
package tasks

import (
	"context"
	"fmt"

	"github.com/aristath/taskgraph/internal/builder"
	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/repository"
	"github.com/aristath/taskgraph/internal/task"
)

// Register adds every built-in class to reg.
func Register(reg *builder.Registry) {
	reg.Register("load_file", NewLoadFile)
	reg.Register("save_file", NewSaveFile)
	reg.Register("select", NewSelect)
	reg.Register("save_sqlite", NewSaveSQLite)
	reg.Register("save_badger", NewSaveBadger)
	reg.Register("save_object", NewSaveObject)
	reg.Register("command", NewCommand)
}

// Builtins returns a registry holding the built-in classes.
func Builtins() *builder.Registry {
	reg := builder.NewRegistry()
	Register(reg)
	return reg
}

// LoadFile reads one local file into Key.
type LoadFile struct {
	Path string
	Key  string
	Type dataset.DataType
}

// NewLoadFile accepts params path, key and type (raw, json or table).
func NewLoadFile(params map[string]any) (task.Task, error) {
	path, err := stringParam(params, "path", true, "")
	if err != nil {
		return nil, err
	}
	key, err := stringParam(params, "key", true, "")
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
	return &LoadFile{Path: path, Key: key, Type: typ}, nil
}

func (t *LoadFile) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	ctor, err := dataset.ConstructorFor(t.Type)
	if err != nil {
		return nil, err
	}
	d, err := repository.NewLocalFile(t.Path).Load(ctx, ctor)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("file loaded", "path", t.Path, "key", t.Key, "type", t.Type)
	return dataset.New().Put(t.Key, d), nil
}

func (t *LoadFile) OutputDataKeys() []string { return []string{t.Key} }

// SaveFile writes Key to a local file. It produces no data.
type SaveFile struct {
	Path string
	Key  string
}

// NewSaveFile accepts params key and path.
func NewSaveFile(params map[string]any) (task.Task, error) {
	key, err := stringParam(params, "key", true, "")
	if err != nil {
		return nil, err
	}
	path, err := stringParam(params, "path", true, "")
	if err != nil {
		return nil, err
	}
	return &SaveFile{Path: path, Key: key}, nil
}

func (t *SaveFile) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	d, err := ds.Get(t.Key)
	if err != nil {
		return nil, err
	}
	if err := repository.NewLocalFile(t.Path).Save(ctx, d); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("file saved", "path", t.Path, "key", t.Key)
	return dataset.New(), nil
}

func (t *SaveFile) InputDataKeys() []string { return []string{t.Key} }

// Select passes a subset of its input through.
type Select struct {
	Keys []string
}

// NewSelect accepts param keys.
func NewSelect(params map[string]any) (task.Task, error) {
	keys, err := stringsParam(params, "keys")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("param %q must not be empty", "keys")
	}
	return &Select{Keys: keys}, nil
}

func (t *Select) Main(ctx context.Context, ds *dataset.DataSet) (*dataset.DataSet, error) {
	out := dataset.New()
	for _, k := range t.Keys {
		d, err := ds.Get(k)
		if err != nil {
			return nil, err
		}
		out.Put(k, d)
	}
	return out, nil
}

func (t *Select) InputDataKeys() []string  { return t.Keys }
func (t *Select) OutputDataKeys() []string { return t.Keys }
