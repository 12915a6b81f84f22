// Package debug wraps a graph so every task's input and output DataSet is
// dumped to disk, and lets a single task be re-run from its dumped input.
package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aristath/taskgraph/internal/dataset"
	"github.com/aristath/taskgraph/internal/repository"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/task"
)

const manifestFile = "manifest.json"

// Graph dumps each node's input to baseDir/<task>/in and its output to
// baseDir/<task>/out. Everything else is delegated to the wrapped Runner.
type Graph struct {
	scheduler.Runner
	baseDir string
	logger  *slog.Logger
}

// NewGraph wraps inner.
func NewGraph(baseDir string, inner scheduler.Runner, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("debug graph set up", "base_dir", baseDir)
	return &Graph{Runner: inner, baseDir: baseDir, logger: logger}
}

// BaseDir returns the dump root.
func (g *Graph) BaseDir() string { return g.baseDir }

// Append adds t to the wrapped graph and installs the dump hooks.
func (g *Graph) Append(t task.Task, deps ...*scheduler.GraphTask) *scheduler.GraphTask {
	gt := g.Runner.Append(t, deps...)
	g.Instrument(gt)
	return gt
}

// Instrument installs the dump hooks on a node appended elsewhere.
func (g *Graph) Instrument(gt *scheduler.GraphTask) {
	name := gt.Name()
	gt.SetPreRunHook(func(ds *dataset.DataSet) {
		g.dump(g.dir(name, "in"), name, ds)
	})
	gt.SetPostRunHook(func(ds *dataset.DataSet) {
		g.dump(g.dir(name, "out"), name, ds)
	})
}

func (g *Graph) dir(name, phase string) string {
	return filepath.Join(g.baseDir, name, phase)
}

// Manifest describes one dumped DataSet.
type Manifest struct {
	Task    string  `json:"task"`
	Entries []Entry `json:"entries"`
}

// Entry is one dumped key.
type Entry struct {
	Key  string `json:"key"`
	Type string `json:"type"`
	File string `json:"file"`
}

func extension(t dataset.DataType) string {
	switch t {
	case dataset.TypeJSON:
		return ".json"
	case dataset.TypeTable:
		return ".csv"
	}
	return ""
}

// dump replaces dir with one file per key plus a manifest. Keys the local
// file format cannot hold are logged and left out.
func (g *Graph) dump(dir, name string, ds *dataset.DataSet) {
	ctx := context.Background()
	logger := g.logger.With("task", name, "dir", dir)

	unlock := lockDump(dir)
	defer unlock()

	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("dump failed", "error", err)
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("dump failed", "error", err)
		return
	}

	m := Manifest{Task: name}
	for _, key := range ds.Keys() {
		d, err := ds.Get(key)
		if err != nil {
			continue
		}

		file := key + extension(d.DataType())
		if file == manifestFile {
			file = "_" + file
		}
		if err := repository.NewLocalFile(filepath.Join(dir, file)).Save(ctx, d); err != nil {
			logger.Warn("dump failed", "key", key, "error", err)
			continue
		}
		m.Entries = append(m.Entries, Entry{Key: key, Type: d.DataType().String(), File: file})
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, manifestFile), b, 0644)
	}
	if err != nil {
		logger.Warn("dump failed", "error", err)
		return
	}
	logger.Debug("dataset dumped", "keys", len(m.Entries))
}

// lockDump holds a dump directory and its manifest so that dumping and
// reloading the same directory never interleave. Key files keep their own
// LocalFile locks.
func lockDump(dir string) func() {
	return repository.LockFiles(dir, filepath.Join(dir, manifestFile))
}

// LoadDump reads a dumped DataSet back. Each Data stays bound to its dump
// file.
func LoadDump(ctx context.Context, dir string) (*dataset.DataSet, error) {
	unlock := lockDump(dir)
	defer unlock()

	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	ds := dataset.New()
	for _, e := range m.Entries {
		typ, err := dataset.ParseDataType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Key, err)
		}
		ctor, err := dataset.ConstructorFor(typ)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Key, err)
		}
		d, err := repository.NewLocalFile(filepath.Join(dir, e.File)).Load(ctx, ctor)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Key, err)
		}
		ds.Put(e.Key, d)
	}
	return ds, nil
}

// ReplayTask runs gt's task body alone against the input dumped by a
// previous run. The node's own state is not touched.
func (g *Graph) ReplayTask(ctx context.Context, gt *scheduler.GraphTask) (*dataset.DataSet, error) {
	input, err := LoadDump(ctx, g.dir(gt.Name(), "in"))
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", gt.Name(), err)
	}

	res := task.Timed(ctx, gt.Task(), input)
	g.logger.Info("task replayed", "task", gt.Name(), "elapsed", res.Elapsed, "error", res.Err)
	return res.Output, res.Err
}
