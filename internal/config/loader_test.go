package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const yamlPipeline = `
graph:
  class: ConcurrentGraph
  options:
    workers: 4
    poll_interval: 20ms
    autoresolve: true
catalog:
  users:
    type: table
    path: users.csv
tasks:
  - name: load
    class: load_file
    params:
      path: in.json
      type: json
      key: raw
  - name: pick
    class: select
    params:
      keys: [raw]
    dependencies: [load]
  - class: save_file
`

const jsonPipeline = `{
  "graph": {"class": "DebugGraph", "base_dir": "/tmp/dump", "options": {"resolution": "static"}},
  "tasks": [
    {"name": "load", "class": "load_file", "params": {"path": "in.txt", "key": "raw", "limit": 3}}
  ]
}`

const hclPipeline = `
graph {
  class = "ConcurrentGraph"
  options {
    workers       = 2
    poll_interval = "5ms"
    resolution    = "static"
  }
}

catalog "users" {
  type = "table"
  path = "/data/users.csv"
}

task "load" {
  class  = "load_file"
  params = {
    path  = "in.json"
    key   = "raw"
    limit = 3
    ratio = 0.5
    tags  = ["a", "b"]
  }
}

task "pick" {
  class        = "select"
  dependencies = ["load"]
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "pipeline.yaml", yamlPipeline)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Graph.Class != "ConcurrentGraph" {
		t.Errorf("graph class = %q, want ConcurrentGraph", cfg.Graph.Class)
	}
	if cfg.Graph.Options.Workers != 4 || !cfg.Graph.Options.Autoresolve {
		t.Errorf("options = %+v", cfg.Graph.Options)
	}
	if cfg.Graph.Options.Resolution != "dynamic" {
		t.Errorf("resolution default = %q, want dynamic", cfg.Graph.Options.Resolution)
	}
	if len(cfg.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(cfg.Tasks))
	}
	if cfg.Tasks[2].Name != "task_2" {
		t.Errorf("unnamed task got %q, want task_2", cfg.Tasks[2].Name)
	}
	if got := cfg.Tasks[1].Dependencies; !reflect.DeepEqual(got, []string{"load"}) {
		t.Errorf("dependencies = %v", got)
	}
	if got := cfg.Tasks[0].Params["key"]; got != "raw" {
		t.Errorf("params[key] = %v", got)
	}

	want := filepath.Join(filepath.Dir(path), "users.csv")
	if got := cfg.Catalog["users"].Path; got != want {
		t.Errorf("catalog path = %q, want %q", got, want)
	}
}

func TestLoad_JSON(t *testing.T) {
	cfg, err := Load(writeFile(t, "pipeline.json", jsonPipeline))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Graph.BaseDir != "/tmp/dump" {
		t.Errorf("base dir = %q", cfg.Graph.BaseDir)
	}
	if cfg.Graph.Options.Resolution != "static" {
		t.Errorf("resolution = %q", cfg.Graph.Options.Resolution)
	}
	if got := cfg.Tasks[0].Params["limit"]; got != float64(3) {
		t.Errorf("params[limit] = %#v", got)
	}
}

func TestLoad_HCL(t *testing.T) {
	cfg, err := Load(writeFile(t, "pipeline.hcl", hclPipeline))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opts := cfg.Graph.Options
	if cfg.Graph.Class != "ConcurrentGraph" || opts.Workers != 2 || opts.PollInterval != "5ms" || opts.Resolution != "static" {
		t.Errorf("graph = %+v", cfg.Graph)
	}
	if got := cfg.Catalog["users"]; got.Type != "table" || got.Path != "/data/users.csv" {
		t.Errorf("catalog = %+v", got)
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(cfg.Tasks))
	}

	params := cfg.Tasks[0].Params
	want := map[string]any{
		"path":  "in.json",
		"key":   "raw",
		"limit": 3,
		"ratio": 0.5,
		"tags":  []any{"a", "b"},
	}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("params = %#v, want %#v", params, want)
	}
	if cfg.Tasks[1].Params != nil {
		t.Errorf("params without attribute = %#v, want nil", cfg.Tasks[1].Params)
	}
	if !reflect.DeepEqual(cfg.Tasks[1].Dependencies, []string{"load"}) {
		t.Errorf("dependencies = %v", cfg.Tasks[1].Dependencies)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "no tasks",
			file:    "p.yaml",
			content: "graph: {class: Graph}\n",
			wantErr: "Tasks",
		},
		{
			name:    "unknown graph class",
			file:    "p.yaml",
			content: "graph: {class: Fancy}\ntasks: [{name: a, class: x}]\n",
			wantErr: "Class",
		},
		{
			name:    "debug graph without base dir",
			file:    "p.yaml",
			content: "graph: {class: DebugGraph}\ntasks: [{name: a, class: x}]\n",
			wantErr: "BaseDir",
		},
		{
			name:    "duplicate task names",
			file:    "p.yaml",
			content: "tasks: [{name: a, class: x}, {name: a, class: y}]\n",
			wantErr: "unique",
		},
		{
			name:    "bad poll interval",
			file:    "p.json",
			content: `{"graph": {"options": {"poll_interval": "soon"}}, "tasks": [{"name": "a", "class": "x"}]}`,
			wantErr: "duration",
		},
		{
			name:    "bad resolution",
			file:    "p.json",
			content: `{"graph": {"options": {"resolution": "eager"}}, "tasks": [{"name": "a", "class": "x"}]}`,
			wantErr: "Resolution",
		},
		{
			name:    "unknown field",
			file:    "p.yaml",
			content: "tasks: [{name: a, class: x, depends: [b]}]\n",
			wantErr: "depends",
		},
		{
			name:    "malformed json",
			file:    "p.json",
			content: `{"tasks": [`,
			wantErr: "parsing",
		},
		{
			name:    "hcl syntax error",
			file:    "p.hcl",
			content: "task \"a\" {\n class = \n}\n",
			wantErr: "failed to parse HCL",
		},
		{
			name:    "hcl params not an object",
			file:    "p.hcl",
			content: "task \"a\" {\n class = \"x\"\n params = [1]\n}\n",
			wantErr: "params must be an object",
		},
		{
			name:    "unsupported extension",
			file:    "p.toml",
			content: "",
			wantErr: "unsupported config extension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
