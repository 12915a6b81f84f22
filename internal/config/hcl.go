package config

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclPipelineFile is the HCL spelling of PipelineConfig:
//
//	graph {
//	  class = "ConcurrentGraph"
//	  options {
//	    workers = 4
//	  }
//	}
//	catalog "users" {
//	  type = "table"
//	  path = "users.csv"
//	}
//	task "load" {
//	  class  = "load_file"
//	  params = { path = "in.csv", key = "rows" }
//	}
type hclPipelineFile struct {
	Graph   *hclGraph     `hcl:"graph,block"`
	Catalog []*hclCatalog `hcl:"catalog,block"`
	Tasks   []*hclTask    `hcl:"task,block"`
}

type hclGraph struct {
	Class   string      `hcl:"class,optional"`
	BaseDir string      `hcl:"base_dir,optional"`
	Options *hclOptions `hcl:"options,block"`
}

type hclOptions struct {
	Workers      int    `hcl:"workers,optional"`
	PollInterval string `hcl:"poll_interval,optional"`
	Resolution   string `hcl:"resolution,optional"`
	Autoresolve  bool   `hcl:"autoresolve,optional"`
}

type hclCatalog struct {
	Key  string `hcl:"key,label"`
	Type string `hcl:"type,optional"`
	Path string `hcl:"path"`
}

type hclTask struct {
	Name         string    `hcl:"name,label"`
	Class        string    `hcl:"class"`
	Params       cty.Value `hcl:"params,optional"`
	Dependencies []string  `hcl:"dependencies,optional"`
}

func decodeHCL(data []byte, filename string, cfg *PipelineConfig) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var parsed hclPipelineFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	if g := parsed.Graph; g != nil {
		if g.Class != "" {
			cfg.Graph.Class = g.Class
		}
		cfg.Graph.BaseDir = g.BaseDir
		if o := g.Options; o != nil {
			cfg.Graph.Options.Workers = o.Workers
			cfg.Graph.Options.PollInterval = o.PollInterval
			if o.Resolution != "" {
				cfg.Graph.Options.Resolution = o.Resolution
			}
			cfg.Graph.Options.Autoresolve = o.Autoresolve
		}
	}

	for _, c := range parsed.Catalog {
		cfg.Catalog[c.Key] = CatalogEntry{Type: c.Type, Path: c.Path}
	}

	for _, t := range parsed.Tasks {
		tc := TaskConfig{Name: t.Name, Class: t.Class, Dependencies: t.Dependencies}
		if !t.Params.IsNull() {
			params, ok := fromCty(t.Params).(map[string]any)
			if !ok {
				return fmt.Errorf("%s: task %q: params must be an object", filename, t.Name)
			}
			tc.Params = params
		}
		cfg.Tasks = append(cfg.Tasks, tc)
	}
	return nil
}

// fromCty converts a known cty value into the plain Go values YAML and JSON
// decoding produce.
func fromCty(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}

	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString()
	case t == cty.Bool:
		return v.True()
	case t == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i)
			}
		}
		f, _ := bf.Float64()
		return f
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = fromCty(ev)
		}
		return out
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, fromCty(ev))
		}
		return out
	}
	return nil
}
