package config

import "fmt"

// DefaultConfig returns an empty serial pipeline with dynamic resolution.
func DefaultConfig() *PipelineConfig {
	return &PipelineConfig{
		Graph: GraphConfig{
			Class: "Graph",
			Options: GraphOptions{
				Resolution: "dynamic",
			},
		},
		Catalog: map[string]CatalogEntry{},
	}
}

// applyDefaults fills fields a file may leave out.
func applyDefaults(cfg *PipelineConfig) {
	if cfg.Graph.Class == "" {
		cfg.Graph.Class = "Graph"
	}
	if cfg.Graph.Options.Resolution == "" {
		cfg.Graph.Options.Resolution = "dynamic"
	}
	if cfg.Catalog == nil {
		cfg.Catalog = map[string]CatalogEntry{}
	}
	for i := range cfg.Tasks {
		if cfg.Tasks[i].Name == "" {
			cfg.Tasks[i].Name = fmt.Sprintf("task_%d", i)
		}
	}
}
