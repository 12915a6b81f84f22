package config

// CatalogEntry is a DataSet entry loaded before the run and shown to every task.
type CatalogEntry struct {
	Type string `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=raw json table dataframe"` // Payload type, "raw" when empty
	Path string `json:"path" yaml:"path" validate:"required"`                                                     // Local file holding the payload
}

// TaskConfig declares one node of the pipeline.
type TaskConfig struct {
	Name         string         `json:"name" yaml:"name" validate:"required"`                                          // Unique within the pipeline
	Class        string         `json:"class" yaml:"class" validate:"required"`                                        // Key into the task registry
	Params       map[string]any `json:"params,omitempty" yaml:"params,omitempty"`                                      // Passed to the task factory
	Dependencies []string       `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive,required"` // Names of tasks this one waits for
}

// GraphOptions tunes execution.
type GraphOptions struct {
	Workers      int    `json:"workers,omitempty" yaml:"workers,omitempty" validate:"gte=0"`                                // ConcurrentGraph pool size, NumCPU when 0
	PollInterval string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty" validate:"omitempty,duration"`       // ConcurrentGraph wait granularity, e.g. "50ms"
	Resolution   string `json:"resolution,omitempty" yaml:"resolution,omitempty" validate:"omitempty,oneof=dynamic static"` // Dependency resolution mode
	Autoresolve  bool   `json:"autoresolve,omitempty" yaml:"autoresolve,omitempty"`                                         // Wire edges from declared data keys before running
}

// GraphConfig selects the graph implementation.
type GraphConfig struct {
	Class   string       `json:"class" yaml:"class" validate:"oneof=Graph ConcurrentGraph DebugGraph"`
	BaseDir string       `json:"base_dir,omitempty" yaml:"base_dir,omitempty" validate:"required_if=Class DebugGraph"` // DebugGraph dump root
	Options GraphOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// PipelineConfig is the top-level pipeline description.
type PipelineConfig struct {
	Graph   GraphConfig             `json:"graph" yaml:"graph"`
	Catalog map[string]CatalogEntry `json:"catalog,omitempty" yaml:"catalog,omitempty" validate:"dive"`
	Tasks   []TaskConfig            `json:"tasks" yaml:"tasks" validate:"required,min=1,unique=Name,dive"`
}
