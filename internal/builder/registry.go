package builder

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aristath/taskgraph/internal/task"
)

// Factory creates a task from the params of its pipeline entry.
type Factory func(params map[string]any) (task.Task, error)

// Registry maps task class names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a class twice panics.
func (r *Registry) Register(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[class]; exists {
		panic(fmt.Sprintf("task class %q registered twice", class))
	}
	r.factories[class] = f
}

// Lookup returns the factory for class.
func (r *Registry) Lookup(class string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[class]
	return f, ok
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]string, 0, len(r.factories))
	for c := range r.factories {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	return classes
}
