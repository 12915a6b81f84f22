package scheduler

// TaskStatus represents the current state of a graph node.
type TaskStatus int32

const (
	StatusInit      TaskStatus = iota // Waiting to be scheduled
	StatusRunning                     // Dispatched, Main in progress
	StatusCompleted                   // Finished successfully (terminal)
	StatusError                       // Finished with error (terminal)
)

func (s TaskStatus) String() string {
	switch s {
	case StatusInit:
		return "INIT"
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition can happen.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ResolutionMode selects how a Graph finds dependencies each pass.
type ResolutionMode int

const (
	// DynamicResolution infers edges every pass from declared data keys,
	// in addition to static edges.
	DynamicResolution ResolutionMode = iota
	// StaticResolution uses only the edges given to Append (or wired by
	// AutoresolveDependencies).
	StaticResolution
)

func (m ResolutionMode) String() string {
	if m == StaticResolution {
		return "static"
	}
	return "dynamic"
}

// ParseResolutionMode accepts "static" or "dynamic" (the default for "").
func ParseResolutionMode(s string) (ResolutionMode, bool) {
	switch s {
	case "", "dynamic":
		return DynamicResolution, true
	case "static":
		return StaticResolution, true
	}
	return DynamicResolution, false
}
