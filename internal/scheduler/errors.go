package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotRunnable is returned by GraphTask.Run on a node that left INIT.
var ErrNotRunnable = errors.New("task is not runnable")

// DependencyAmbiguityError is returned by AutoresolveDependencies when more
// than one node declares the key a consumer needs.
type DependencyAmbiguityError struct {
	Consumer  string
	Key       string
	Producers []string
}

func (e *DependencyAmbiguityError) Error() string {
	return fmt.Sprintf("task %s: key %q is produced by %d tasks (%s)",
		e.Consumer, e.Key, len(e.Producers), strings.Join(e.Producers, ", "))
}

// MissingProducerError describes a consumed key that neither a node nor the
// catalog provides. AutoresolveDependencies only logs it.
type MissingProducerError struct {
	Consumer string
	Key      string
}

func (e *MissingProducerError) Error() string {
	return fmt.Sprintf("task %s: no task produces key %q and the catalog does not contain it", e.Consumer, e.Key)
}

// ConfigurationError reports a graph that cannot be built or ordered:
// unknown dependency names, cycles, unknown task classes.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "invalid graph configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid graph configuration: %s: %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
