package scheduler

import (
	"errors"

	"github.com/aristath/taskgraph/internal/dataset"
)

// Matcher decides whether a handler applies to a task error.
type Matcher func(err error) bool

// ErrorHandler receives a task error and the input of the failed node.
type ErrorHandler func(err error, input *dataset.DataSet)

type errorHandler struct {
	match Matcher
	fn    ErrorHandler
}

// MatchAs matches errors whose chain contains an E (errors.As).
func MatchAs[E error]() Matcher {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// MatchIs matches errors whose chain contains target (errors.Is).
func MatchIs(target error) Matcher {
	return func(err error) bool {
		return errors.Is(err, target)
	}
}

// MatchAny matches every error.
func MatchAny() Matcher {
	return func(error) bool { return true }
}

// HandleAs registers fn on g for errors whose chain contains an E, passing
// the typed error.
func HandleAs[E error](g handlerRegistry, fn func(err E, input *dataset.DataSet)) {
	g.AddErrorHandler(MatchAs[E](), func(err error, input *dataset.DataSet) {
		var target E
		errors.As(err, &target)
		fn(target, input)
	})
}

type handlerRegistry interface {
	AddErrorHandler(match Matcher, fn ErrorHandler)
}
