package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNilFactory is returned when registering a handler without a factory.
var ErrNilFactory = errors.New("pipeline: handler factory is nil")

// ValidationError reports a malformed pipeline definition or handler config.
type ValidationError struct {
	Pipeline string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Pipeline == "" {
		return "invalid pipeline: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("invalid pipeline %q: %s", e.Pipeline, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// NotFoundError is returned when a handler or pipeline is not known.
type NotFoundError struct {
	Kind      string
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found (available: %s)", e.Kind, e.Name, strings.Join(e.Available, ", "))
}

// HandlerExecutionError wraps a failure raised while running a step.
type HandlerExecutionError struct {
	StepID   string
	Handler  string
	Attempts int
	Err      error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("step %q (%s) failed after %d attempt(s): %v", e.StepID, e.Handler, e.Attempts, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
