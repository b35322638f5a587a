package cache

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a key is absent.
var ErrNotFound = errors.New("cache: entry not found")

// BackendError wraps a failure of the storage backend. ResultCache logs it
// and degrades to a miss or no-op.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("cache backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(backend, op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}
