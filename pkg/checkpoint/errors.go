// Package checkpoint provides standardized error types for checkpoint operations.
package checkpoint

import (
	"errors"
	"fmt"
)

// Standard checkpoint error types that all backends should use.
var (
	// ErrNotFound indicates no checkpoint exists for the given thread.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrVersionConflict indicates a concurrent write was detected: the
	// thread's latest version no longer matches the caller's precondition.
	ErrVersionConflict = errors.New("checkpoint version conflict")
)

// StoreError wraps checkpoint store errors with operation context.
type StoreError struct {
	Op       string // Operation being performed (e.g., "Save", "Load")
	ThreadID string // Thread the operation targeted
	Err      error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates a missing checkpoint.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsVersionConflict checks if an error indicates a stale-write rejection.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
