package session

import (
	"errors"
	"fmt"
)

// Standard session store error types that all backends should use.
var (
	// ErrNotFound indicates no session exists for the given id.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists indicates a session with the same id already exists.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrSessionEnded indicates an update was attempted on an ended session.
	ErrSessionEnded = errors.New("session ended")
)

// StoreError wraps session store errors with operation context.
type StoreError struct {
	Op        string // Operation being performed
	SessionID string // Session the operation targeted
	Err       error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates a missing session.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSessionEnded checks if an error indicates a write to an ended session.
func IsSessionEnded(err error) bool {
	return errors.Is(err, ErrSessionEnded)
}
