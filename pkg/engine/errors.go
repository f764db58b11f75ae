package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrThreadTerminal is returned when a turn arrives for a conversation
	// that has already reached DONE, CANCELLED or FAILED.
	ErrThreadTerminal = errors.New("conversation has already completed")

	// ErrClassifierUnavailable is returned when the understanding service is
	// down and no fallback classification is registered. The checkpoint never
	// advances past CLASSIFYING in that case.
	ErrClassifierUnavailable = errors.New("understanding service is temporarily unavailable")
)

// ValidationError reports a malformed turn. No checkpoint is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid turn: %s %s", e.Field, e.Reason)
}

// IsValidation checks if the error is a turn validation failure.
func IsValidation(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}

// ExecutionError wraps a failure inside one Execute call with the thread it
// belongs to and the stage it happened in.
type ExecutionError struct {
	ThreadID string
	Stage    string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for thread %s at stage %s: %v", e.ThreadID, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
