// Package tools provides standardized error types for tool invocation.
package tools

import (
	"errors"
	"fmt"
)

// Standard tool error types.
var (
	// ErrToolNotRegistered indicates no tool with the given name exists.
	ErrToolNotRegistered = errors.New("tool not registered")

	// ErrInvalidArgs indicates the arguments failed schema validation.
	ErrInvalidArgs = errors.New("invalid tool arguments")

	// ErrInvocationFailed indicates the tool call terminally failed after
	// retries with no fallback.
	ErrInvocationFailed = errors.New("tool invocation failed")
)

// InvocationError wraps a terminal tool failure with context.
type InvocationError struct {
	ToolName string
	CallID   string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %s (call %s) failed: %v", e.ToolName, e.CallID, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

func (e *InvocationError) Is(target error) bool {
	return target == ErrInvocationFailed
}

// IsInvalidArgs checks if an error indicates schema-invalid arguments.
func IsInvalidArgs(err error) bool {
	return errors.Is(err, ErrInvalidArgs)
}
