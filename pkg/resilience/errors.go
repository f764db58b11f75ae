// Package resilience provides standardized error types for resilient invocation.
package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Standard failure classes all callers should match against.
var (
	// ErrCircuitOpen indicates the dependency breaker is open and the call was
	// rejected without a network attempt.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrAttemptsExhausted indicates the call failed after all configured
	// retry attempts.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
)

// CircuitOpenError carries the dependency key and the remaining cooldown for
// an open-circuit rejection.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for dependency %s, retry after %s", e.Key, e.RetryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// InvocationError wraps a terminal call failure with dependency context.
type InvocationError struct {
	Key       string // Dependency key
	Operation string // Logical operation name
	Attempts  int    // Attempts spent before giving up
	Err       error  // Underlying error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s on dependency %s failed after %d attempt(s): %v",
		e.Operation, e.Key, e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

func (e *InvocationError) Is(target error) bool {
	return target == ErrAttemptsExhausted
}

// permanentError marks a failure as a caller error: not retryable and not a
// dependency health signal.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the client fails fast: no retry, and the failure does
// not count toward the circuit breaker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError

	return errors.As(err, &pe)
}

// IsCircuitOpen reports whether err is an open-circuit rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
