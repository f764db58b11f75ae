package orchestrator

import (
	"errors"
	"fmt"
)

// ErrConversationBusy signals that another turn for the same thread is
// already executing.
var ErrConversationBusy = errors.New("conversation is busy")

// ConcurrentExecutionError rejects the second of two overlapping turns for
// one thread. Turns are serialized per thread, never interleaved.
type ConcurrentExecutionError struct {
	ThreadID string
}

func (e *ConcurrentExecutionError) Error() string {
	return fmt.Sprintf("a turn for thread %s is already being processed", e.ThreadID)
}

func (e *ConcurrentExecutionError) Is(target error) bool {
	return target == ErrConversationBusy
}

// IsConversationBusy checks if an error is a rejected concurrent turn.
func IsConversationBusy(err error) bool {
	return errors.Is(err, ErrConversationBusy)
}
