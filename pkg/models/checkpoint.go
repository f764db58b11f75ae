package models

import "time"

// Checkpoint is a versioned, immutable write of a WorkflowState keyed by
// (thread id, version). The checkpoint store always serves the highest
// fully-written version for a thread.
type Checkpoint struct {
	ThreadID  string         `json:"thread_id"`
	Version   int64          `json:"version"`
	State     *WorkflowState `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}
