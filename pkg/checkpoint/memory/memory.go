// Package memory provides an in-memory checkpoint store for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/models"
)

// Store keeps the full checkpoint history per thread in process memory.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]*models.Checkpoint
}

// NewStore creates an empty in-memory checkpoint store.
func NewStore() *Store {
	return &Store{
		threads: make(map[string][]*models.Checkpoint),
	}
}

// Save appends a new checkpoint version if expectedVersion still matches the
// thread's latest version.
func (s *Store) Save(_ context.Context, threadID string, state *models.WorkflowState, expectedVersion int64) (int64, error) {
	snapshot, err := cloneState(state)
	if err != nil {
		return 0, &checkpoint.StoreError{Op: "Save", ThreadID: threadID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.threads[threadID]

	var latest int64
	if len(history) > 0 {
		latest = history[len(history)-1].Version
	}

	if latest != expectedVersion {
		return 0, &checkpoint.StoreError{
			Op:       "Save",
			ThreadID: threadID,
			Err:      fmt.Errorf("%w: expected %d, latest is %d", checkpoint.ErrVersionConflict, expectedVersion, latest),
		}
	}

	version := latest + 1
	s.threads[threadID] = append(history, &models.Checkpoint{
		ThreadID:  threadID,
		Version:   version,
		State:     snapshot,
		CreatedAt: time.Now().UTC(),
	})

	return version, nil
}

// Load returns the highest checkpoint version for a thread.
func (s *Store) Load(_ context.Context, threadID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.threads[threadID]
	if len(history) == 0 {
		return nil, &checkpoint.StoreError{Op: "Load", ThreadID: threadID, Err: checkpoint.ErrNotFound}
	}

	latest := history[len(history)-1]

	snapshot, err := cloneState(latest.State)
	if err != nil {
		return nil, &checkpoint.StoreError{Op: "Load", ThreadID: threadID, Err: err}
	}

	return &models.Checkpoint{
		ThreadID:  latest.ThreadID,
		Version:   latest.Version,
		State:     snapshot,
		CreatedAt: latest.CreatedAt,
	}, nil
}

// Delete removes the full checkpoint history for a thread. Used only on
// explicit session termination.
func (s *Store) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, threadID)

	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close discards all stored checkpoints.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads = make(map[string][]*models.Checkpoint)

	return nil
}

// cloneState deep-copies a state through JSON so callers never alias stored
// snapshots.
func cloneState(state *models.WorkflowState) (*models.WorkflowState, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	clone := &models.WorkflowState{}
	if err := json.Unmarshal(raw, clone); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	return clone, nil
}
