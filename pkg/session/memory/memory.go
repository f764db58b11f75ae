// Package memory provides an in-memory session store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/session"
)

// Store keeps sessions in process memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewStore creates an empty in-memory session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
	}
}

// Create inserts a new session.
func (s *Store) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return &session.StoreError{Op: "Create", SessionID: sess.ID, Err: session.ErrAlreadyExists}
	}

	s.sessions[sess.ID] = clone(sess)

	return nil
}

// Get returns the session with the given id.
func (s *Store) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, &session.StoreError{Op: "Get", SessionID: id, Err: session.ErrNotFound}
	}

	return clone(sess), nil
}

// List returns sessions matching the filter, most recently updated first.
func (s *Store) List(_ context.Context, filter session.ListFilter) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Session, 0)

	for _, sess := range s.sessions {
		if filter.UserID != "" && sess.UserID != filter.UserID {
			continue
		}

		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}

		result = append(result, clone(sess))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	return result, nil
}

// Update replaces a stored session. Ended sessions reject further writes.
func (s *Store) Update(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sess.ID]
	if !ok {
		return &session.StoreError{Op: "Update", SessionID: sess.ID, Err: session.ErrNotFound}
	}

	if existing.Ended() && sess.Status != models.SessionStatusEnded {
		return &session.StoreError{Op: "Update", SessionID: sess.ID, Err: session.ErrSessionEnded}
	}

	updated := clone(sess)
	updated.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = updated

	return nil
}

// UpdateStatus changes only the session status.
func (s *Store) UpdateStatus(_ context.Context, id string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return &session.StoreError{Op: "UpdateStatus", SessionID: id, Err: session.ErrNotFound}
	}

	if sess.Ended() {
		return &session.StoreError{
			Op:        "UpdateStatus",
			SessionID: id,
			Err:       fmt.Errorf("%w: cannot change status", session.ErrSessionEnded),
		}
	}

	sess.Status = status
	sess.UpdatedAt = time.Now().UTC()

	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close discards all stored sessions.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*models.Session)

	return nil
}

func clone(sess *models.Session) *models.Session {
	copied := *sess
	copied.IntentHistory = append([]string(nil), sess.IntentHistory...)

	return &copied
}
