package models

import "time"

// SessionStatus represents the lifecycle state of an audit session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusResolved SessionStatus = "resolved" // Conversation reached a terminal stage
	SessionStatusEnded    SessionStatus = "ended"    // Explicitly terminated; no further turns accepted
)

// Session is the append-mostly audit record for one conversation. It is owned
// by the orchestration facade and never consulted for control-flow decisions.
// Its lifecycle is independent from the thread's checkpoints: ending a session
// stops new turns but does not invalidate checkpoints already written.
type Session struct {
	ID            string        `json:"id"` // Equal to the thread id
	UserID        string        `json:"user_id"`
	Status        SessionStatus `json:"status"`
	IntentHistory []string      `json:"intent_history"`
	TurnCount     int           `json:"turn_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewSession creates an active session for a thread.
func NewSession(threadID, userID string) *Session {
	now := time.Now().UTC()

	return &Session{
		ID:            threadID,
		UserID:        userID,
		Status:        SessionStatusActive,
		IntentHistory: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RecordIntent appends an intent to the history when it differs from the last
// recorded one.
func (s *Session) RecordIntent(intent string) {
	if intent == "" {
		return
	}

	if n := len(s.IntentHistory); n > 0 && s.IntentHistory[n-1] == intent {
		return
	}

	s.IntentHistory = append(s.IntentHistory, intent)
}

// Ended reports whether the session no longer accepts turns.
func (s *Session) Ended() bool {
	return s.Status == SessionStatusEnded
}
