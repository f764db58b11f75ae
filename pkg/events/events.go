// Package events defines the conversation lifecycle notifications published
// for audit. Events never drive control flow; the checkpoint store does.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

type EventType string

// Topic is the single audit stream for conversation lifecycle events.
const Topic = "parley.conversation.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Per-turn events.
	TurnReceivedEvent  EventType = "turn.received"
	TurnCompletedEvent EventType = "turn.completed"

	// Conversation lifecycle events.
	ConversationPausedEvent    EventType = "conversation.paused"
	ConversationResumedEvent   EventType = "conversation.resumed"
	ConversationCompletedEvent EventType = "conversation.completed"
	ConversationCancelledEvent EventType = "conversation.cancelled"
	ConversationFailedEvent    EventType = "conversation.failed"

	// Session administration events.
	SessionEndedEvent EventType = "session.ended"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ThreadID  string         `json:"thread_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, threadID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ThreadID:  threadID,
		Metadata:  make(map[string]any),
	}
}

type TurnReceived struct {
	BaseEvent

	UserID     string `json:"user_id"`
	TurnNumber int    `json:"turn_number"`
}

func (t TurnReceived) GetType() EventType {
	return TurnReceivedEvent
}

type TurnCompleted struct {
	BaseEvent

	UserID          string       `json:"user_id"`
	Stage           models.Stage `json:"stage"`
	Intent          string       `json:"intent,omitempty"`
	NeedsHumanInput bool         `json:"needs_human_input"`
	Degraded        bool         `json:"degraded"`
	Version         int64        `json:"version"`
	DurationMs      int64        `json:"duration_ms"`
}

func (t TurnCompleted) GetType() EventType {
	return TurnCompletedEvent
}

// ConversationPaused is published whenever a turn halts waiting for the user:
// a clarification question, a confirmation question, or a retry prompt.
type ConversationPaused struct {
	BaseEvent

	Stage  models.Stage `json:"stage"`
	Intent string       `json:"intent,omitempty"`
}

func (c ConversationPaused) GetType() EventType {
	return ConversationPausedEvent
}

// ConversationResumed is published when a turn picks a paused thread back up.
type ConversationResumed struct {
	BaseEvent

	Stage  models.Stage `json:"stage"`
	Intent string       `json:"intent,omitempty"`
}

func (c ConversationResumed) GetType() EventType {
	return ConversationResumedEvent
}

type ConversationCompleted struct {
	BaseEvent

	Intent        string `json:"intent,omitempty"`
	TurnsConsumed int    `json:"turns_consumed"`
	Degraded      bool   `json:"degraded"`
}

func (c ConversationCompleted) GetType() EventType {
	return ConversationCompletedEvent
}

type ConversationCancelled struct {
	BaseEvent

	Intent        string `json:"intent,omitempty"`
	TurnsConsumed int    `json:"turns_consumed"`
}

func (c ConversationCancelled) GetType() EventType {
	return ConversationCancelledEvent
}

type ConversationFailed struct {
	BaseEvent

	Intent        string `json:"intent,omitempty"`
	TurnsConsumed int    `json:"turns_consumed"`
}

func (c ConversationFailed) GetType() EventType {
	return ConversationFailedEvent
}

type SessionEnded struct {
	BaseEvent

	UserID    string `json:"user_id"`
	TurnCount int    `json:"turn_count"`
	EndedBy   string `json:"ended_by,omitempty"`
}

func (s SessionEnded) GetType() EventType {
	return SessionEndedEvent
}
