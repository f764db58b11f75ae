// Package web provides the HTTP handlers for turn processing and session
// administration.
package web

import (
	"github.com/parleyhq/parley/pkg/models"
)

// ProcessTurnRequest is the body of POST /threads/:id/turns.
type ProcessTurnRequest struct {
	UserID         string         `json:"user_id"                   validate:"required"`
	Text           string         `json:"text"                      validate:"required_without=IntentOverride"`
	IntentOverride string         `json:"intent_override,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ProcessTurnResponse is the outcome of one processed turn.
type ProcessTurnResponse struct {
	Success         bool         `json:"success"`
	Response        string       `json:"response"`
	NeedsHumanInput bool         `json:"needs_human_input"`
	Stage           models.Stage `json:"stage"`
	Degraded        bool         `json:"degraded"`
	Version         int64        `json:"version"`
}

// EndSessionRequest optionally names who ended the session.
type EndSessionRequest struct {
	EndedBy string `json:"ended_by,omitempty"`
}
