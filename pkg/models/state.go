// Package models defines the core domain models for conversational task orchestration.
package models

import (
	"fmt"
	"time"
)

// Stage represents the position of a conversation thread in the workflow graph.
type Stage string

const (
	StageNew         Stage = "NEW"         // No checkpoint exists yet
	StageClassifying Stage = "CLASSIFYING" // Waiting on intent classification
	StageCollecting  Stage = "COLLECTING"  // Gathering required entities from the user
	StageConfirming  Stage = "CONFIRMING"  // Paused for explicit user confirmation
	StageInvoking    Stage = "INVOKING"    // Executing tool calls
	StageResponding  Stage = "RESPONDING"  // Phrasing the final reply
	StageDone        Stage = "DONE"        // Terminal: completed
	StageCancelled   Stage = "CANCELLED"   // Terminal: user declined confirmation
	StageFailed      Stage = "FAILED"      // Terminal: tool failure with no fallback
)

// Terminal reports whether no further turns can advance the thread.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageCancelled || s == StageFailed
}

// stageSuccessors encodes the legal forward edges of the workflow graph.
// COLLECTING and CONFIRMING carry self-edges for multi-turn pauses.
var stageSuccessors = map[Stage][]Stage{
	StageNew:         {StageClassifying},
	StageClassifying: {StageCollecting, StageInvoking, StageFailed},
	StageCollecting:  {StageCollecting, StageConfirming, StageInvoking, StageFailed},
	StageConfirming:  {StageConfirming, StageInvoking, StageCancelled},
	StageInvoking:    {StageConfirming, StageResponding, StageFailed},
	StageResponding:  {StageDone, StageFailed},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s Stage) CanTransition(next Stage) bool {
	for _, candidate := range stageSuccessors[s] {
		if candidate == next {
			return true
		}
	}

	return false
}

// ToolCall is one pending tool invocation queued by the engine.
type ToolCall struct {
	CallID   string         `json:"call_id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// ToolOutcome classifies how a tool invocation attempt terminated.
type ToolOutcome string

const (
	ToolOutcomeSuccess     ToolOutcome = "success"
	ToolOutcomeError       ToolOutcome = "error"
	ToolOutcomeCircuitOpen ToolOutcome = "circuit_open"
	ToolOutcomeFallback    ToolOutcome = "fallback"
)

// ToolInvocationRecord captures the terminal result of one logical tool call,
// including how many attempts the resilient client spent on it.
type ToolInvocationRecord struct {
	CallID    string         `json:"call_id"`
	ToolName  string         `json:"tool_name"`
	Input     map[string]any `json:"input"`
	Attempts  int            `json:"attempts"`
	Outcome   ToolOutcome    `json:"outcome"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	LatencyMs int64          `json:"latency_ms"`
}

// WorkflowState is the mutable snapshot checkpointed per conversation thread.
//
// UserID is immutable once set. CollectedEntities accumulates across turns:
// keys are never removed, only added or overwritten when the user supplies a
// newer value. ToolResults is append-only, keyed by call id.
type WorkflowState struct {
	ThreadID          string                          `json:"thread_id"`
	UserID            string                          `json:"user_id"`
	Intent            string                          `json:"intent,omitempty"`
	Confidence        float64                         `json:"confidence"`
	CollectedEntities map[string]any                  `json:"collected_entities"`
	PendingToolCalls  []ToolCall                      `json:"pending_tool_calls,omitempty"`
	ToolResults       map[string]ToolInvocationRecord `json:"tool_results"`
	CurrentStage      Stage                           `json:"current_stage"`
	AwaitingConfirm   bool                            `json:"awaiting_confirmation"`
	ConfirmQuestion   string                          `json:"confirmation_question,omitempty"`
	ConfirmAttempts   int                             `json:"confirmation_attempts,omitempty"`
	TurnsConsumed     int                             `json:"turns_consumed"`
	LastUpdated       time.Time                       `json:"last_updated"`
}

// NewWorkflowState creates the initial snapshot for a thread that has no
// checkpoint yet.
func NewWorkflowState(threadID, userID string) *WorkflowState {
	return &WorkflowState{
		ThreadID:          threadID,
		UserID:            userID,
		CollectedEntities: make(map[string]any),
		ToolResults:       make(map[string]ToolInvocationRecord),
		CurrentStage:      StageNew,
		LastUpdated:       time.Now().UTC(),
	}
}

// MergeEntities folds newly extracted entity values into the accumulated set.
// Existing keys are overwritten only when the incoming value is non-empty.
func (s *WorkflowState) MergeEntities(entities map[string]any) {
	if s.CollectedEntities == nil {
		s.CollectedEntities = make(map[string]any)
	}

	for name, value := range entities {
		if value == nil {
			continue
		}

		if str, ok := value.(string); ok && str == "" {
			continue
		}

		s.CollectedEntities[name] = value
	}
}

// MissingEntities returns the required entity names not yet collected, in the
// declared order.
func (s *WorkflowState) MissingEntities(required []string) []string {
	missing := make([]string, 0)

	for _, name := range required {
		if _, ok := s.CollectedEntities[name]; !ok {
			missing = append(missing, name)
		}
	}

	return missing
}

// RecordToolResult appends a terminal invocation record. Existing records are
// never replaced.
func (s *WorkflowState) RecordToolResult(record ToolInvocationRecord) {
	if s.ToolResults == nil {
		s.ToolResults = make(map[string]ToolInvocationRecord)
	}

	if _, exists := s.ToolResults[record.CallID]; exists {
		return
	}

	s.ToolResults[record.CallID] = record
}

// Advance moves the thread to the next stage, refusing edges not present in
// the workflow graph. On an illegal edge the state is left untouched.
func (s *WorkflowState) Advance(next Stage) error {
	if !s.CurrentStage.CanTransition(next) {
		return fmt.Errorf("illegal stage transition %s -> %s for thread %s", s.CurrentStage, next, s.ThreadID)
	}

	s.CurrentStage = next
	s.LastUpdated = time.Now().UTC()

	return nil
}
