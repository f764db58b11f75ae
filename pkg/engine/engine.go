// Package engine implements the workflow state machine that drives a
// multi-turn conversation to completion. Each turn loads the thread's latest
// checkpoint, runs exactly the transitions reachable from the current stage,
// and writes a new checkpoint version before returning.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/generation"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/nlu"
)

const (
	defaultConfidenceThreshold = 0.6
	defaultMaxConfirmAttempts  = 3
)

// Classifier resolves a turn's text into an intent with entities.
type Classifier interface {
	Classify(ctx context.Context, text, sessionID, userID string) (*nlu.Classification, error)
}

// Responder phrases the reply returned to the user.
type Responder interface {
	Generate(ctx context.Context, genCtx generation.Context) (*generation.Reply, error)
}

// ToolCaller executes one validated tool call and reports its terminal
// outcome.
type ToolCaller interface {
	Call(ctx context.Context, call models.ToolCall) (models.ToolInvocationRecord, error)
}

// Config tunes the engine's conversational behavior.
type Config struct {
	// ConfidenceThreshold is the minimum classifier confidence required to
	// act on an intent. Below it the engine asks the user to rephrase.
	ConfidenceThreshold float64

	// MaxConfirmAttempts bounds how often an ambiguous confirmation answer
	// is re-asked before the action is cancelled.
	MaxConfirmAttempts int
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = defaultConfidenceThreshold
	}

	if c.MaxConfirmAttempts <= 0 {
		c.MaxConfirmAttempts = defaultMaxConfirmAttempts
	}

	return c
}

// Turn is one inbound user message addressed to a conversation thread.
type Turn struct {
	ThreadID string
	UserID   string
	Text     string

	// IntentOverride skips classification and forces the named intent.
	IntentOverride string
}

func (t Turn) validate() error {
	if strings.TrimSpace(t.ThreadID) == "" {
		return &ValidationError{Field: "thread_id", Reason: "is required"}
	}

	if strings.TrimSpace(t.UserID) == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}

	if strings.TrimSpace(t.Text) == "" && t.IntentOverride == "" {
		return &ValidationError{Field: "text", Reason: "is required"}
	}

	return nil
}

// Result is the outcome of one Execute call.
type Result struct {
	Response        string
	NeedsHumanInput bool
	Stage           models.Stage
	Intent          string
	Degraded        bool
	Version         int64
	TurnsConsumed   int
}

type turnOutcome struct {
	response   string
	needsHuman bool
	degraded   bool
}

// Engine is the workflow state machine. It is stateless between calls; all
// conversation state lives in the checkpoint store.
type Engine struct {
	catalog     models.IntentCatalog
	classifier  Classifier
	responder   Responder
	tools       ToolCaller
	checkpoints checkpoint.Store
	cfg         Config
	logger      *slog.Logger
}

// NewEngine creates the engine. The catalog is fixed at construction and
// never mutated afterwards.
func NewEngine(
	catalog models.IntentCatalog,
	classifier Classifier,
	responder Responder,
	tools ToolCaller,
	checkpoints checkpoint.Store,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		catalog:     catalog,
		classifier:  classifier,
		responder:   responder,
		tools:       tools,
		checkpoints: checkpoints,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
}

// Execute processes one turn against the thread's latest checkpoint and
// persists the updated state before returning. Callers must serialize turns
// per thread; the expected-version precondition on Save catches violations.
func (e *Engine) Execute(ctx context.Context, turn Turn) (*Result, error) {
	if err := turn.validate(); err != nil {
		return nil, err
	}

	state, version, err := e.loadOrInit(ctx, turn)
	if err != nil {
		return nil, err
	}

	if state.CurrentStage.Terminal() {
		return nil, &ExecutionError{
			ThreadID: turn.ThreadID,
			Stage:    string(state.CurrentStage),
			Err:      ErrThreadTerminal,
		}
	}

	state.TurnsConsumed++

	outcome, execErr := e.advance(ctx, state, turn)

	newVersion, saveErr := e.checkpoints.Save(ctx, turn.ThreadID, state, version)
	if saveErr != nil {
		return nil, &ExecutionError{
			ThreadID: turn.ThreadID,
			Stage:    string(state.CurrentStage),
			Err:      saveErr,
		}
	}

	if execErr != nil {
		return nil, &ExecutionError{
			ThreadID: turn.ThreadID,
			Stage:    string(state.CurrentStage),
			Err:      execErr,
		}
	}

	e.logger.InfoContext(ctx, "Turn processed",
		"thread_id", turn.ThreadID,
		"stage", state.CurrentStage,
		"intent", state.Intent,
		"version", newVersion,
		"degraded", outcome.degraded)

	return &Result{
		Response:        outcome.response,
		NeedsHumanInput: outcome.needsHuman,
		Stage:           state.CurrentStage,
		Intent:          state.Intent,
		Degraded:        outcome.degraded,
		Version:         newVersion,
		TurnsConsumed:   state.TurnsConsumed,
	}, nil
}

func (e *Engine) loadOrInit(ctx context.Context, turn Turn) (*models.WorkflowState, int64, error) {
	cp, err := e.checkpoints.Load(ctx, turn.ThreadID)
	if err != nil {
		if checkpoint.IsNotFound(err) {
			return models.NewWorkflowState(turn.ThreadID, turn.UserID), 0, nil
		}

		return nil, 0, &ExecutionError{ThreadID: turn.ThreadID, Stage: string(models.StageNew), Err: err}
	}

	if cp.State.UserID != turn.UserID {
		return nil, 0, &ValidationError{Field: "user_id", Reason: "does not match the conversation owner"}
	}

	return cp.State, cp.Version, nil
}

func (e *Engine) advance(ctx context.Context, state *models.WorkflowState, turn Turn) (*turnOutcome, error) {
	switch state.CurrentStage {
	case models.StageNew:
		if err := state.Advance(models.StageClassifying); err != nil {
			return nil, err
		}

		return e.classify(ctx, state, turn)
	case models.StageClassifying:
		return e.classify(ctx, state, turn)
	case models.StageCollecting:
		if state.Intent == "" {
			return e.classify(ctx, state, turn)
		}

		return e.collect(ctx, state, turn)
	case models.StageConfirming:
		return e.confirm(ctx, state, turn)
	case models.StageInvoking:
		// Resume a thread whose previous execution stopped mid-invocation.
		spec, ok := e.catalog.Lookup(state.Intent)
		if !ok {
			return nil, fmt.Errorf("checkpoint references unknown intent %q", state.Intent)
		}

		return e.invoke(ctx, state, spec, false)
	case models.StageResponding:
		return e.respond(ctx, state, false)
	}

	return nil, fmt.Errorf("no transition defined for stage %s", state.CurrentStage)
}

// classify resolves the turn into an intent. On classifier outage without a
// fallback the stage never advances past CLASSIFYING.
func (e *Engine) classify(ctx context.Context, state *models.WorkflowState, turn Turn) (*turnOutcome, error) {
	var (
		classification *nlu.Classification
		err            error
	)

	if turn.IntentOverride != "" {
		classification = &nlu.Classification{
			Intent:     turn.IntentOverride,
			Confidence: 1.0,
			Entities:   map[string]any{},
		}
	} else {
		classification, err = e.classifier.Classify(ctx, turn.Text, state.ThreadID, state.UserID)
		if err != nil {
			e.logger.ErrorContext(ctx, "Classification unavailable",
				"thread_id", state.ThreadID, "error", err)

			return nil, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
		}
	}

	degraded := classification.Degraded

	spec, known := e.catalog.Lookup(classification.Intent)
	if classification.Intent == "" || classification.Confidence < e.cfg.ConfidenceThreshold || !known {
		if err := state.Advance(models.StageCollecting); err != nil {
			return nil, err
		}

		return e.pause(ctx, state,
			"I'm sorry, I didn't quite get that. Could you rephrase what you'd like to do?", degraded)
	}

	state.Intent = classification.Intent
	state.Confidence = classification.Confidence
	state.MergeEntities(classification.Entities)

	return e.proceed(ctx, state, spec, degraded)
}

// collect feeds a follow-up turn's entities into the accumulated set and
// re-evaluates what is still missing.
func (e *Engine) collect(ctx context.Context, state *models.WorkflowState, turn Turn) (*turnOutcome, error) {
	spec, ok := e.catalog.Lookup(state.Intent)
	if !ok {
		return nil, fmt.Errorf("checkpoint references unknown intent %q", state.Intent)
	}

	degraded := false

	classification, err := e.classifier.Classify(ctx, turn.Text, state.ThreadID, state.UserID)
	if err != nil {
		// Entity extraction is down: keep the conversation alive and re-ask.
		e.logger.WarnContext(ctx, "Entity extraction unavailable, re-asking",
			"thread_id", state.ThreadID, "error", err)

		degraded = true
	} else {
		state.MergeEntities(classification.Entities)
		degraded = classification.Degraded
	}

	return e.proceed(ctx, state, spec, degraded)
}

// proceed routes a thread with a resolved intent to the next pause or to
// invocation, depending on what is still missing.
func (e *Engine) proceed(ctx context.Context, state *models.WorkflowState, spec models.IntentSpec, degraded bool) (*turnOutcome, error) {
	missing := state.MissingEntities(spec.RequiredEntities)
	if len(missing) > 0 {
		if err := state.Advance(models.StageCollecting); err != nil {
			return nil, err
		}

		return e.pause(ctx, state, entityPrompt(missing[0]), degraded)
	}

	if spec.RequiresConfirmation {
		state.AwaitingConfirm = true
		state.ConfirmQuestion = confirmationQuestion(spec, state.CollectedEntities)

		// Confirmation is checked on the way into invocation, so the thread
		// passes through INVOKING before parking at CONFIRMING.
		if state.CurrentStage == models.StageClassifying {
			if err := state.Advance(models.StageInvoking); err != nil {
				return nil, err
			}
		}

		if err := state.Advance(models.StageConfirming); err != nil {
			return nil, err
		}

		return e.pause(ctx, state, state.ConfirmQuestion, degraded)
	}

	return e.invoke(ctx, state, spec, degraded)
}

// confirm interprets the user's answer to a pending confirmation question.
// Ambiguous answers are re-asked, never guessed.
func (e *Engine) confirm(ctx context.Context, state *models.WorkflowState, turn Turn) (*turnOutcome, error) {
	spec, ok := e.catalog.Lookup(state.Intent)
	if !ok {
		return nil, fmt.Errorf("checkpoint references unknown intent %q", state.Intent)
	}

	switch parseConfirmation(turn.Text) {
	case confirmAffirmative:
		state.AwaitingConfirm = false
		state.ConfirmAttempts = 0

		return e.invoke(ctx, state, spec, false)
	case confirmNegative:
		state.AwaitingConfirm = false
		state.ConfirmQuestion = ""
		state.PendingToolCalls = nil

		if err := state.Advance(models.StageCancelled); err != nil {
			return nil, err
		}

		return e.finish(ctx, state, false)
	}

	state.ConfirmAttempts++
	if state.ConfirmAttempts >= e.cfg.MaxConfirmAttempts {
		e.logger.InfoContext(ctx, "Confirmation abandoned after repeated ambiguous answers",
			"thread_id", state.ThreadID, "attempts", state.ConfirmAttempts)

		state.AwaitingConfirm = false
		state.ConfirmQuestion = ""
		state.PendingToolCalls = nil

		if err := state.Advance(models.StageCancelled); err != nil {
			return nil, err
		}

		return e.finish(ctx, state, false)
	}

	if err := state.Advance(models.StageConfirming); err != nil {
		return nil, err
	}

	return e.pause(ctx, state, "Sorry, I need a clear yes or no. "+state.ConfirmQuestion, false)
}

// invoke executes the intent's tool call through the registry. An open
// circuit pauses the thread with a retry question instead of failing it; a
// terminal tool failure moves the thread to FAILED.
func (e *Engine) invoke(ctx context.Context, state *models.WorkflowState, spec models.IntentSpec, degraded bool) (*turnOutcome, error) {
	if state.CurrentStage != models.StageInvoking {
		if err := state.Advance(models.StageInvoking); err != nil {
			return nil, err
		}
	}

	if spec.ToolName == "" {
		// Purely conversational intent: nothing to execute.
		if err := state.Advance(models.StageResponding); err != nil {
			return nil, err
		}

		return e.respond(ctx, state, degraded)
	}

	if len(state.PendingToolCalls) == 0 {
		args := make(map[string]any, len(state.CollectedEntities))
		for name, value := range state.CollectedEntities {
			args[name] = value
		}

		state.PendingToolCalls = []models.ToolCall{{
			CallID:   uuid.NewString(),
			ToolName: spec.ToolName,
			Args:     args,
		}}
	}

	for len(state.PendingToolCalls) > 0 {
		call := state.PendingToolCalls[0]

		record, err := e.tools.Call(ctx, call)
		if record.Outcome == models.ToolOutcomeCircuitOpen {
			// Keep the call pending so an affirmative answer retries it.
			state.AwaitingConfirm = true
			state.ConfirmQuestion = "That service is temporarily unavailable. Shall I try again in a moment? (yes/no)"

			if err := state.Advance(models.StageConfirming); err != nil {
				return nil, err
			}

			return e.pause(ctx, state, state.ConfirmQuestion, true)
		}

		state.RecordToolResult(record)
		state.PendingToolCalls = state.PendingToolCalls[1:]

		switch record.Outcome {
		case models.ToolOutcomeError:
			e.logger.ErrorContext(ctx, "Tool invocation failed terminally",
				"thread_id", state.ThreadID,
				"tool", call.ToolName,
				"attempts", record.Attempts,
				"error", err)

			state.PendingToolCalls = nil

			if err := state.Advance(models.StageFailed); err != nil {
				return nil, err
			}

			return e.finish(ctx, state, degraded)
		case models.ToolOutcomeFallback:
			degraded = true
		}
	}

	if err := state.Advance(models.StageResponding); err != nil {
		return nil, err
	}

	return e.respond(ctx, state, degraded)
}

// respond phrases the final reply and completes the thread.
func (e *Engine) respond(ctx context.Context, state *models.WorkflowState, degraded bool) (*turnOutcome, error) {
	reply := e.phrase(ctx, generation.Context{
		Intent:      state.Intent,
		Stage:       state.CurrentStage,
		Entities:    state.CollectedEntities,
		ToolResults: state.ToolResults,
		Degraded:    degraded,
	})

	if err := state.Advance(models.StageDone); err != nil {
		return nil, err
	}

	return &turnOutcome{response: reply.Text, degraded: degraded || reply.Degraded}, nil
}

// finish phrases the reply for a thread that just reached CANCELLED or
// FAILED. The message is a short user-safe one; internals never leak.
func (e *Engine) finish(ctx context.Context, state *models.WorkflowState, degraded bool) (*turnOutcome, error) {
	reply := e.phrase(ctx, generation.Context{
		Intent:      state.Intent,
		Stage:       state.CurrentStage,
		Entities:    state.CollectedEntities,
		ToolResults: state.ToolResults,
		Degraded:    degraded,
	})

	return &turnOutcome{response: reply.Text, degraded: degraded || reply.Degraded}, nil
}

// pause halts the turn with a question for the user.
func (e *Engine) pause(ctx context.Context, state *models.WorkflowState, question string, degraded bool) (*turnOutcome, error) {
	reply := e.phrase(ctx, generation.Context{
		Intent:   state.Intent,
		Stage:    state.CurrentStage,
		Entities: state.CollectedEntities,
		Question: question,
		Degraded: degraded,
	})

	return &turnOutcome{response: reply.Text, needsHuman: true, degraded: degraded || reply.Degraded}, nil
}

// phrase asks the responder for the reply text, falling back to the local
// composer so a generation failure never fails a turn.
func (e *Engine) phrase(ctx context.Context, genCtx generation.Context) *generation.Reply {
	reply, err := e.responder.Generate(ctx, genCtx)
	if err != nil {
		e.logger.WarnContext(ctx, "Response generation failed, composing locally", "error", err)

		return &generation.Reply{Text: generation.Compose(genCtx), Degraded: true}
	}

	return reply
}
