// Package orchestrator is the single entry point for turn processing. It
// serializes turns per thread, keeps the audit session in step with the
// workflow, and publishes lifecycle events.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/parleyhq/parley/pkg/engine"
	"github.com/parleyhq/parley/pkg/eventbus"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/otelhelper"
	"github.com/parleyhq/parley/pkg/session"
)

// Executor runs one turn against the workflow state machine.
type Executor interface {
	Execute(ctx context.Context, turn engine.Turn) (*engine.Result, error)
}

// TurnRequest is one inbound turn as received from the transport layer.
type TurnRequest struct {
	ThreadID       string
	UserID         string
	Text           string
	IntentOverride string
	Metadata       map[string]any
}

// TurnResult is what the transport layer returns to the caller.
type TurnResult struct {
	Success         bool
	Response        string
	NeedsHumanInput bool
	Stage           models.Stage
	Degraded        bool
	Version         int64
}

// Orchestrator coordinates sessions, the engine and the event stream.
type Orchestrator struct {
	engine   Executor
	sessions session.Store
	bus      eventbus.EventPublisher
	locks    *threadLocks
	cron     *cron.Cron
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewOrchestrator wires the turn pipeline. A nil tracer disables span export
// without branching at every call site.
func NewOrchestrator(executor Executor, sessions session.Store, bus eventbus.EventPublisher, tracer trace.Tracer, logger *slog.Logger) *Orchestrator {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("orchestrator")
	}

	return &Orchestrator{
		engine:   executor,
		sessions: sessions,
		bus:      bus,
		locks:    newThreadLocks(),
		tracer:   tracer,
		logger:   logger,
	}
}

// ProcessTurn runs one turn end to end. Turns for the same thread are
// serialized: a second concurrent call is rejected with
// ConcurrentExecutionError rather than queued.
func (o *Orchestrator) ProcessTurn(ctx context.Context, request TurnRequest) (*TurnResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.process_turn",
		attribute.String(otelhelper.ThreadIDKey, request.ThreadID),
		attribute.String(otelhelper.UserIDKey, request.UserID),
	)
	defer span.End()

	if !o.locks.acquire(request.ThreadID) {
		err := &ConcurrentExecutionError{ThreadID: request.ThreadID}
		otelhelper.SetError(span, err)

		return nil, err
	}
	defer o.locks.release(request.ThreadID)

	sess, err := o.ensureSession(ctx, request.ThreadID, request.UserID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if sess.Ended() {
		err := &session.StoreError{
			Op:        "process turn",
			SessionID: sess.ID,
			Err:       session.ErrSessionEnded,
		}
		otelhelper.SetError(span, err)

		return nil, err
	}

	resumed := sess.TurnCount > 0
	started := time.Now()

	o.publish(ctx, request.ThreadID, events.TurnReceived{
		BaseEvent:  events.NewBaseEvent(events.TurnReceivedEvent, request.ThreadID),
		UserID:     request.UserID,
		TurnNumber: sess.TurnCount + 1,
	})

	result, err := o.engine.Execute(ctx, engine.Turn{
		ThreadID:       request.ThreadID,
		UserID:         request.UserID,
		Text:           request.Text,
		IntentOverride: request.IntentOverride,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.StageKey, string(result.Stage)),
		attribute.String(otelhelper.IntentKey, result.Intent),
		attribute.Int64(otelhelper.CheckpointVerKey, result.Version),
	)

	o.updateSession(ctx, sess, result)
	o.publishLifecycle(ctx, request, result, resumed, time.Since(started))

	return &TurnResult{
		Success:         true,
		Response:        result.Response,
		NeedsHumanInput: result.NeedsHumanInput,
		Stage:           result.Stage,
		Degraded:        result.Degraded,
		Version:         result.Version,
	}, nil
}

// GetSession returns one audit session.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return o.sessions.Get(ctx, id)
}

// ListSessions returns audit sessions matching the filter.
func (o *Orchestrator) ListSessions(ctx context.Context, filter session.ListFilter) ([]*models.Session, error) {
	return o.sessions.List(ctx, filter)
}

// EndSession terminates a session: no further turns are accepted, checkpoint
// history stays intact. Ending an already-ended session is a no-op.
func (o *Orchestrator) EndSession(ctx context.Context, id, endedBy string) (*models.Session, error) {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.Ended() {
		return sess, nil
	}

	if err := o.sessions.UpdateStatus(ctx, id, models.SessionStatusEnded); err != nil {
		return nil, err
	}

	sess.Status = models.SessionStatusEnded

	o.publish(ctx, id, events.SessionEnded{
		BaseEvent: events.NewBaseEvent(events.SessionEndedEvent, id),
		UserID:    sess.UserID,
		TurnCount: sess.TurnCount,
		EndedBy:   endedBy,
	})

	return sess, nil
}

// StartExpirySweeper periodically ends sessions idle for longer than idleTTL.
func (o *Orchestrator) StartExpirySweeper(ctx context.Context, schedule string, idleTTL time.Duration) error {
	runner := cron.New()

	_, err := runner.AddFunc(schedule, func() {
		o.expireIdleSessions(ctx, idleTTL)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule session expiry sweeper: %w", err)
	}

	runner.Start()
	o.cron = runner

	o.logger.InfoContext(ctx, "Session expiry sweeper started",
		"schedule", schedule, "idle_ttl", idleTTL)

	return nil
}

// Close stops the sweeper. Stores and the event bus are owned by the caller.
func (o *Orchestrator) Close() {
	if o.cron != nil {
		o.cron.Stop()
	}
}

func (o *Orchestrator) expireIdleSessions(ctx context.Context, idleTTL time.Duration) {
	active, err := o.sessions.List(ctx, session.ListFilter{Status: models.SessionStatusActive})
	if err != nil {
		o.logger.ErrorContext(ctx, "Failed to list sessions for expiry", "error", err)

		return
	}

	cutoff := time.Now().UTC().Add(-idleTTL)

	for _, sess := range active {
		if sess.UpdatedAt.After(cutoff) {
			continue
		}

		if _, err := o.EndSession(ctx, sess.ID, "expiry"); err != nil {
			o.logger.ErrorContext(ctx, "Failed to expire idle session",
				"session_id", sess.ID, "error", err)

			continue
		}

		o.logger.InfoContext(ctx, "Idle session expired",
			"session_id", sess.ID, "idle_since", sess.UpdatedAt)
	}
}

func (o *Orchestrator) ensureSession(ctx context.Context, threadID, userID string) (*models.Session, error) {
	sess, err := o.sessions.Get(ctx, threadID)
	if err == nil {
		return sess, nil
	}

	if !session.IsNotFound(err) {
		return nil, err
	}

	sess = models.NewSession(threadID, userID)
	if err := o.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// updateSession keeps the audit record in step with the turn outcome. Audit
// failures are logged, never surfaced: the turn already succeeded.
func (o *Orchestrator) updateSession(ctx context.Context, sess *models.Session, result *engine.Result) {
	sess.TurnCount++
	sess.RecordIntent(result.Intent)
	sess.UpdatedAt = time.Now().UTC()

	if result.Stage.Terminal() {
		sess.Status = models.SessionStatusResolved
	}

	if err := o.sessions.Update(ctx, sess); err != nil {
		o.logger.ErrorContext(ctx, "Failed to update audit session",
			"session_id", sess.ID, "error", err)
	}
}

func (o *Orchestrator) publishLifecycle(ctx context.Context, request TurnRequest, result *engine.Result, resumed bool, took time.Duration) {
	threadID := request.ThreadID

	if resumed {
		o.publish(ctx, threadID, events.ConversationResumed{
			BaseEvent: events.NewBaseEvent(events.ConversationResumedEvent, threadID),
			Stage:     result.Stage,
			Intent:    result.Intent,
		})
	}

	o.publish(ctx, threadID, events.TurnCompleted{
		BaseEvent:       events.NewBaseEvent(events.TurnCompletedEvent, threadID),
		UserID:          request.UserID,
		Stage:           result.Stage,
		Intent:          result.Intent,
		NeedsHumanInput: result.NeedsHumanInput,
		Degraded:        result.Degraded,
		Version:         result.Version,
		DurationMs:      took.Milliseconds(),
	})

	switch {
	case result.NeedsHumanInput:
		o.publish(ctx, threadID, events.ConversationPaused{
			BaseEvent: events.NewBaseEvent(events.ConversationPausedEvent, threadID),
			Stage:     result.Stage,
			Intent:    result.Intent,
		})
	case result.Stage == models.StageDone:
		o.publish(ctx, threadID, events.ConversationCompleted{
			BaseEvent:     events.NewBaseEvent(events.ConversationCompletedEvent, threadID),
			Intent:        result.Intent,
			TurnsConsumed: result.TurnsConsumed,
			Degraded:      result.Degraded,
		})
	case result.Stage == models.StageCancelled:
		o.publish(ctx, threadID, events.ConversationCancelled{
			BaseEvent:     events.NewBaseEvent(events.ConversationCancelledEvent, threadID),
			Intent:        result.Intent,
			TurnsConsumed: result.TurnsConsumed,
		})
	case result.Stage == models.StageFailed:
		o.publish(ctx, threadID, events.ConversationFailed{
			BaseEvent:     events.NewBaseEvent(events.ConversationFailedEvent, threadID),
			Intent:        result.Intent,
			TurnsConsumed: result.TurnsConsumed,
		})
	}
}

// publish is best-effort: a broken audit stream must not fail user turns.
func (o *Orchestrator) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.bus == nil {
		return
	}

	if err := o.bus.Publish(ctx, key, event); err != nil {
		o.logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(), "thread_id", key, "error", err)
	}
}
