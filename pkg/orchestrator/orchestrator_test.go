package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/parleyhq/parley/pkg/engine"
	"github.com/parleyhq/parley/pkg/eventbus"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/otelhelper"
	"github.com/parleyhq/parley/pkg/session"
	"github.com/parleyhq/parley/pkg/session/memory"
)

type fakeExecutor struct {
	mu     sync.Mutex
	result engine.Result
	err    error
	block  chan struct{}
	calls  int
}

func (f *fakeExecutor) Execute(_ context.Context, _ engine.Turn) (*engine.Result, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	if f.err != nil {
		return nil, f.err
	}

	result := f.result

	return &result, nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *recordingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]events.EventType, 0, len(b.events))
	for _, event := range b.events {
		types = append(types, event.GetType())
	}

	return types
}

func doneResult() engine.Result {
	return engine.Result{
		Response:      "Your balance is $42.00.",
		Stage:         models.StageDone,
		Intent:        "banking.balance.check",
		Version:       1,
		TurnsConsumed: 1,
	}
}

func pausedResult() engine.Result {
	return engine.Result{
		Response:        "Who would you like to send the money to?",
		NeedsHumanInput: true,
		Stage:           models.StageCollecting,
		Intent:          "banking.transfer.money",
		Version:         1,
		TurnsConsumed:   1,
	}
}

func newTestOrchestrator(executor Executor) (*Orchestrator, *memory.Store, *recordingBus) {
	sessions := memory.NewStore()
	bus := &recordingBus{}
	orch := NewOrchestrator(executor, sessions, bus, nil, slog.Default())

	return orch, sessions, bus
}

func TestOrchestrator_ProcessTurnCreatesAndUpdatesSession(t *testing.T) {
	executor := &fakeExecutor{result: doneResult()}
	orch, sessions, _ := newTestOrchestrator(executor)

	result, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "balance please",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.StageDone, result.Stage)

	sess, err := sessions.Get(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, 1, sess.TurnCount)
	assert.Equal(t, []string{"banking.balance.check"}, sess.IntentHistory)
	assert.Equal(t, models.SessionStatusResolved, sess.Status,
		"terminal stage resolves the audit session")
}

func TestOrchestrator_ProcessTurnPublishesLifecycleEvents(t *testing.T) {
	executor := &fakeExecutor{result: pausedResult()}
	orch, _, bus := newTestOrchestrator(executor)

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "send money",
	})
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.TurnReceivedEvent,
		events.TurnCompletedEvent,
		events.ConversationPausedEvent,
	}, bus.types())

	// The second turn resumes the paused thread.
	executor.result = doneResult()

	_, err = orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "to John, $100",
	})
	require.NoError(t, err)

	assert.Contains(t, bus.types(), events.ConversationResumedEvent)
	assert.Contains(t, bus.types(), events.ConversationCompletedEvent)
}

func TestOrchestrator_ConcurrentTurnsExactlyOneRejected(t *testing.T) {
	executor := &fakeExecutor{result: doneResult(), block: make(chan struct{})}
	orch, _, _ := newTestOrchestrator(executor)

	firstStarted := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		close(firstStarted)

		_, err := orch.ProcessTurn(context.Background(), TurnRequest{
			ThreadID: "thread-1", UserID: "user-1", Text: "first",
		})
		firstDone <- err
	}()

	<-firstStarted

	// Wait until the first turn holds the lock inside Execute.
	require.Eventually(t, func() bool {
		executor.mu.Lock()
		defer executor.mu.Unlock()

		return executor.calls == 1
	}, time.Second, time.Millisecond)

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "second",
	})
	require.Error(t, err)
	assert.True(t, IsConversationBusy(err))

	var concurrentErr *ConcurrentExecutionError
	require.ErrorAs(t, err, &concurrentErr)
	assert.Equal(t, "thread-1", concurrentErr.ThreadID)

	close(executor.block)
	require.NoError(t, <-firstDone)

	// A different thread is never blocked by thread-1's lock.
	executor.mu.Lock()
	executor.block = nil
	executor.mu.Unlock()

	_, err = orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-2", UserID: "user-1", Text: "other thread",
	})
	assert.NoError(t, err)
}

func TestOrchestrator_EndedSessionRejectsTurns(t *testing.T) {
	executor := &fakeExecutor{result: doneResult()}
	orch, sessions, bus := newTestOrchestrator(executor)

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "balance",
	})
	require.NoError(t, err)

	_, err = orch.EndSession(t.Context(), "thread-1", "user-1")
	require.NoError(t, err)
	assert.Contains(t, bus.types(), events.SessionEndedEvent)

	_, err = orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "one more",
	})
	require.Error(t, err)
	assert.True(t, session.IsSessionEnded(err))
	assert.Equal(t, 1, executor.calls, "the engine must not run for an ended session")

	sess, err := sessions.Get(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, sess.Status)
}

func TestOrchestrator_EndSessionIsIdempotent(t *testing.T) {
	executor := &fakeExecutor{result: doneResult()}
	orch, _, bus := newTestOrchestrator(executor)

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "balance",
	})
	require.NoError(t, err)

	first, err := orch.EndSession(t.Context(), "thread-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, first.Status)

	eventsBefore := len(bus.types())

	second, err := orch.EndSession(t.Context(), "thread-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, second.Status)
	assert.Len(t, bus.types(), eventsBefore, "re-ending must not publish again")
}

func TestOrchestrator_EndUnknownSession(t *testing.T) {
	orch, _, _ := newTestOrchestrator(&fakeExecutor{result: doneResult()})

	_, err := orch.EndSession(t.Context(), "ghost", "user-1")

	require.Error(t, err)
	assert.True(t, session.IsNotFound(err))
}

func TestOrchestrator_EngineErrorsPropagateWithoutSessionAdvance(t *testing.T) {
	executor := &fakeExecutor{err: engine.ErrClassifierUnavailable}
	orch, sessions, _ := newTestOrchestrator(executor)

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrClassifierUnavailable)

	sess, err := sessions.Get(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.TurnCount, "a failed turn must not count against the session")
}

func TestOrchestrator_ExpireIdleSessions(t *testing.T) {
	executor := &fakeExecutor{result: pausedResult()}
	orch, sessions, bus := newTestOrchestrator(executor)

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "idle-thread", UserID: "user-1", Text: "send money",
	})
	require.NoError(t, err)

	// A negative TTL places the cutoff in the future, so the session counts
	// as idle immediately.
	orch.expireIdleSessions(t.Context(), -time.Second)

	expired, err := sessions.Get(t.Context(), "idle-thread")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, expired.Status)
	assert.Contains(t, bus.types(), events.SessionEndedEvent)
}

func TestOrchestrator_ProcessTurnRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	executor := &fakeExecutor{result: doneResult()}
	orch := NewOrchestrator(executor, memory.NewStore(), &recordingBus{}, provider.Tracer("test"), slog.Default())

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "balance please",
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "orchestrator.process_turn", spans[0].Name())

	attrs := spans[0].Attributes()
	assert.Contains(t, attrs, attribute.String(otelhelper.ThreadIDKey, "thread-1"))
	assert.Contains(t, attrs, attribute.String(otelhelper.UserIDKey, "user-1"))
	assert.Contains(t, attrs, attribute.String(otelhelper.StageKey, string(models.StageDone)))
	assert.Contains(t, attrs, attribute.String(otelhelper.IntentKey, "banking.balance.check"))
	assert.Contains(t, attrs, attribute.Int64(otelhelper.CheckpointVerKey, 1))
}

func TestOrchestrator_ProcessTurnMarksSpanOnEngineError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	executor := &fakeExecutor{err: engine.ErrClassifierUnavailable}
	orch := NewOrchestrator(executor, memory.NewStore(), &recordingBus{}, provider.Tracer("test"), slog.Default())

	_, err := orch.ProcessTurn(t.Context(), TurnRequest{
		ThreadID: "thread-1", UserID: "user-1", Text: "hello",
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestOrchestrator_ListSessionsFilters(t *testing.T) {
	executor := &fakeExecutor{result: doneResult()}
	orch, _, _ := newTestOrchestrator(executor)

	for _, thread := range []string{"t1", "t2"} {
		_, err := orch.ProcessTurn(t.Context(), TurnRequest{
			ThreadID: thread, UserID: "user-1", Text: "balance",
		})
		require.NoError(t, err)
	}

	listed, err := orch.ListSessions(t.Context(), session.ListFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	listed, err = orch.ListSessions(t.Context(), session.ListFilter{Status: models.SessionStatusActive})
	require.NoError(t, err)
	assert.Empty(t, listed, "both sessions resolved")
}
