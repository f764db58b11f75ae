package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/checkpoint/memory"
	"github.com/parleyhq/parley/pkg/generation"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/nlu"
)

type classifyResponse struct {
	classification *nlu.Classification
	err            error
}

// scriptedClassifier replays a fixed sequence of classifier responses, one
// per turn.
type scriptedClassifier struct {
	responses []classifyResponse
	calls     int
}

func (s *scriptedClassifier) Classify(_ context.Context, _, _, _ string) (*nlu.Classification, error) {
	if s.calls >= len(s.responses) {
		return &nlu.Classification{Entities: map[string]any{}}, nil
	}

	response := s.responses[s.calls]
	s.calls++

	return response.classification, response.err
}

// composerResponder phrases replies with the deterministic local composer,
// which keeps assertions on reply text stable.
type composerResponder struct{}

func (composerResponder) Generate(_ context.Context, genCtx generation.Context) (*generation.Reply, error) {
	return &generation.Reply{Text: generation.Compose(genCtx)}, nil
}

type fakeTools struct {
	outcomes []models.ToolOutcome
	result   map[string]any
	calls    []models.ToolCall
}

func (f *fakeTools) Call(_ context.Context, call models.ToolCall) (models.ToolInvocationRecord, error) {
	f.calls = append(f.calls, call)

	outcome := models.ToolOutcomeSuccess
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}

	record := models.ToolInvocationRecord{
		CallID:   call.CallID,
		ToolName: call.ToolName,
		Input:    call.Args,
		Attempts: 1,
		Outcome:  outcome,
		Result:   f.result,
	}

	switch outcome {
	case models.ToolOutcomeError:
		record.Attempts = 3
		record.Error = "service unavailable"

		return record, errors.New("service unavailable")
	case models.ToolOutcomeCircuitOpen:
		return record, errors.New("circuit open")
	}

	return record, nil
}

func newTestEngine(classifier Classifier, tools ToolCaller) (*Engine, *memory.Store) {
	store := memory.NewStore()
	eng := NewEngine(BankingCatalog(), classifier, composerResponder{}, tools, store, Config{}, slog.Default())

	return eng, store
}

func classified(intent string, confidence float64, entities map[string]any) classifyResponse {
	if entities == nil {
		entities = map[string]any{}
	}

	return classifyResponse{classification: &nlu.Classification{
		Intent:     intent,
		Confidence: confidence,
		Entities:   entities,
	}}
}

func TestEngine_TransferScenarioAcrossThreeTurns(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.transfer.money", 0.9, nil),
		classified("banking.transfer.money", 0.9, map[string]any{"recipient": "John", "amount": 100.0}),
	}}
	tools := &fakeTools{result: map[string]any{"confirmation_number": "TX-1"}}
	eng, store := newTestEngine(classifier, tools)

	// Turn 1: intent resolved but nothing collected yet.
	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "send money"})
	require.NoError(t, err)
	assert.Equal(t, models.StageCollecting, result.Stage)
	assert.True(t, result.NeedsHumanInput)
	assert.Contains(t, result.Response, "Who would you like to send the money to?")
	assert.Equal(t, int64(1), result.Version)

	// Turn 2: both entities arrive, confirmation required before the tool runs.
	result, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "to John, $100"})
	require.NoError(t, err)
	assert.Equal(t, models.StageConfirming, result.Stage)
	assert.True(t, result.NeedsHumanInput)
	assert.Contains(t, result.Response, "transfer $100.00 to John")
	assert.Empty(t, tools.calls, "tool must not run before confirmation")
	assert.Equal(t, int64(2), result.Version)

	// Turn 3: affirmative answer executes the transfer and completes.
	result, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "yes"})
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, result.Stage)
	assert.False(t, result.NeedsHumanInput)
	require.Len(t, tools.calls, 1)
	assert.Equal(t, "transfer_funds", tools.calls[0].ToolName)
	assert.Equal(t, "John", tools.calls[0].Args["recipient"])
	assert.Equal(t, int64(3), result.Version)

	cp, err := store.Load(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, cp.State.CurrentStage)
	assert.Len(t, cp.State.ToolResults, 1)
}

func TestEngine_BalanceCheckCompletesInOneTurn(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.balance.check", 0.95, map[string]any{"account_type": "savings"}),
	}}
	tools := &fakeTools{result: map[string]any{"balance": 1234.5}}
	eng, _ := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "what's my savings balance"})

	require.NoError(t, err)
	assert.Equal(t, models.StageDone, result.Stage)
	assert.False(t, result.NeedsHumanInput)
	assert.Contains(t, result.Response, "$1234.50")
	assert.Len(t, tools.calls, 1)
}

func TestEngine_LowConfidenceAsksToRephrase(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.transfer.money", 0.3, nil),
		classified("banking.balance.check", 0.9, nil),
	}}
	tools := &fakeTools{result: map[string]any{"balance": 10.0}}
	eng, _ := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "uh do the thing"})
	require.NoError(t, err)
	assert.Equal(t, models.StageCollecting, result.Stage)
	assert.True(t, result.NeedsHumanInput)
	assert.Contains(t, result.Response, "rephrase")
	assert.Empty(t, tools.calls)

	// The rephrased turn classifies cleanly and completes.
	result, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "check my balance"})
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, result.Stage)
}

func TestEngine_ClassifierOutageStaysInClassifying(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		{err: errors.New("all attempts failed")},
	}}
	eng, store := newTestEngine(classifier, &fakeTools{})

	_, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "hello"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClassifierUnavailable)

	cp, err := store.Load(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageClassifying, cp.State.CurrentStage,
		"checkpoint must not advance past CLASSIFYING on classifier outage")
}

func TestEngine_NegativeConfirmationCancels(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.transfer.money", 0.9, map[string]any{"recipient": "John", "amount": 50.0}),
	}}
	tools := &fakeTools{}
	eng, _ := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "send John fifty bucks"})
	require.NoError(t, err)
	assert.Equal(t, models.StageConfirming, result.Stage)

	result, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "no, cancel that"})
	require.NoError(t, err)
	assert.Equal(t, models.StageCancelled, result.Stage)
	assert.False(t, result.NeedsHumanInput)
	assert.Empty(t, tools.calls)

	// Terminal threads reject further turns.
	_, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "actually yes"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThreadTerminal)
}

func TestEngine_AmbiguousConfirmationReAsksThenCancels(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.transfer.money", 0.9, map[string]any{"recipient": "John", "amount": 50.0}),
	}}
	tools := &fakeTools{}
	eng, _ := newTestEngine(classifier, tools)

	_, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "send John fifty"})
	require.NoError(t, err)

	// Two ambiguous answers re-ask; the third abandons the action.
	for range 2 {
		result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "hmm what about fees"})
		require.NoError(t, err)
		assert.Equal(t, models.StageConfirming, result.Stage)
		assert.True(t, result.NeedsHumanInput)
		assert.Contains(t, result.Response, "yes or no")
	}

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "maybe"})
	require.NoError(t, err)
	assert.Equal(t, models.StageCancelled, result.Stage)
	assert.Empty(t, tools.calls)
}

func TestEngine_TerminalToolFailureFailsThread(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.balance.check", 0.95, nil),
	}}
	tools := &fakeTools{outcomes: []models.ToolOutcome{models.ToolOutcomeError}}
	eng, store := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "balance please"})

	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, result.Stage)
	assert.False(t, result.NeedsHumanInput)
	assert.NotContains(t, result.Response, "service unavailable",
		"internal error detail must not leak to the user")

	cp, err := store.Load(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, cp.State.CurrentStage)
	assert.Len(t, cp.State.ToolResults, 1)
}

func TestEngine_CircuitOpenPausesAndRetriesSameCall(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.balance.check", 0.95, nil),
	}}
	tools := &fakeTools{
		outcomes: []models.ToolOutcome{models.ToolOutcomeCircuitOpen, models.ToolOutcomeSuccess},
		result:   map[string]any{"balance": 42.0},
	}
	eng, _ := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "balance please"})
	require.NoError(t, err)
	assert.Equal(t, models.StageConfirming, result.Stage)
	assert.True(t, result.NeedsHumanInput)
	assert.True(t, result.Degraded)
	assert.Contains(t, result.Response, "try again")

	result, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "yes"})
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, result.Stage)
	require.Len(t, tools.calls, 2)
	assert.Equal(t, tools.calls[0].CallID, tools.calls[1].CallID,
		"the retried attempt must reuse the pending call")
}

func TestEngine_FallbackToolResultMarksDegraded(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.balance.check", 0.95, nil),
	}}
	tools := &fakeTools{
		outcomes: []models.ToolOutcome{models.ToolOutcomeFallback},
		result:   map[string]any{"balance": 42.0},
	}
	eng, _ := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "balance please"})

	require.NoError(t, err)
	assert.Equal(t, models.StageDone, result.Stage)
	assert.True(t, result.Degraded)
}

func TestEngine_IntentOverrideSkipsClassifier(t *testing.T) {
	classifier := &scriptedClassifier{}
	tools := &fakeTools{result: map[string]any{"count": 5.0}}
	eng, _ := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{
		ThreadID:       "thread-1",
		UserID:         "user-1",
		Text:           "show them",
		IntentOverride: "banking.transactions.view",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StageDone, result.Stage)
	assert.Equal(t, 0, classifier.calls)
}

func TestEngine_ConversationalIntentSkipsTools(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("smalltalk.greeting", 0.99, nil),
	}}
	tools := &fakeTools{}
	eng, _ := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "hi there"})

	require.NoError(t, err)
	assert.Equal(t, models.StageDone, result.Stage)
	assert.Empty(t, tools.calls)
}

func TestEngine_ValidatesTurnInput(t *testing.T) {
	eng, _ := newTestEngine(&scriptedClassifier{}, &fakeTools{})

	tests := []struct {
		name string
		turn Turn
	}{
		{"missing thread", Turn{UserID: "user-1", Text: "hello"}},
		{"missing user", Turn{ThreadID: "thread-1", Text: "hello"}},
		{"missing text", Turn{ThreadID: "thread-1", UserID: "user-1"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Execute(t.Context(), tc.turn)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestEngine_RejectsUserMismatch(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.transfer.money", 0.9, nil),
	}}
	eng, _ := newTestEngine(classifier, &fakeTools{})

	_, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "send money"})
	require.NoError(t, err)

	_, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "someone-else", Text: "to John"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestEngine_EntitiesAccumulateAcrossTurns(t *testing.T) {
	classifier := &scriptedClassifier{responses: []classifyResponse{
		classified("banking.transfer.money", 0.9, map[string]any{"recipient": "John"}),
		classified("banking.transfer.money", 0.9, map[string]any{"amount": 25.0}),
	}}
	tools := &fakeTools{}
	eng, store := newTestEngine(classifier, tools)

	result, err := eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "send money to John"})
	require.NoError(t, err)
	assert.Equal(t, models.StageCollecting, result.Stage)
	assert.Contains(t, result.Response, "How much")

	result, err = eng.Execute(t.Context(), Turn{ThreadID: "thread-1", UserID: "user-1", Text: "25 dollars"})
	require.NoError(t, err)
	assert.Equal(t, models.StageConfirming, result.Stage)

	cp, err := store.Load(t.Context(), "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "John", cp.State.CollectedEntities["recipient"])
	assert.Equal(t, 25.0, cp.State.CollectedEntities["amount"])
}

func TestParseConfirmation(t *testing.T) {
	tests := []struct {
		text string
		want confirmVerdict
	}{
		{"yes", confirmAffirmative},
		{"Yes please!", confirmAffirmative},
		{"go ahead", confirmAffirmative},
		{"ok do it", confirmAffirmative},
		{"no", confirmNegative},
		{"no way", confirmNegative},
		{"cancel", confirmNegative},
		{"never mind", confirmNegative},
		{"yes... actually no", confirmNegative},
		{"what about fees?", confirmAmbiguous},
		{"maybe", confirmAmbiguous},
		{"", confirmAmbiguous},
	}

	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			assert.Equal(t, tc.want, parseConfirmation(tc.text))
		})
	}
}
