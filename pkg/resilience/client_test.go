package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		MaxAttempts:      3,
		CallTimeout:      time.Second,
		InitialBackoff:   time.Millisecond,
	}
}

func TestClient_SuccessFirstAttempt(t *testing.T) {
	client := NewClient("nlu", testConfig(), slog.Default())

	result, err := client.Invoke(t.Context(), "classify", func(_ context.Context) (map[string]any, error) {
		return map[string]any{"intent": "banking.balance.check"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.Degraded)
	assert.Equal(t, "banking.balance.check", result.Data["intent"])
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	client := NewClient("nlu", testConfig(), slog.Default())
	calls := 0

	result, err := client.Invoke(t.Context(), "classify", func(_ context.Context) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset")
		}

		return map[string]any{"ok": true}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.False(t, result.Degraded)
	// Streak resets on the eventual success.
	assert.Equal(t, 0, client.Breaker().ConsecutiveFailures())
}

func TestClient_PermanentFailsFast(t *testing.T) {
	client := NewClient("tool:transfer_funds", testConfig(), slog.Default())
	calls := 0

	_, err := client.Invoke(t.Context(), "call", func(_ context.Context) (map[string]any, error) {
		calls++

		return nil, Permanent(errors.New("unknown recipient account"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "caller errors must not be retried")
	assert.Equal(t, 0, client.Breaker().ConsecutiveFailures(),
		"caller errors are not dependency health signals")
}

func TestClient_ExhaustedAttemptsOpenCircuit(t *testing.T) {
	client := NewClient("nlu", testConfig(), slog.Default())

	_, err := client.Invoke(t.Context(), "classify", func(_ context.Context) (map[string]any, error) {
		return nil, errors.New("upstream unavailable")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	var invErr *InvocationError

	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, 3, invErr.Attempts)
	assert.Equal(t, BreakerOpen, client.Breaker().State())
}

func TestClient_OpenCircuitShortCircuits(t *testing.T) {
	client := NewClient("nlu", testConfig(), slog.Default())

	_, err := client.Invoke(t.Context(), "classify", func(_ context.Context) (map[string]any, error) {
		return nil, errors.New("upstream unavailable")
	})
	require.Error(t, err)
	require.Equal(t, BreakerOpen, client.Breaker().State())

	calls := 0

	_, err = client.Invoke(t.Context(), "classify", func(_ context.Context) (map[string]any, error) {
		calls++

		return map[string]any{}, nil
	})

	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 0, calls, "no network attempt while the circuit is open")

	var coErr *CircuitOpenError

	require.ErrorAs(t, err, &coErr)
	assert.Equal(t, "nlu", coErr.Key)
	assert.Positive(t, coErr.RetryAfter)
}

func TestClient_FallbackProducesDegradedResult(t *testing.T) {
	client := NewClient("generation", testConfig(), slog.Default()).
		WithFallback(func(_ context.Context, _ error) map[string]any {
			return map[string]any{"text": "canned reply"}
		})

	result, err := client.Invoke(t.Context(), "generate", func(_ context.Context) (map[string]any, error) {
		return nil, errors.New("model overloaded")
	})

	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, "canned reply", result.Data["text"])
	assert.Equal(t, 3, result.Attempts)
}

func TestClient_FallbackCoversOpenCircuit(t *testing.T) {
	client := NewClient("generation", testConfig(), slog.Default()).
		WithFallback(func(_ context.Context, err error) map[string]any {
			assert.True(t, IsCircuitOpen(err))

			return map[string]any{"text": "degraded"}
		})

	for range 3 {
		client.Breaker().RecordFailure()
	}

	require.Equal(t, BreakerOpen, client.Breaker().State())

	result, err := client.Invoke(t.Context(), "generate", func(_ context.Context) (map[string]any, error) {
		t.Fatal("operation must not run while the circuit is open")

		return nil, nil
	})

	require.NoError(t, err)
	assert.True(t, result.Degraded)
}

func TestClient_TimeoutIsRetryable(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2

	client := NewClient("tool:check_balance", cfg, slog.Default())
	calls := 0

	_, err := client.Invoke(t.Context(), "call", func(ctx context.Context) (map[string]any, error) {
		calls++
		<-ctx.Done()

		return nil, ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, client.Breaker().ConsecutiveFailures())
}
