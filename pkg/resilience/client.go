package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Operation performs one attempt against the remote dependency. The context
// carries the per-attempt timeout.
type Operation func(ctx context.Context) (map[string]any, error)

// Fallback produces a degraded result when an invocation terminally fails.
type Fallback func(ctx context.Context, err error) map[string]any

// Config tunes one resilient client.
type Config struct {
	FailureThreshold int           // Consecutive failures before the circuit opens
	Cooldown         time.Duration // How long the circuit stays open
	MaxAttempts      int           // Attempts per logical Invoke, including the first
	CallTimeout      time.Duration // Per-attempt timeout
	InitialBackoff   time.Duration // First retry delay; grows exponentially
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}

	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}

	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}

	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}

	return c
}

// Result is the outcome of a successful (possibly degraded) invocation.
type Result struct {
	Data     map[string]any
	Attempts int
	Degraded bool // True when the data came from a registered fallback
	Latency  time.Duration
}

// Client makes outbound calls to one logical dependency survivable. Each
// client owns its breaker; clients for different dependency keys share
// nothing.
type Client struct {
	key      string
	cfg      Config
	breaker  *Breaker
	fallback Fallback
	logger   *slog.Logger
}

// NewClient creates a resilient client for a dependency key.
func NewClient(key string, cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()

	return &Client{
		key:     key,
		cfg:     cfg,
		breaker: NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
		logger:  logger.With("dependency", key),
	}
}

// WithFallback registers a fallback producing a degraded result when the
// invocation terminally fails. Returns the client for chaining.
func (c *Client) WithFallback(fb Fallback) *Client {
	c.fallback = fb

	return c
}

// Key returns the dependency key this client is bound to.
func (c *Client) Key() string {
	return c.key
}

// Breaker exposes the owned breaker for health reporting.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Invoke runs op with retry, per-attempt timeout and circuit breaking.
//
// Failures marked with Permanent fail fast: no retry, no breaker count, no
// fallback: they are caller errors, not dependency health signals. All other
// failures (timeouts, transport errors, 5xx-equivalents) are retried with
// growing backoff up to MaxAttempts; each counts toward the breaker. When the
// call ultimately fails, a registered fallback converts the failure into a
// degraded result instead of an error.
func (c *Client) Invoke(ctx context.Context, operation string, op Operation) (*Result, error) {
	start := time.Now()
	attempts := 0

	var data map[string]any

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.InitialBackoff

	policy := backoff.WithContext(
		backoff.WithMaxRetries(expo, uint64(c.cfg.MaxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		if wait, ok := c.breaker.Allow(); !ok {
			return backoff.Permanent(&CircuitOpenError{Key: c.key, RetryAfter: wait})
		}

		attempts++

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()

		out, callErr := op(callCtx)
		if callErr == nil {
			c.breaker.RecordSuccess()
			data = out

			return nil
		}

		if IsPermanent(callErr) {
			return backoff.Permanent(callErr)
		}

		c.breaker.RecordFailure()
		c.logger.WarnContext(ctx, "Dependency call failed",
			"operation", operation,
			"attempt", attempts,
			"error", callErr)

		return callErr
	}, policy)

	latency := time.Since(start)

	if err == nil {
		return &Result{Data: data, Attempts: attempts, Latency: latency}, nil
	}

	if IsPermanent(err) && !IsCircuitOpen(err) {
		return nil, err
	}

	var failure error
	if IsCircuitOpen(err) {
		failure = err
	} else {
		failure = &InvocationError{Key: c.key, Operation: operation, Attempts: attempts, Err: err}
	}

	if c.fallback != nil {
		c.logger.WarnContext(ctx, "Serving fallback after terminal failure",
			"operation", operation,
			"attempts", attempts,
			"error", failure)

		return &Result{
			Data:     c.fallback(ctx, failure),
			Attempts: attempts,
			Degraded: true,
			Latency:  latency,
		}, nil
	}

	return nil, failure
}
