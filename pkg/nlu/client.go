// Package nlu provides the client for the external language-understanding
// service. Classification itself is a black box; this package only owns the
// wire contract and the resilience around it.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/pkg/resilience"
)

// DependencyKey identifies the understanding service to the resilient client.
const DependencyKey = "nlu"

// Classification is the understanding service's verdict on one turn.
type Classification struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities"`
	Degraded   bool           `json:"-"` // True when served from a fallback
}

// Client calls the classifier through a resilient client bound to the "nlu"
// dependency key.
type Client struct {
	baseURL    string
	httpClient *http.Client
	resilient  *resilience.Client
}

// NewClient creates a classifier client against a base URL.
func NewClient(baseURL string, cfg resilience.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		resilient:  resilience.NewClient(DependencyKey, cfg, logger),
	}
}

// WithFallback registers a degraded classification used when the service is
// unavailable. Without one, outages surface as errors and the conversation
// stays in CLASSIFYING.
func (c *Client) WithFallback(fb resilience.Fallback) *Client {
	c.resilient.WithFallback(fb)

	return c
}

// Breaker exposes the breaker for health reporting.
func (c *Client) Breaker() *resilience.Breaker {
	return c.resilient.Breaker()
}

// Classify sends the turn text to the understanding service.
func (c *Client) Classify(ctx context.Context, text, sessionID, userID string) (*Classification, error) {
	payload := map[string]any{
		"text":       text,
		"session_id": sessionID,
		"user_id":    userID,
	}

	result, err := c.resilient.Invoke(ctx, "classify", func(ctx context.Context) (map[string]any, error) {
		return c.post(ctx, "/classify", payload)
	})
	if err != nil {
		return nil, err
	}

	classification := &Classification{Degraded: result.Degraded}
	if err := decode(result.Data, classification); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}

	if classification.Entities == nil {
		classification.Entities = map[string]any{}
	}

	return classification, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nlu request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read nlu response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("nlu service returned %d: %s", resp.StatusCode, raw)
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.Permanent(fmt.Errorf("nlu rejected the request with %d: %s", resp.StatusCode, raw))
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode nlu response: %w", err)
	}

	return data, nil
}

func decode(data map[string]any, target any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, target)
}
