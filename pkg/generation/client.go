// Package generation provides the client for the external response-generation
// service, with a deterministic local fallback so a generation outage degrades
// the reply instead of failing the turn.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/resilience"
)

// DependencyKey identifies the generation service to the resilient client.
const DependencyKey = "generation"

// Context is everything the generation service may use to phrase a reply.
type Context struct {
	Intent      string                                 `json:"intent,omitempty"`
	Stage       models.Stage                           `json:"stage"`
	Entities    map[string]any                         `json:"entities,omitempty"`
	ToolResults map[string]models.ToolInvocationRecord `json:"tool_results,omitempty"`
	Question    string                                 `json:"question,omitempty"`
	Degraded    bool                                   `json:"degraded,omitempty"`
}

// Reply is a phrased response, flagged when it came from the local fallback.
type Reply struct {
	Text     string
	Degraded bool
}

// Client calls the generation service through a resilient client bound to
// the "generation" dependency key.
type Client struct {
	baseURL    string
	httpClient *http.Client
	resilient  *resilience.Client
}

// NewClient creates a generation client against a base URL. The local phrase
// composer is registered as fallback, so Generate only errors on caller
// mistakes.
func NewClient(baseURL string, cfg resilience.Config, logger *slog.Logger) *Client {
	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}

	client.resilient = resilience.NewClient(DependencyKey, cfg, logger)

	return client
}

// Breaker exposes the breaker for health reporting.
func (c *Client) Breaker() *resilience.Breaker {
	return c.resilient.Breaker()
}

// Generate asks the service to phrase a reply for the given context. A
// dependency failure falls back to the local composer, so the only errors
// are caller mistakes.
func (c *Client) Generate(ctx context.Context, genCtx Context) (*Reply, error) {
	body, err := json.Marshal(genCtx)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	result, err := c.resilient.Invoke(ctx, "generate", func(ctx context.Context) (map[string]any, error) {
		return c.post(ctx, "/generate", body)
	})
	if err != nil {
		if resilience.IsPermanent(err) && !resilience.IsCircuitOpen(err) {
			return nil, err
		}

		return &Reply{Text: Compose(genCtx), Degraded: true}, nil
	}

	text, _ := result.Data["text"].(string)
	if text == "" {
		text = Compose(genCtx)
	}

	return &Reply{Text: text, Degraded: result.Degraded}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, raw)
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.Permanent(fmt.Errorf("generation rejected the request with %d: %s", resp.StatusCode, raw))
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	return data, nil
}
