package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/pkg/resilience"
)

// HTTPCaller invokes tools over HTTP: POST {baseURL}/tools/{name} with the
// argument object as JSON body, expecting a JSON object back.
type HTTPCaller struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCaller creates a caller against a tool service base URL. The
// http.Client carries no timeout of its own; the resilient client's
// per-attempt context enforces it.
func NewHTTPCaller(baseURL string) *HTTPCaller {
	return &HTTPCaller{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// CallTool performs the remote call. 4xx responses are marked permanent:
// they are caller errors, not dependency health signals.
func (c *HTTPCaller) CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to encode arguments: %w", err))
	}

	url := c.baseURL + "/tools/" + name

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("tool service returned %d: %s", resp.StatusCode, payload)
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.Permanent(fmt.Errorf("tool rejected the call with %d: %s", resp.StatusCode, payload))
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to decode tool response: %w", err)
	}

	return data, nil
}
