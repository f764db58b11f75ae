package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/resilience"
)

// Definition declares one tool: its name, what it does, and the JSON Schema
// its arguments must satisfy. Fallback, when set, produces a degraded result
// if the remote call terminally fails.
type Definition struct {
	Name        string
	Description string
	Schema      *models.JSONSchema
	Fallback    resilience.Fallback
}

// Caller performs the actual remote tool call. Implementations must mark
// caller errors (4xx-equivalent) with resilience.Permanent so they are not
// retried and do not trip the breaker.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

type registeredTool struct {
	def      Definition
	compiled *gojsonschema.Schema
	client   *resilience.Client
}

// Registry maps tool names to their invocation schema and routes calls
// through a resilient client, one client (and thus one breaker) per tool.
// Registration happens at startup; the registry is read-only afterwards.
type Registry struct {
	logger    *slog.Logger
	caller    Caller
	clientCfg resilience.Config
	tools     map[string]*registeredTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, caller Caller, clientCfg resilience.Config) *Registry {
	return &Registry{
		logger:    logger.With("module", "tool_registry"),
		caller:    caller,
		clientCfg: clientCfg,
		tools:     make(map[string]*registeredTool),
	}
}

// Register validates and compiles a tool definition. Schema problems surface
// here, at startup, not at call time.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	if def.Schema == nil {
		return fmt.Errorf("tool %s: schema is required", def.Name)
	}

	raw, err := json.Marshal(def.Schema)
	if err != nil {
		return fmt.Errorf("tool %s: failed to encode schema: %w", def.Name, err)
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", def.Name, err)
	}

	client := resilience.NewClient("tool:"+def.Name, r.clientCfg, r.logger)
	if def.Fallback != nil {
		client = client.WithFallback(def.Fallback)
	}

	r.tools[def.Name] = &registeredTool{
		def:      def,
		compiled: compiled,
		client:   client,
	}

	r.logger.Info("Registered tool", "tool", def.Name)

	return nil
}

// Lookup returns the definition for a tool name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	tool, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}

	return tool.def, true
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}

	return names
}

// Call validates the arguments against the tool's schema and invokes the
// tool through its resilient client. The returned record is always populated;
// a non-nil error means the invocation terminally failed with no fallback.
func (r *Registry) Call(ctx context.Context, call models.ToolCall) (models.ToolInvocationRecord, error) {
	record := models.ToolInvocationRecord{
		CallID:   call.CallID,
		ToolName: call.ToolName,
		Input:    call.Args,
	}

	tool, ok := r.tools[call.ToolName]
	if !ok {
		record.Outcome = models.ToolOutcomeError
		record.Error = ErrToolNotRegistered.Error()

		return record, &InvocationError{ToolName: call.ToolName, CallID: call.CallID, Err: ErrToolNotRegistered}
	}

	if err := r.validateArgs(tool, call.Args); err != nil {
		record.Outcome = models.ToolOutcomeError
		record.Error = err.Error()

		return record, &InvocationError{ToolName: call.ToolName, CallID: call.CallID, Err: err}
	}

	result, err := tool.client.Invoke(ctx, "call", func(ctx context.Context) (map[string]any, error) {
		return r.caller.CallTool(ctx, call.ToolName, call.Args)
	})

	if err != nil {
		record.Error = err.Error()

		if resilience.IsCircuitOpen(err) {
			record.Outcome = models.ToolOutcomeCircuitOpen
		} else {
			record.Outcome = models.ToolOutcomeError
		}

		var invErr *resilience.InvocationError
		if errors.As(err, &invErr) {
			record.Attempts = invErr.Attempts
		}

		return record, &InvocationError{ToolName: call.ToolName, CallID: call.CallID, Err: err}
	}

	record.Attempts = result.Attempts
	record.Result = result.Data
	record.LatencyMs = result.Latency.Milliseconds()

	if result.Degraded {
		record.Outcome = models.ToolOutcomeFallback
	} else {
		record.Outcome = models.ToolOutcomeSuccess
	}

	return record, nil
}

// BreakerStates reports the breaker state per tool for health checks.
func (r *Registry) BreakerStates() map[string]resilience.BreakerState {
	states := make(map[string]resilience.BreakerState, len(r.tools))
	for name, tool := range r.tools {
		states[name] = tool.client.Breaker().State()
	}

	return states
}

func (r *Registry) validateArgs(tool *registeredTool, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	outcome, err := tool.compiled.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}

	if !outcome.Valid() {
		detail := ""
		for _, desc := range outcome.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += desc.String()
		}

		return fmt.Errorf("%w: %s", ErrInvalidArgs, detail)
	}

	return nil
}

