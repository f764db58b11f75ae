package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/resilience"
	"github.com/parleyhq/parley/pkg/session"
)

// TurnService is the orchestration surface the handlers depend on.
type TurnService interface {
	ProcessTurn(ctx context.Context, request orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, filter session.ListFilter) ([]*models.Session, error)
	EndSession(ctx context.Context, id, endedBy string) (*models.Session, error)
}

// HealthChecker reports whether one backing component is reachable.
type HealthChecker func(ctx context.Context) error

// ToolStatus exposes the tool registry's health surface.
type ToolStatus interface {
	Names() []string
	BreakerStates() map[string]resilience.BreakerState
}

type APIHandlers struct {
	service     TurnService
	validator   *validator.Validate
	checkpoints HealthChecker
	sessions    HealthChecker
	tools       ToolStatus
}

func NewAPIHandlers(
	service TurnService,
	validator *validator.Validate,
	checkpoints HealthChecker,
	sessions HealthChecker,
	tools ToolStatus,
) *APIHandlers {
	return &APIHandlers{
		service:     service,
		validator:   validator,
		checkpoints: checkpoints,
		sessions:    sessions,
		tools:       tools,
	}
}

func (h *APIHandlers) ProcessTurn(c fiber.Ctx) error {
	threadID := c.Params("id")
	if threadID == "" {
		return badRequest(c, "Thread ID is required")
	}

	var req ProcessTurnRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.service.ProcessTurn(c.Context(), orchestrator.TurnRequest{
		ThreadID:       threadID,
		UserID:         req.UserID,
		Text:           req.Text,
		IntentOverride: req.IntentOverride,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return handleTurnError(c, err)
	}

	return c.JSON(ProcessTurnResponse{
		Success:         result.Success,
		Response:        result.Response,
		NeedsHumanInput: result.NeedsHumanInput,
		Stage:           result.Stage,
		Degraded:        result.Degraded,
		Version:         result.Version,
	})
}

func (h *APIHandlers) ListSessions(c fiber.Ctx) error {
	filter := session.ListFilter{
		UserID: c.Query("user_id"),
		Status: models.SessionStatus(c.Query("status")),
	}

	sessions, err := h.service.ListSessions(c.Context(), filter)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"sessions":    sessions,
		"total_count": len(sessions),
	})
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	sess, err := h.service.GetSession(c.Context(), id)
	if err != nil {
		if session.IsNotFound(err) {
			return notFound(c, "Session not found")
		}

		return internalError(c, err)
	}

	return c.JSON(sess)
}

func (h *APIHandlers) EndSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	var req EndSessionRequest
	// The body is optional; ignore bind failures on an empty body.
	_ = c.Bind().JSON(&req)

	if req.EndedBy == "" {
		req.EndedBy = "api"
	}

	sess, err := h.service.EndSession(c.Context(), id, req.EndedBy)
	if err != nil {
		if session.IsNotFound(err) {
			return notFound(c, "Session not found")
		}

		return internalError(c, err)
	}

	return c.JSON(sess)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	checkpointErr := h.checkpoints(c.Context())
	sessionErr := h.sessions(c.Context())

	status := "unhealthy"
	message := "Parley API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if checkpointErr == nil && sessionErr == nil {
		status = "healthy"
		message = "Parley API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"checkpoint_store": checkResult(checkpointErr),
			"session_store":    checkResult(sessionErr),
			"tools": fiber.Map{
				"registered": h.tools.Names(),
				"breakers":   h.tools.BreakerStates(),
			},
		},
		"timestamp": time.Now().UTC(),
	})
}

func checkResult(err error) string {
	if err != nil {
		return "unhealthy: " + err.Error()
	}

	return "healthy"
}
