package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/engine"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/session"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func unavailable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(503).
		WithInstance(c.Path()).
		WithType("dependency_unavailable").
		WithDetail(detail)

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleTurnError maps orchestration and engine errors onto problem
// documents. Internal detail never reaches the response body.
func handleTurnError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsValidation(err):
		return badRequest(c, err.Error())

	case orchestrator.IsConversationBusy(err):
		return conflict(c, "conversation_busy",
			"another turn for this conversation is still being processed")

	case session.IsSessionEnded(err):
		return conflict(c, "session_ended",
			"this session has been ended and accepts no further turns")

	case errors.Is(err, engine.ErrThreadTerminal):
		return conflict(c, "conversation_completed",
			"this conversation has already completed")

	case errors.Is(err, checkpoint.ErrVersionConflict):
		return conflict(c, "checkpoint_conflict",
			"the conversation state changed while this turn was processed")

	case errors.Is(err, engine.ErrClassifierUnavailable):
		return unavailable(c, "the assistant is temporarily unavailable, please retry shortly")

	case session.IsNotFound(err):
		return notFound(c, "session not found")

	default:
		return internalError(c, err)
	}
}
