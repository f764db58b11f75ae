// Package main provides the Parley API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/session"
	"github.com/parleyhq/parley/pkg/tools"
	"github.com/parleyhq/parley/pkg/web"
)

type API struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	checkpoints  checkpoint.Store
	sessions     session.Store
	registry     *tools.Registry
	validate     *validator.Validate
}

func NewAPI(
	log *slog.Logger,
	orch *orchestrator.Orchestrator,
	checkpoints checkpoint.Store,
	sessions session.Store,
	registry *tools.Registry,
) *API {
	return &API{
		logger:       log,
		orchestrator: orch,
		checkpoints:  checkpoints,
		sessions:     sessions,
		registry:     registry,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.orchestrator,
		a.validate,
		a.checkpoints.HealthCheck,
		a.sessions.HealthCheck,
		a.registry,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Parley API")
	})

	threads := app.Group("/threads")
	threads.Post("/:id/turns", handlers.ProcessTurn)

	sessions := app.Group("/sessions")
	sessions.Get("/", handlers.ListSessions)
	sessions.Get("/:id", handlers.GetSession)
	sessions.Post("/:id/end", handlers.EndSession)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
