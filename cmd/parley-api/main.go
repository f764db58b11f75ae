package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/parleyhq/parley/pkg/cmd"
	"github.com/parleyhq/parley/pkg/engine"
	"github.com/parleyhq/parley/pkg/generation"
	"github.com/parleyhq/parley/pkg/log"
	"github.com/parleyhq/parley/pkg/nlu"
	"github.com/parleyhq/parley/pkg/orchestrator"
	"github.com/parleyhq/parley/pkg/otelhelper"
	"github.com/parleyhq/parley/pkg/resilience"
)

const defaultPort = 8780

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "parley-api",
		Usage:                 "Conversational task orchestration API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL URL for the audit session store (in-memory when empty)",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the checkpoint store (in-memory when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "nlu-url",
				Usage:    "Base URL of the language-understanding service",
				Required: true,
				Sources:  cli.EnvVars("NLU_URL"),
			},
			&cli.StringFlag{
				Name:     "generation-url",
				Usage:    "Base URL of the response-generation service",
				Required: true,
				Sources:  cli.EnvVars("GENERATION_URL"),
			},
			&cli.StringFlag{
				Name:     "tools-url",
				Usage:    "Base URL of the banking tool service",
				Required: true,
				Sources:  cli.EnvVars("TOOLS_URL"),
			},
			&cli.DurationFlag{
				Name:    "session-idle-ttl",
				Usage:   "How long a session may stay idle before it is ended",
				Value:   30 * time.Minute,
				Sources: cli.EnvVars("SESSION_IDLE_TTL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Parley API")

			tracer, err := otelhelper.NewTracer(ctx, "parley-api")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			checkpoints := cmd.NewCheckpointStore(ctx, command.String("redis-url"), logger)
			defer func() {
				if err := checkpoints.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close checkpoint store", "error", err)
				}
			}()

			sessions := cmd.NewSessionStore(ctx, command.String("database-url"), logger)
			defer func() {
				if err := sessions.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close session store", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			clientCfg := resilience.Config{}
			registry := cmd.NewToolRegistry(command.String("tools-url"), clientCfg, logger)
			classifier := nlu.NewClient(command.String("nlu-url"), clientCfg, logger)
			responder := generation.NewClient(command.String("generation-url"), clientCfg, logger)

			eng := engine.NewEngine(
				engine.BankingCatalog(),
				classifier,
				responder,
				registry,
				checkpoints,
				engine.Config{},
				logger,
			)

			orch := orchestrator.NewOrchestrator(eng, sessions, eventBus, tracer, logger)
			defer orch.Close()

			if err := orch.StartExpirySweeper(ctx, "@every 5m", command.Duration("session-idle-ttl")); err != nil {
				return err
			}

			api := NewAPI(logger, orch, checkpoints, sessions, registry)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
