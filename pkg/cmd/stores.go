package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/pkg/checkpoint"
	checkpointmemory "github.com/parleyhq/parley/pkg/checkpoint/memory"
	checkpointredis "github.com/parleyhq/parley/pkg/checkpoint/redis"
	"github.com/parleyhq/parley/pkg/session"
	sessionmemory "github.com/parleyhq/parley/pkg/session/memory"
	"github.com/parleyhq/parley/pkg/session/postgresql"
)

// NewCheckpointStore picks the checkpoint backend from the URL scheme: Redis
// for redis:// URLs, in-memory when the URL is empty.
func NewCheckpointStore(ctx context.Context, redisURL string, logger *slog.Logger) checkpoint.Store {
	if redisURL == "" {
		logger.Warn("No REDIS_URL configured, using in-memory checkpoint store")

		return checkpointmemory.NewStore()
	}

	store, err := checkpointredis.Connect(ctx, redisURL, logger)
	if err != nil {
		panic(fmt.Errorf("failed to connect checkpoint store: %w", err))
	}

	return store
}

// NewSessionStore picks the session backend from the URL scheme: PostgreSQL
// for postgres:// URLs, in-memory when the URL is empty.
func NewSessionStore(ctx context.Context, databaseURL string, logger *slog.Logger) session.Store {
	if databaseURL == "" {
		logger.Warn("No DATABASE_URL configured, using in-memory session store")

		return sessionmemory.NewStore()
	}

	if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
		panic("Unsupported session store URL: " + databaseURL)
	}

	store, err := postgresql.NewStore(ctx, logger, databaseURL)
	if err != nil {
		panic(fmt.Errorf("failed to connect session store: %w", err))
	}

	return store
}
