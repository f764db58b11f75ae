// Package redis provides a Redis-backed checkpoint store for production use.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/checkpoint"
	"github.com/parleyhq/parley/pkg/models"
)

const keyPrefix = "parley:checkpoint:"

// Store implements checkpoint.Store on Redis. Each version is written under
// its own key; a per-thread latest pointer is updated in the same MULTI/EXEC
// transaction, so readers only ever observe fully-written versions. Version
// preconditions are enforced with an optimistic WATCH on the latest pointer.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewStore creates a checkpoint store on an existing Redis client.
func NewStore(client redis.UniversalClient, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger.With("module", "checkpoint_redis"),
	}
}

// Connect dials Redis from a URL (redis://...), verifies the connection and
// returns a store on it.
func Connect(ctx context.Context, redisURL string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewStore(client, logger), nil
}

func latestKey(threadID string) string {
	return keyPrefix + threadID + ":latest"
}

func versionKey(threadID string, version int64) string {
	return fmt.Sprintf("%s%s:v%d", keyPrefix, threadID, version)
}

// Save writes the next checkpoint version if expectedVersion still matches
// the thread's latest pointer.
func (s *Store) Save(ctx context.Context, threadID string, state *models.WorkflowState, expectedVersion int64) (int64, error) {
	var version int64

	txn := func(tx *redis.Tx) error {
		latest, err := tx.Get(ctx, latestKey(threadID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read latest version: %w", err)
		}

		if latest != expectedVersion {
			return fmt.Errorf("%w: expected %d, latest is %d", checkpoint.ErrVersionConflict, expectedVersion, latest)
		}

		version = latest + 1

		raw, err := json.Marshal(&models.Checkpoint{
			ThreadID:  threadID,
			Version:   version,
			State:     state,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, versionKey(threadID, version), raw, 0)
			pipe.Set(ctx, latestKey(threadID), version, 0)

			return nil
		})

		return err
	}

	err := s.client.Watch(ctx, txn, latestKey(threadID))
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			err = fmt.Errorf("%w: latest pointer changed mid-write", checkpoint.ErrVersionConflict)
		}

		return 0, &checkpoint.StoreError{Op: "Save", ThreadID: threadID, Err: err}
	}

	return version, nil
}

// Load returns the checkpoint the latest pointer designates.
func (s *Store) Load(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	latest, err := s.client.Get(ctx, latestKey(threadID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &checkpoint.StoreError{Op: "Load", ThreadID: threadID, Err: checkpoint.ErrNotFound}
		}

		return nil, &checkpoint.StoreError{Op: "Load", ThreadID: threadID, Err: err}
	}

	raw, err := s.client.Get(ctx, versionKey(threadID, latest)).Bytes()
	if err != nil {
		return nil, &checkpoint.StoreError{Op: "Load", ThreadID: threadID, Err: err}
	}

	cp := &models.Checkpoint{}
	if err := json.Unmarshal(raw, cp); err != nil {
		return nil, &checkpoint.StoreError{Op: "Load", ThreadID: threadID, Err: fmt.Errorf("failed to decode checkpoint: %w", err)}
	}

	return cp, nil
}

// Delete removes the full checkpoint history for a thread.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	latest, err := s.client.Get(ctx, latestKey(threadID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return &checkpoint.StoreError{Op: "Delete", ThreadID: threadID, Err: err}
	}

	keys := make([]string, 0, latest+1)
	for v := int64(1); v <= latest; v++ {
		keys = append(keys, versionKey(threadID, v))
	}

	keys = append(keys, latestKey(threadID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &checkpoint.StoreError{Op: "Delete", ThreadID: threadID, Err: err}
	}

	return nil
}

// HealthCheck pings Redis.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close(_ context.Context) error {
	return s.client.Close()
}
