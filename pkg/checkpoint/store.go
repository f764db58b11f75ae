// Package checkpoint provides the versioned snapshot store that lets a
// conversation span multiple independent requests without losing context.
package checkpoint

import (
	"context"

	"github.com/parleyhq/parley/pkg/models"
)

// Store persists and retrieves workflow state snapshots per conversation
// thread. Versions are strictly increasing per thread, and Load never returns
// a partially written state: only fully-written versions become visible.
//
// Save takes the version the caller loaded as a precondition (0 when no
// checkpoint existed). A stale write fails with ErrVersionConflict instead of
// silently overwriting: this is both the lost-update guard and the replay
// guard for already-processed turns.
type Store interface {
	Save(ctx context.Context, threadID string, state *models.WorkflowState, expectedVersion int64) (int64, error)
	Load(ctx context.Context, threadID string) (*models.Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
