// Package session provides the audit-trail session store. Sessions record
// conversation metadata for reporting and compliance; they never drive
// control-flow decisions.
package session

import (
	"context"

	"github.com/parleyhq/parley/pkg/models"
)

// ListFilter narrows session listings.
type ListFilter struct {
	UserID string
	Status models.SessionStatus
}

// Store persists audit sessions keyed by session id (= thread id).
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
