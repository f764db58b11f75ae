// Package postgresql provides PostgreSQL session persistence for production use.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/session"
	"github.com/parleyhq/parley/pkg/session/sqlbase"
)

// Store implements session.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects to PostgreSQL, runs migrations and returns the store.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: database, logger: logger}, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL,
				intent_history JSONB NOT NULL DEFAULT '[]',
				turn_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id);
			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status);
		`,
	}
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, sess *models.Session) error {
	historyJSON, err := json.Marshal(sess.IntentHistory)
	if err != nil {
		return &session.StoreError{Op: "Create", SessionID: sess.ID, Err: err}
	}

	query := `
		INSERT INTO sessions (id, user_id, status, intent_history, turn_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, string(sess.Status), historyJSON, sess.TurnCount, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return &session.StoreError{Op: "Create", SessionID: sess.ID, Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return &session.StoreError{Op: "Create", SessionID: sess.ID, Err: err}
	}

	if rows == 0 {
		return &session.StoreError{Op: "Create", SessionID: sess.ID, Err: session.ErrAlreadyExists}
	}

	return nil
}

// Get returns the session with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT
			id
		  , user_id
		  , status
		  , intent_history
		  , turn_count
		  , created_at
		  , updated_at
		FROM sessions
		WHERE id = $1
	`

	sess, err := s.scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &session.StoreError{Op: "Get", SessionID: id, Err: session.ErrNotFound}
		}

		return nil, &session.StoreError{Op: "Get", SessionID: id, Err: err}
	}

	return sess, nil
}

// List returns sessions matching the filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter session.ListFilter) ([]*models.Session, error) {
	query := `
		SELECT
			id
		  , user_id
		  , status
		  , intent_history
		  , turn_count
		  , created_at
		  , updated_at
		FROM sessions
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, filter.UserID, string(filter.Status))
	if err != nil {
		return nil, &session.StoreError{Op: "List", Err: err}
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	sessions := make([]*models.Session, 0)

	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, &session.StoreError{Op: "List", Err: err}
		}

		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, &session.StoreError{Op: "List", Err: err}
	}

	return sessions, nil
}

// Update replaces a stored session. Ended sessions reject further writes.
func (s *Store) Update(ctx context.Context, sess *models.Session) error {
	historyJSON, err := json.Marshal(sess.IntentHistory)
	if err != nil {
		return &session.StoreError{Op: "Update", SessionID: sess.ID, Err: err}
	}

	query := `
		UPDATE sessions
		SET user_id = $2
		  , status = $3
		  , intent_history = $4
		  , turn_count = $5
		  , updated_at = $6
		WHERE id = $1
		  AND (status <> 'ended' OR $3 = 'ended')
	`

	result, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, string(sess.Status), historyJSON, sess.TurnCount, time.Now().UTC())
	if err != nil {
		return &session.StoreError{Op: "Update", SessionID: sess.ID, Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return &session.StoreError{Op: "Update", SessionID: sess.ID, Err: err}
	}

	if rows == 0 {
		return s.classifyMissedWrite(ctx, "Update", sess.ID)
	}

	return nil
}

// UpdateStatus changes only the session status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	query := `
		UPDATE sessions
		SET status = $2
		  , updated_at = $3
		WHERE id = $1
		  AND status <> 'ended'
	`

	result, err := s.db.ExecContext(ctx, query, id, string(status), time.Now().UTC())
	if err != nil {
		return &session.StoreError{Op: "UpdateStatus", SessionID: id, Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return &session.StoreError{Op: "UpdateStatus", SessionID: id, Err: err}
	}

	if rows == 0 {
		return s.classifyMissedWrite(ctx, "UpdateStatus", id)
	}

	return nil
}

// classifyMissedWrite distinguishes a missing session from an ended one when
// an UPDATE matched no rows.
func (s *Store) classifyMissedWrite(ctx context.Context, op, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return &session.StoreError{Op: op, SessionID: id, Err: session.ErrNotFound}
	}

	if existing.Ended() {
		return &session.StoreError{Op: op, SessionID: id, Err: session.ErrSessionEnded}
	}

	return &session.StoreError{Op: op, SessionID: id, Err: session.ErrNotFound}
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess        models.Session
		status      string
		historyJSON []byte
	)

	err := row.Scan(&sess.ID, &sess.UserID, &status, &historyJSON, &sess.TurnCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = models.SessionStatus(status)

	if err := json.Unmarshal(historyJSON, &sess.IntentHistory); err != nil {
		return nil, fmt.Errorf("failed to decode intent history: %w", err)
	}

	return &sess, nil
}
