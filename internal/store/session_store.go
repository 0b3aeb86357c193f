package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/fableden/fableden/internal/models"
)

// SessionStore defines the interface for session storage.
type SessionStore interface {
	// Create creates a new session.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID. Returns ErrSessionExpired if the
	// session exists but has passed its hard expiry.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// UpdateActivity records the last qualifying activity time for a session.
	UpdateActivity(ctx context.Context, sessionID uuid.UUID, at time.Time) error

	// Delete deletes a session by ID (logout).
	Delete(ctx context.Context, sessionID uuid.UUID) error

	// DeleteByUser deletes all sessions for a user (logout everywhere).
	// Returns the number of sessions deleted.
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)

	// DeleteExpired deletes all sessions past hard expiry (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}
