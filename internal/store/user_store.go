package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/fableden/fableden/internal/models"
)

// UserStore defines the interface for user document storage.
type UserStore interface {
	// Create creates a new user. Returns ErrUserAlreadyExists if a user with
	// the same email already exists.
	Create(ctx context.Context, user *models.User) error

	// Get retrieves a user by ID.
	Get(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a parent user by email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// GetByGoogleID retrieves a parent user by linked Google subject.
	GetByGoogleID(ctx context.Context, googleID string) (*models.User, error)

	// UpdateProfile applies a partial profile update. Nil patch fields are
	// left unchanged (merge semantics).
	UpdateProfile(ctx context.Context, userID uuid.UUID, patch *models.ProfilePatch) (*models.User, error)

	// UpdateCredentials replaces the password hash (password reset) or PIN
	// hash (kid PIN reset). A nil argument leaves that credential unchanged.
	UpdateCredentials(ctx context.Context, userID uuid.UUID, passwordHash, pinHash *string) error

	// ListByFamily lists users belonging to a family, optionally filtered
	// by role ("" matches all roles).
	ListByFamily(ctx context.Context, familyID uuid.UUID, role models.Role) ([]*models.User, error)

	// Delete removes a user.
	Delete(ctx context.Context, userID uuid.UUID) error
}

// FamilyStore defines the interface for family storage.
type FamilyStore interface {
	Create(ctx context.Context, family *models.Family) error
	Get(ctx context.Context, familyID uuid.UUID) (*models.Family, error)
	Update(ctx context.Context, family *models.Family) error
}
