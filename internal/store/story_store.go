package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/fableden/fableden/internal/models"
)

// StoryStore defines the interface for story document storage.
type StoryStore interface {
	// Create creates a new story.
	Create(ctx context.Context, story *models.Story) error

	// Get retrieves a story by ID.
	Get(ctx context.Context, storyID uuid.UUID) (*models.Story, error)

	// GetByShareCode retrieves a story by its share code.
	GetByShareCode(ctx context.Context, code string) (*models.Story, error)

	// Update applies a partial update. Nil patch fields are left unchanged.
	Update(ctx context.Context, storyID uuid.UUID, patch *models.StoryPatch) (*models.Story, error)

	// SetShareCode records the share code for a story. Returns
	// ErrShareCodeTaken if another story already uses the code.
	SetShareCode(ctx context.Context, storyID uuid.UUID, code string) error

	// List returns stories matching the filter, newest first.
	List(ctx context.Context, filter *models.StoryFilter) ([]*models.Story, error)

	// Delete removes a story.
	Delete(ctx context.Context, storyID uuid.UUID) error
}
