package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
)

const storyColumns = `
	story_id, family_id, author_id,
	title, pages, age_range, tags, status,
	narration_key, narration_checksum, share_code,
	created_at, updated_at
`

// StoryStore implements store.StoryStore using PostgreSQL. Pages are
// stored as JSONB, tags as a text array.
type StoryStore struct {
	pool *pgxpool.Pool
}

// NewStoryStore creates a new PostgreSQL-backed story store.
// It shares the connection pool with other stores.
func NewStoryStore(pool *pgxpool.Pool) *StoryStore {
	return &StoryStore{
		pool: pool,
	}
}

// Create creates a new story in the database.
func (s *StoryStore) Create(ctx context.Context, story *models.Story) error {
	pages, err := json.Marshal(story.Pages)
	if err != nil {
		return fmt.Errorf("failed to marshal story pages: %w", err)
	}

	query := `
		INSERT INTO stories (
			story_id, family_id, author_id,
			title, pages, age_range, tags, status,
			narration_key, narration_checksum, share_code,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err = s.pool.Exec(ctx, query,
		story.StoryID,
		story.FamilyID,
		story.AuthorID,
		story.Title,
		pages,
		story.AgeRange,
		story.Tags,
		story.Status,
		story.NarrationKey,
		story.NarrationChecksum,
		nullableCode(story.ShareCode),
		story.CreatedAt,
		story.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create story: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("story_id", story.StoryID.String()).
		Str("title", story.Title).
		Msg("Created story")

	return nil
}

// Get retrieves a story by ID.
func (s *StoryStore) Get(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE story_id = $1`
	return s.getOne(ctx, query, storyID)
}

// GetByShareCode retrieves a story by its share code.
func (s *StoryStore) GetByShareCode(ctx context.Context, code string) (*models.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE share_code = $1`
	return s.getOne(ctx, query, code)
}

// Update applies a partial update. Nil patch fields are left unchanged
// via COALESCE.
func (s *StoryStore) Update(ctx context.Context, storyID uuid.UUID, patch *models.StoryPatch) (*models.Story, error) {
	var pages any
	if patch.Pages != nil {
		data, err := json.Marshal(*patch.Pages)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal story pages: %w", err)
		}
		pages = data
	}

	var tags any
	if patch.Tags != nil {
		tags = *patch.Tags
	}

	query := `
		UPDATE stories SET
			title = COALESCE($2, title),
			pages = COALESCE($3::jsonb, pages),
			age_range = COALESCE($4, age_range),
			tags = COALESCE($5::text[], tags),
			status = COALESCE($6, status),
			narration_key = COALESCE($7, narration_key),
			narration_checksum = COALESCE($8, narration_checksum),
			updated_at = $9
		WHERE story_id = $1
		RETURNING ` + storyColumns

	story, err := s.scanOne(s.pool.QueryRow(ctx, query,
		storyID,
		patch.Title,
		pages,
		patch.AgeRange,
		tags,
		patch.Status,
		patch.NarrationKey,
		patch.NarrationChecksum,
		time.Now(),
	))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrStoryNotFound
		}
		return nil, fmt.Errorf("failed to update story: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("story_id", storyID.String()).
		Msg("Updated story")

	return story, nil
}

// SetShareCode records the share code for a story.
func (s *StoryStore) SetShareCode(ctx context.Context, storyID uuid.UUID, code string) error {
	query := `
		UPDATE stories SET
			share_code = $2,
			updated_at = $3
		WHERE story_id = $1
	`

	result, err := s.pool.Exec(ctx, query, storyID, code, time.Now())
	if err != nil {
		if uniqueConstraint(err) == "stories_share_code_key" {
			return store.ErrShareCodeTaken
		}
		return fmt.Errorf("failed to set share code: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrStoryNotFound
	}

	log.Debug().
		Str("story_id", storyID.String()).
		Str("share_code", code).
		Msg("Set story share code")

	return nil
}

// List returns stories matching the filter, newest first.
func (s *StoryStore) List(ctx context.Context, filter *models.StoryFilter) ([]*models.Story, error) {
	query := `
		SELECT ` + storyColumns + `
		FROM stories
		WHERE family_id = $1
			AND ($2::uuid IS NULL OR author_id = $2)
			AND ($3 = '' OR status = $3)
			AND ($4 = '' OR age_range = $4)
			AND ($5 = '' OR $5 = ANY(tags))
			AND ($6 = '' OR title ILIKE '%' || $6 || '%')
		ORDER BY created_at DESC
	`

	var authorID any
	if filter.AuthorID != uuid.Nil {
		authorID = filter.AuthorID
	}

	rows, err := s.pool.Query(ctx, query,
		filter.FamilyID,
		authorID,
		string(filter.Status),
		filter.AgeRange,
		filter.Tag,
		filter.Query,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var stories []*models.Story
	for rows.Next() {
		story, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, story)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stories: %w", err)
	}

	return stories, nil
}

// Delete deletes a story by ID.
func (s *StoryStore) Delete(ctx context.Context, storyID uuid.UUID) error {
	query := `DELETE FROM stories WHERE story_id = $1`

	result, err := s.pool.Exec(ctx, query, storyID)
	if err != nil {
		return fmt.Errorf("failed to delete story: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrStoryNotFound
	}

	log.Info().
		Str("story_id", storyID.String()).
		Msg("Deleted story")

	return nil
}

func (s *StoryStore) getOne(ctx context.Context, query string, arg any) (*models.Story, error) {
	story, err := s.scanOne(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrStoryNotFound
		}
		return nil, fmt.Errorf("failed to get story: %w", mapPostgresError(err))
	}
	return story, nil
}

// scanOne scans a row in storyColumns order, decoding the JSONB pages
// column and the nullable share code.
func (s *StoryStore) scanOne(row pgx.Row) (*models.Story, error) {
	var story models.Story
	var pages []byte
	var shareCode *string

	err := row.Scan(
		&story.StoryID,
		&story.FamilyID,
		&story.AuthorID,
		&story.Title,
		&pages,
		&story.AgeRange,
		&story.Tags,
		&story.Status,
		&story.NarrationKey,
		&story.NarrationChecksum,
		&shareCode,
		&story.CreatedAt,
		&story.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(pages, &story.Pages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal story pages: %w", err)
	}
	if shareCode != nil {
		story.ShareCode = *shareCode
	}

	return &story, nil
}

// nullableCode maps "" to NULL so the partial unique index on share_code
// ignores unshared stories.
func nullableCode(code string) any {
	if code == "" {
		return nil
	}
	return code
}
