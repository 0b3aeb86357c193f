package postgres

import (
	"context"
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

// FamilyStore implements store.FamilyStore using PostgreSQL.
type FamilyStore struct {
	pool *pgxpool.Pool
}

// NewFamilyStore creates a new PostgreSQL-backed family store.
// It shares the connection pool with other stores.
func NewFamilyStore(pool *pgxpool.Pool) *FamilyStore {
	return &FamilyStore{
		pool: pool,
	}
}

// Create creates a new family in the database.
func (s *FamilyStore) Create(ctx context.Context, family *models.Family) error {
	query := `
		INSERT INTO families (
			family_id, name, owner_user_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := s.pool.Exec(ctx, query,
		family.FamilyID,
		family.Name,
		family.OwnerUserID,
		family.CreatedAt,
		family.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create family: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("family_id", family.FamilyID.String()).
		Str("name", family.Name).
		Msg("Created family")

	return nil
}

// Get retrieves a family by ID.
func (s *FamilyStore) Get(ctx context.Context, familyID uuid.UUID) (*models.Family, error) {
	query := `
		SELECT family_id, name, owner_user_id, created_at, updated_at
		FROM families
		WHERE family_id = $1
	`

	var family models.Family
	err := s.pool.QueryRow(ctx, query, familyID).Scan(
		&family.FamilyID,
		&family.Name,
		&family.OwnerUserID,
		&family.CreatedAt,
		&family.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrFamilyNotFound
		}
		return nil, fmt.Errorf("failed to get family: %w", mapPostgresError(err))
	}

	return &family, nil
}

// Update updates an existing family.
func (s *FamilyStore) Update(ctx context.Context, family *models.Family) error {
	family.UpdatedAt = time.Now()

	query := `
		UPDATE families SET
			name = $2,
			owner_user_id = $3,
			updated_at = $4
		WHERE family_id = $1
	`

	result, err := s.pool.Exec(ctx, query,
		family.FamilyID,
		family.Name,
		family.OwnerUserID,
		family.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update family: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrFamilyNotFound
	}

	log.Debug().
		Str("family_id", family.FamilyID.String()).
		Msg("Updated family")

	return nil
}
