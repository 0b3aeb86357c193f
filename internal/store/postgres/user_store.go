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

const userColumns = `
	user_id, family_id, role,
	email, password_hash, google_id, pin_hash,
	display_name, avatar_url, reading_level,
	created_at, updated_at
`

// UserStore implements store.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new PostgreSQL-backed user store.
// It shares the connection pool with other stores.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{
		pool: pool,
	}
}

// Create creates a new user in the database.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := s.pool.Exec(ctx, query,
		user.UserID,
		user.FamilyID,
		user.Role,
		user.Email,
		user.PasswordHash,
		user.GoogleID,
		user.PINHash,
		user.DisplayName,
		user.AvatarURL,
		user.ReadingLevel,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("user_id", user.UserID.String()).
		Str("role", string(user.Role)).
		Msg("Created user")

	return nil
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	return s.getOne(ctx, query, userID)
}

// GetByEmail retrieves a parent user by email, case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return s.getOne(ctx, query, email)
}

// GetByGoogleID retrieves a parent user by linked Google subject.
func (s *UserStore) GetByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE google_id = $1`
	return s.getOne(ctx, query, googleID)
}

// UpdateProfile applies a partial profile update. Nil patch fields are
// left unchanged via COALESCE.
func (s *UserStore) UpdateProfile(ctx context.Context, userID uuid.UUID, patch *models.ProfilePatch) (*models.User, error) {
	query := `
		UPDATE users SET
			display_name = COALESCE($2, display_name),
			avatar_url = COALESCE($3, avatar_url),
			reading_level = COALESCE($4, reading_level),
			updated_at = $5
		WHERE user_id = $1
		RETURNING ` + userColumns

	var user models.User
	err := s.pool.QueryRow(ctx, query,
		userID,
		patch.DisplayName,
		patch.AvatarURL,
		patch.ReadingLevel,
		time.Now(),
	).Scan(userFields(&user)...)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("user_id", userID.String()).
		Msg("Updated profile")

	return &user, nil
}

// UpdateCredentials replaces the password hash or PIN hash. A nil argument
// leaves that credential unchanged.
func (s *UserStore) UpdateCredentials(ctx context.Context, userID uuid.UUID, passwordHash, pinHash *string) error {
	query := `
		UPDATE users SET
			password_hash = COALESCE($2, password_hash),
			pin_hash = COALESCE($3, pin_hash),
			updated_at = $4
		WHERE user_id = $1
	`

	result, err := s.pool.Exec(ctx, query, userID, passwordHash, pinHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}

	log.Debug().
		Str("user_id", userID.String()).
		Msg("Updated credentials")

	return nil
}

// ListByFamily returns users belonging to a family, optionally filtered
// by role ("" matches all roles).
func (s *UserStore) ListByFamily(ctx context.Context, familyID uuid.UUID, role models.Role) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE family_id = $1
			AND ($2 = '' OR role = $2)
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, familyID, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(userFields(&user)...); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// Delete deletes a user by ID.
func (s *UserStore) Delete(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM users WHERE user_id = $1`

	result, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}

	log.Info().
		Str("user_id", userID.String()).
		Msg("Deleted user")

	return nil
}

func (s *UserStore) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	var user models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(userFields(&user)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", mapPostgresError(err))
	}
	return &user, nil
}

// userFields returns scan destinations in userColumns order.
func userFields(user *models.User) []any {
	return []any{
		&user.UserID,
		&user.FamilyID,
		&user.Role,
		&user.Email,
		&user.PasswordHash,
		&user.GoogleID,
		&user.PINHash,
		&user.DisplayName,
		&user.AvatarURL,
		&user.ReadingLevel,
		&user.CreatedAt,
		&user.UpdatedAt,
	}
}
