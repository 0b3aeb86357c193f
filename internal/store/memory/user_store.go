package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
)

// UserStore implements store.UserStore using in-memory storage.
type UserStore struct {
	mu sync.RWMutex

	users    map[uuid.UUID]*models.User
	byEmail  map[string]uuid.UUID
	byGoogle map[string]uuid.UUID
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users:    make(map[uuid.UUID]*models.User),
		byEmail:  make(map[string]uuid.UUID),
		byGoogle: make(map[string]uuid.UUID),
	}
}

// Create creates a new user.
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.UserID]; exists {
		return store.ErrUserAlreadyExists
	}
	if user.Email != nil {
		if _, exists := s.byEmail[strings.ToLower(*user.Email)]; exists {
			return store.ErrUserAlreadyExists
		}
	}

	clone := *user
	s.users[user.UserID] = &clone
	if user.Email != nil {
		s.byEmail[strings.ToLower(*user.Email)] = user.UserID
	}
	if user.GoogleID != nil {
		s.byGoogle[*user.GoogleID] = user.UserID
	}

	return nil
}

// Get retrieves a user by ID.
func (s *UserStore) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	clone := *user
	return &clone, nil
}

// GetByEmail retrieves a parent user by email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, exists := s.byEmail[strings.ToLower(email)]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	clone := *s.users[userID]
	return &clone, nil
}

// GetByGoogleID retrieves a parent user by linked Google subject.
func (s *UserStore) GetByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, exists := s.byGoogle[googleID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	clone := *s.users[userID]
	return &clone, nil
}

// UpdateProfile applies a partial profile update with merge semantics.
func (s *UserStore) UpdateProfile(ctx context.Context, userID uuid.UUID, patch *models.ProfilePatch) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, store.ErrUserNotFound
	}

	if patch.DisplayName != nil {
		user.DisplayName = *patch.DisplayName
	}
	if patch.AvatarURL != nil {
		user.AvatarURL = *patch.AvatarURL
	}
	if patch.ReadingLevel != nil {
		user.ReadingLevel = *patch.ReadingLevel
	}
	user.UpdatedAt = time.Now()

	clone := *user
	return &clone, nil
}

// UpdateCredentials replaces password and/or PIN hashes.
func (s *UserStore) UpdateCredentials(ctx context.Context, userID uuid.UUID, passwordHash, pinHash *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return store.ErrUserNotFound
	}

	if passwordHash != nil {
		user.PasswordHash = passwordHash
	}
	if pinHash != nil {
		user.PINHash = pinHash
	}
	user.UpdatedAt = time.Now()

	return nil
}

// ListByFamily lists users belonging to a family.
func (s *UserStore) ListByFamily(ctx context.Context, familyID uuid.UUID, role models.Role) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.User
	for _, user := range s.users {
		if user.FamilyID != familyID {
			continue
		}
		if role != "" && user.Role != role {
			continue
		}
		clone := *user
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Delete removes a user.
func (s *UserStore) Delete(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[userID]
	if !exists {
		return store.ErrUserNotFound
	}

	if user.Email != nil {
		delete(s.byEmail, strings.ToLower(*user.Email))
	}
	if user.GoogleID != nil {
		delete(s.byGoogle, *user.GoogleID)
	}
	delete(s.users, userID)

	return nil
}
