package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
)

// FamilyStore implements store.FamilyStore using in-memory storage.
type FamilyStore struct {
	mu       sync.RWMutex
	families map[uuid.UUID]*models.Family
}

// NewFamilyStore creates a new in-memory family store.
func NewFamilyStore() *FamilyStore {
	return &FamilyStore{
		families: make(map[uuid.UUID]*models.Family),
	}
}

// Create creates a new family.
func (s *FamilyStore) Create(ctx context.Context, family *models.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *family
	s.families[family.FamilyID] = &clone
	return nil
}

// Get retrieves a family by ID.
func (s *FamilyStore) Get(ctx context.Context, familyID uuid.UUID) (*models.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	family, exists := s.families[familyID]
	if !exists {
		return nil, store.ErrFamilyNotFound
	}

	clone := *family
	return &clone, nil
}

// Update replaces a family's mutable fields.
func (s *FamilyStore) Update(ctx context.Context, family *models.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.families[family.FamilyID]
	if !exists {
		return store.ErrFamilyNotFound
	}

	existing.Name = family.Name
	existing.UpdatedAt = time.Now()
	return nil
}
