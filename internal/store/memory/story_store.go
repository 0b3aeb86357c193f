package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
)

// StoryStore implements store.StoryStore using in-memory storage.
type StoryStore struct {
	mu sync.RWMutex

	stories     map[uuid.UUID]*models.Story
	byShareCode map[string]uuid.UUID
}

// NewStoryStore creates a new in-memory story store.
func NewStoryStore() *StoryStore {
	return &StoryStore{
		stories:     make(map[uuid.UUID]*models.Story),
		byShareCode: make(map[string]uuid.UUID),
	}
}

// Create creates a new story.
func (s *StoryStore) Create(ctx context.Context, story *models.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneStory(story)
	s.stories[story.StoryID] = clone
	if story.ShareCode != "" {
		s.byShareCode[story.ShareCode] = story.StoryID
	}
	return nil
}

// Get retrieves a story by ID.
func (s *StoryStore) Get(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	story, exists := s.stories[storyID]
	if !exists {
		return nil, store.ErrStoryNotFound
	}

	return cloneStory(story), nil
}

// GetByShareCode retrieves a story by its share code.
func (s *StoryStore) GetByShareCode(ctx context.Context, code string) (*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	storyID, exists := s.byShareCode[code]
	if !exists {
		return nil, store.ErrStoryNotFound
	}

	return cloneStory(s.stories[storyID]), nil
}

// Update applies a partial update with merge semantics.
func (s *StoryStore) Update(ctx context.Context, storyID uuid.UUID, patch *models.StoryPatch) (*models.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	story, exists := s.stories[storyID]
	if !exists {
		return nil, store.ErrStoryNotFound
	}

	if patch.Title != nil {
		story.Title = *patch.Title
	}
	if patch.Pages != nil {
		story.Pages = slices.Clone(*patch.Pages)
	}
	if patch.AgeRange != nil {
		story.AgeRange = *patch.AgeRange
	}
	if patch.Tags != nil {
		story.Tags = slices.Clone(*patch.Tags)
	}
	if patch.Status != nil {
		story.Status = *patch.Status
	}
	if patch.NarrationKey != nil {
		story.NarrationKey = *patch.NarrationKey
	}
	if patch.NarrationChecksum != nil {
		story.NarrationChecksum = *patch.NarrationChecksum
	}
	story.UpdatedAt = time.Now()

	return cloneStory(story), nil
}

// SetShareCode records the share code for a story.
func (s *StoryStore) SetShareCode(ctx context.Context, storyID uuid.UUID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	story, exists := s.stories[storyID]
	if !exists {
		return store.ErrStoryNotFound
	}

	if owner, taken := s.byShareCode[code]; taken && owner != storyID {
		return store.ErrShareCodeTaken
	}

	if story.ShareCode != "" {
		delete(s.byShareCode, story.ShareCode)
	}
	story.ShareCode = code
	story.UpdatedAt = time.Now()
	s.byShareCode[code] = storyID

	return nil
}

// List returns stories matching the filter, newest first.
func (s *StoryStore) List(ctx context.Context, filter *models.StoryFilter) ([]*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Story
	for _, story := range s.stories {
		if !matchStory(story, filter) {
			continue
		}
		result = append(result, cloneStory(story))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Delete removes a story.
func (s *StoryStore) Delete(ctx context.Context, storyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	story, exists := s.stories[storyID]
	if !exists {
		return store.ErrStoryNotFound
	}

	if story.ShareCode != "" {
		delete(s.byShareCode, story.ShareCode)
	}
	delete(s.stories, storyID)

	return nil
}

func matchStory(story *models.Story, filter *models.StoryFilter) bool {
	if story.FamilyID != filter.FamilyID {
		return false
	}
	if filter.AuthorID != uuid.Nil && story.AuthorID != filter.AuthorID {
		return false
	}
	if filter.Status != "" && story.Status != filter.Status {
		return false
	}
	if filter.AgeRange != "" && story.AgeRange != filter.AgeRange {
		return false
	}
	if filter.Tag != "" && !slices.Contains(story.Tags, filter.Tag) {
		return false
	}
	if filter.Query != "" && !strings.Contains(strings.ToLower(story.Title), strings.ToLower(filter.Query)) {
		return false
	}
	return true
}

func cloneStory(story *models.Story) *models.Story {
	clone := *story
	clone.Pages = slices.Clone(story.Pages)
	clone.Tags = slices.Clone(story.Tags)
	return &clone
}
