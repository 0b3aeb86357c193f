package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
	"github.com/fableden/fableden/internal/telemetry"
)

type storyResponse struct {
	StoryID   string             `json:"story_id"`
	AuthorID  string             `json:"author_id"`
	Title     string             `json:"title"`
	Pages     []models.StoryPage `json:"pages"`
	AgeRange  string             `json:"age_range,omitempty"`
	Tags      []string           `json:"tags,omitempty"`
	Status    string             `json:"status"`
	HasAudio  bool               `json:"has_audio"`
	ShareCode string             `json:"share_code,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type createStoryRequest struct {
	Title    string             `json:"title"`
	Pages    []models.StoryPage `json:"pages"`
	AgeRange string             `json:"age_range"`
	Tags     []string           `json:"tags"`
}

type updateStoryRequest struct {
	Title    *string             `json:"title"`
	Pages    *[]models.StoryPage `json:"pages"`
	AgeRange *string             `json:"age_range"`
	Tags     *[]string           `json:"tags"`
	Status   *string             `json:"status"`
}

type registerNarrationRequest struct {
	Key string `json:"key"`
}

func toStoryResponse(story *models.Story) storyResponse {
	return storyResponse{
		StoryID:   story.StoryID.String(),
		AuthorID:  story.AuthorID.String(),
		Title:     story.Title,
		Pages:     story.Pages,
		AgeRange:  story.AgeRange,
		Tags:      story.Tags,
		Status:    string(story.Status),
		HasAudio:  story.NarrationKey != "",
		ShareCode: story.ShareCode,
		CreatedAt: story.CreatedAt,
		UpdatedAt: story.UpdatedAt,
	}
}

// ListStoriesHandler lists the family's stories at GET /api/stories with
// optional filters: status, age, tag, q, mine. Child sessions only ever
// see published stories.
func (s *Server) ListStoriesHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := &models.StoryFilter{
		FamilyID: principal.FamilyID,
		Status:   models.StoryStatus(q.Get("status")),
		AgeRange: q.Get("age"),
		Tag:      q.Get("tag"),
		Query:    q.Get("q"),
	}
	if q.Get("mine") == "true" {
		filter.AuthorID = principal.UserID
	}
	if !principal.IsParent() {
		filter.Status = models.StoryStatusPublished
	}

	stories, err := s.stores.Stories.List(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list stories")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]storyResponse, 0, len(stories))
	for _, story := range stories {
		resp = append(resp, toStoryResponse(story))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateStoryHandler creates a draft story at POST /api/stories.
func (s *Server) CreateStoryHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	storyID, err := uuid.NewV7()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	story := &models.Story{
		StoryID:   storyID,
		FamilyID:  principal.FamilyID,
		AuthorID:  principal.UserID,
		Title:     req.Title,
		Pages:     req.Pages,
		AgeRange:  req.AgeRange,
		Tags:      req.Tags,
		Status:    models.StoryStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.stores.Stories.Create(r.Context(), story); err != nil {
		log.Error().Err(err).Msg("Failed to create story")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	telemetry.GetMetrics().StoriesCreatedTotal.Add(r.Context(), 1)
	log.Info().
		Str("story_id", storyID.String()).
		Str("author_id", principal.UserID.String()).
		Msg("Story created")

	writeJSON(w, http.StatusCreated, toStoryResponse(story))
}

// GetStoryHandler returns one story at GET /api/stories/{id}. Children
// can only fetch published stories.
func (s *Server) GetStoryHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	story, ok := s.loadFamilyStory(w, r, principal)
	if !ok {
		return
	}
	if !principal.IsParent() && story.Status != models.StoryStatusPublished {
		http.Error(w, "story not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toStoryResponse(story))
}

// UpdateStoryHandler merge-updates a story at PATCH /api/stories/{id}.
func (s *Server) UpdateStoryHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	story, ok := s.loadFamilyStory(w, r, principal)
	if !ok {
		return
	}

	var req updateStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	patch := &models.StoryPatch{
		Title:    req.Title,
		Pages:    req.Pages,
		AgeRange: req.AgeRange,
		Tags:     req.Tags,
	}
	if req.Status != nil {
		status := models.StoryStatus(*req.Status)
		if status != models.StoryStatusDraft && status != models.StoryStatusPublished {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		patch.Status = &status
		if status == models.StoryStatusPublished && story.Status != models.StoryStatusPublished {
			telemetry.GetMetrics().StoriesPublishedTotal.Add(r.Context(), 1)
		}
	}

	updated, err := s.stores.Stories.Update(r.Context(), story.StoryID, patch)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update story")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toStoryResponse(updated))
}

// DeleteStoryHandler removes a story at DELETE /api/stories/{id}.
func (s *Server) DeleteStoryHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	story, ok := s.loadFamilyStory(w, r, principal)
	if !ok {
		return
	}

	if err := s.stores.Stories.Delete(r.Context(), story.StoryID); err != nil {
		log.Error().Err(err).Msg("Failed to delete story")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ShareStoryHandler mints (or returns) the story's share code at
// POST /api/stories/{id}/share. Codes are base58 of the story UUID, so
// they're short, unambiguous, and stable per story.
func (s *Server) ShareStoryHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	story, ok := s.loadFamilyStory(w, r, principal)
	if !ok {
		return
	}

	if story.ShareCode == "" {
		code := base58.Encode(story.StoryID[:])
		if err := s.stores.Stories.SetShareCode(r.Context(), story.StoryID, code); err != nil {
			log.Error().Err(err).Msg("Failed to set share code")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		story.ShareCode = code
	}

	writeJSON(w, http.StatusOK, map[string]string{"share_code": story.ShareCode})
}

// ResolveShareHandler resolves a share code at GET /api/shared/{code}
// without a session. Only published stories resolve.
func (s *Server) ResolveShareHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	story, err := s.stores.Stories.GetByShareCode(r.Context(), code)
	if err != nil || story.Status != models.StoryStatusPublished {
		http.Error(w, "story not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toStoryResponse(story))
}

// RegisterNarrationHandler attaches a narration object to a story at
// PUT /api/stories/{id}/narration. The audio was already uploaded to the
// external store; we verify it exists and record its checksum.
func (s *Server) RegisterNarrationHandler(w http.ResponseWriter, r *http.Request) {
	if s.narration == nil {
		http.Error(w, "narration is not configured", http.StatusServiceUnavailable)
		return
	}

	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	story, ok := s.loadFamilyStory(w, r, principal)
	if !ok {
		return
	}

	var req registerNarrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, "narration key is required", http.StatusBadRequest)
		return
	}

	if _, err := s.narration.FetchMetadata(r.Context(), req.Key); err != nil {
		log.Warn().Err(err).Str("key", req.Key).Msg("Narration object not reachable")
		http.Error(w, "narration object not found", http.StatusBadRequest)
		return
	}

	checksum, err := s.narration.ChecksumObject(r.Context(), req.Key)
	if err != nil {
		log.Error().Err(err).Str("key", req.Key).Msg("Failed to checksum narration")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	updated, err := s.stores.Stories.Update(r.Context(), story.StoryID, &models.StoryPatch{
		NarrationKey:      &req.Key,
		NarrationChecksum: &checksum,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to record narration")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toStoryResponse(updated))
}

// NarrationURLHandler returns a signed playback URL at
// GET /api/stories/{id}/narration.
func (s *Server) NarrationURLHandler(w http.ResponseWriter, r *http.Request) {
	if s.narration == nil {
		http.Error(w, "narration is not configured", http.StatusServiceUnavailable)
		return
	}

	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	story, ok := s.loadFamilyStory(w, r, principal)
	if !ok {
		return
	}
	if !principal.IsParent() && story.Status != models.StoryStatusPublished {
		http.Error(w, "story not found", http.StatusNotFound)
		return
	}
	if story.NarrationKey == "" {
		http.Error(w, "story has no narration", http.StatusNotFound)
		return
	}

	url, err := s.narration.SignPlaybackURL(r.Context(), story.NarrationKey)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign narration URL")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":      url,
		"checksum": story.NarrationChecksum,
	})
}

// loadFamilyStory fetches the {id} story and enforces family ownership.
// A story in another family reads as not found.
func (s *Server) loadFamilyStory(w http.ResponseWriter, r *http.Request, principal *auth.Principal) (*models.Story, bool) {
	storyID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid story ID", http.StatusBadRequest)
		return nil, false
	}

	story, err := s.stores.Stories.Get(r.Context(), storyID)
	if err != nil {
		if errors.Is(err, store.ErrStoryNotFound) {
			http.Error(w, "story not found", http.StatusNotFound)
		} else {
			log.Error().Err(err).Msg("Failed to load story")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return nil, false
	}

	if story.FamilyID != principal.FamilyID {
		http.Error(w, "story not found", http.StatusNotFound)
		return nil, false
	}

	return story, true
}
