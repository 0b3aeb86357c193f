package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
)

type profileResponse struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	Email        string `json:"email,omitempty"`
	DisplayName  string `json:"display_name"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	ReadingLevel string `json:"reading_level,omitempty"`
}

type updateProfileRequest struct {
	DisplayName  *string `json:"display_name"`
	AvatarURL    *string `json:"avatar_url"`
	ReadingLevel *string `json:"reading_level"`
}

type familyResponse struct {
	FamilyID string `json:"family_id"`
	Name     string `json:"name"`
}

type createKidRequest struct {
	DisplayName  string `json:"display_name"`
	PIN          string `json:"pin"`
	ReadingLevel string `json:"reading_level"`
	AvatarURL    string `json:"avatar_url"`
}

type kidPINRequest struct {
	PIN string `json:"pin"`
}

func toProfileResponse(user *models.User) profileResponse {
	resp := profileResponse{
		UserID:       user.UserID.String(),
		Role:         string(user.Role),
		DisplayName:  user.DisplayName,
		AvatarURL:    user.AvatarURL,
		ReadingLevel: user.ReadingLevel,
	}
	if user.Email != nil {
		resp.Email = *user.Email
	}
	return resp
}

// GetProfileHandler returns the caller's profile at GET /api/profile.
// A missing user document is synthesized rather than failed: OAuth
// sign-ins can race profile creation.
func (s *Server) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	user, err := s.stores.Users.Get(r.Context(), principal.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			log.Error().Err(err).Msg("Failed to load profile")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		log.Info().Str("user_id", principal.UserID.String()).Msg("Missing user document, synthesizing default profile")
		displayName, avatarURL, readingLevel := models.DefaultProfile(principal.Email)
		now := time.Now()
		user = &models.User{
			UserID:       principal.UserID,
			FamilyID:     principal.FamilyID,
			Role:         principal.Role,
			DisplayName:  displayName,
			AvatarURL:    avatarURL,
			ReadingLevel: readingLevel,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if principal.Email != "" {
			email := principal.Email
			user.Email = &email
		}
		if createErr := s.stores.Users.Create(r.Context(), user); createErr != nil {
			log.Warn().Err(createErr).Msg("Failed to persist synthesized profile")
		}
	}

	writeJSON(w, http.StatusOK, toProfileResponse(user))
}

// UpdateProfileHandler merge-updates the caller's profile at
// PATCH /api/profile. Absent fields are left unchanged.
func (s *Server) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.stores.Users.UpdateProfile(r.Context(), principal.UserID, &models.ProfilePatch{
		DisplayName:  req.DisplayName,
		AvatarURL:    req.AvatarURL,
		ReadingLevel: req.ReadingLevel,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to update profile")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(user))
}

// GetFamilyHandler returns the caller's family at GET /api/family.
func (s *Server) GetFamilyHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	family, err := s.stores.Families.Get(r.Context(), principal.FamilyID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load family")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, familyResponse{
		FamilyID: family.FamilyID.String(),
		Name:     family.Name,
	})
}

// ListKidsHandler lists the family's kid profiles at GET /api/family/kids.
// Open to both roles: the kid sign-in screen needs the profile list.
func (s *Server) ListKidsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	kids, err := s.stores.Users.ListByFamily(r.Context(), principal.FamilyID, models.RoleChild)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list kids")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]profileResponse, 0, len(kids))
	for _, kid := range kids {
		resp = append(resp, toProfileResponse(kid))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateKidHandler creates a kid profile at POST /api/family/kids.
func (s *Server) CreateKidHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	var req createKidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		http.Error(w, "display name is required", http.StatusBadRequest)
		return
	}

	pinHash, err := auth.HashPIN(req.PIN)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	kidID, err := uuid.NewV7()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	readingLevel := req.ReadingLevel
	if readingLevel == "" {
		readingLevel = "pre-reader"
	}

	now := time.Now()
	kid := &models.User{
		UserID:       kidID,
		FamilyID:     principal.FamilyID,
		Role:         models.RoleChild,
		PINHash:      &pinHash,
		DisplayName:  req.DisplayName,
		AvatarURL:    req.AvatarURL,
		ReadingLevel: readingLevel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.stores.Users.Create(r.Context(), kid); err != nil {
		log.Error().Err(err).Msg("Failed to create kid profile")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("kid_id", kidID.String()).
		Str("family_id", principal.FamilyID.String()).
		Msg("Kid profile created")

	writeJSON(w, http.StatusCreated, toProfileResponse(kid))
}

// UpdateKidHandler merge-updates a kid profile at
// PATCH /api/family/kids/{id}.
func (s *Server) UpdateKidHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	kid, ok := s.loadFamilyKid(w, r, principal)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := s.stores.Users.UpdateProfile(r.Context(), kid.UserID, &models.ProfilePatch{
		DisplayName:  req.DisplayName,
		AvatarURL:    req.AvatarURL,
		ReadingLevel: req.ReadingLevel,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to update kid profile")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(updated))
}

// DeleteKidHandler removes a kid profile at DELETE /api/family/kids/{id}
// and revokes any sessions it holds.
func (s *Server) DeleteKidHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	kid, ok := s.loadFamilyKid(w, r, principal)
	if !ok {
		return
	}

	if err := s.stores.Users.Delete(r.Context(), kid.UserID); err != nil {
		log.Error().Err(err).Msg("Failed to delete kid profile")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if count, err := s.stores.Sessions.DeleteByUser(r.Context(), kid.UserID); err == nil && count > 0 {
		log.Info().Int("count", count).Msg("Revoked kid sessions")
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResetKidPINHandler replaces a kid's PIN at PUT /api/family/kids/{id}/pin.
func (s *Server) ResetKidPINHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	kid, ok := s.loadFamilyKid(w, r, principal)
	if !ok {
		return
	}

	var req kidPINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pinHash, err := auth.HashPIN(req.PIN)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.stores.Users.UpdateCredentials(r.Context(), kid.UserID, nil, &pinHash); err != nil {
		log.Error().Err(err).Msg("Failed to reset kid PIN")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadFamilyKid fetches the {id} kid profile and enforces that it is a
// child in the caller's family.
func (s *Server) loadFamilyKid(w http.ResponseWriter, r *http.Request, principal *auth.Principal) (*models.User, bool) {
	kidID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid kid ID", http.StatusBadRequest)
		return nil, false
	}

	kid, err := s.stores.Users.Get(r.Context(), kidID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			http.Error(w, "kid not found", http.StatusNotFound)
		} else {
			log.Error().Err(err).Msg("Failed to load kid profile")
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return nil, false
	}

	if kid.FamilyID != principal.FamilyID || kid.Role != models.RoleChild {
		http.Error(w, "kid not found", http.StatusNotFound)
		return nil, false
	}

	return kid, true
}
