package login

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type kidLoginRequest struct {
	KidID string `json:"kid_id"`
	PIN   string `json:"pin"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FamilyName  string `json:"family_name"`
	DisplayName string `json:"display_name"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	Home        string `json:"home"`
}

// LoginHandler authenticates a parent with email and password at
// POST /api/auth/login.
func (m *Manager) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := m.stores.Users.GetByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil || user.PasswordHash == nil || !auth.VerifyPassword(*user.PasswordHash, req.Password) {
		// Same response for unknown email and wrong password
		log.Debug().Str("email", req.Email).Msg("Password sign-in rejected")
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	if _, err := m.signIn(w, r, user, "password"); err != nil {
		log.Error().Err(err).Msg("Failed to sign in")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:      user.UserID.String(),
		Role:        string(user.Role),
		DisplayName: user.DisplayName,
		Home:        user.Role.HomePath(),
	})
}

// KidLoginHandler authenticates a kid profile with its PIN at
// POST /api/auth/kid-login. Issues a child-role session.
func (m *Manager) KidLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req kidLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	kidID, err := uuid.Parse(req.KidID)
	if err != nil {
		http.Error(w, "invalid kid ID", http.StatusBadRequest)
		return
	}

	kid, err := m.stores.Users.Get(r.Context(), kidID)
	if err != nil || kid.Role != models.RoleChild || kid.PINHash == nil || !auth.VerifyPIN(*kid.PINHash, req.PIN) {
		log.Debug().Str("kid_id", req.KidID).Msg("PIN sign-in rejected")
		http.Error(w, "invalid PIN", http.StatusUnauthorized)
		return
	}

	if _, err := m.signIn(w, r, kid, "pin"); err != nil {
		log.Error().Err(err).Msg("Failed to sign in kid")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:      kid.UserID.String(),
		Role:        string(kid.Role),
		DisplayName: kid.DisplayName,
		Home:        kid.Role.HomePath(),
	})
}

// RegisterHandler creates a family and its parent account at
// POST /api/auth/register, then signs the parent in.
func (m *Manager) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		http.Error(w, "a valid email is required", http.StatusBadRequest)
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := m.createParent(r, email, &passwordHash, nil, req.DisplayName, req.FamilyName)
	if err != nil {
		if errors.Is(err, store.ErrUserAlreadyExists) {
			http.Error(w, "an account with that email already exists", http.StatusConflict)
			return
		}
		log.Error().Err(err).Msg("Failed to register user")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if _, err := m.signIn(w, r, user, "password"); err != nil {
		log.Error().Err(err).Msg("Failed to sign in after registration")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:      user.UserID.String(),
		Role:        string(user.Role),
		DisplayName: user.DisplayName,
		Home:        user.Role.HomePath(),
	})
}

// LogoutHandler tears down the current session at POST /api/auth/logout.
// Both timers are cancelled immediately; the cookie is cleared even when
// the store delete fails.
func (m *Manager) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := m.codec.FromRequest(r)
	if err != nil {
		// No valid session; still clear whatever cookie is there.
		m.codec.ClearCookie(w)
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	m.signOut(r.Context(), w, payload.SessionID)
	log.Info().Str("session_id", payload.SessionID.String()).Msg("User signed out")

	http.Redirect(w, r, "/login", http.StatusFound)
}

// ForgotPasswordHandler issues a password reset token at
// POST /api/auth/forgot-password. The response does not reveal whether
// the email exists; delivery is handed off to the external mailer.
func (m *Manager) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := m.stores.Users.GetByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err == nil {
		token, tokenErr := m.codec.NewResetToken(user.UserID, m.cfg.ResetTTL)
		if tokenErr != nil {
			log.Error().Err(tokenErr).Msg("Failed to create reset token")
		} else {
			// Mail delivery is external; hand the token off via the log
			// pipeline the mailer tails.
			log.Info().
				Str("user_id", user.UserID.String()).
				Str("reset_token", token).
				Msg("Password reset requested")
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

// ResetPasswordHandler sets a new password at POST /api/auth/reset-password
// and revokes every session for the user.
func (m *Manager) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID, err := m.codec.VerifyResetToken(req.Token)
	if err != nil {
		http.Error(w, "invalid or expired reset token", http.StatusBadRequest)
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := m.stores.Users.UpdateCredentials(r.Context(), userID, &passwordHash, nil); err != nil {
		log.Error().Err(err).Msg("Failed to update password")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if count, err := m.stores.Sessions.DeleteByUser(r.Context(), userID); err == nil && count > 0 {
		log.Info().Int("count", count).Str("user_id", userID.String()).Msg("Revoked sessions after password reset")
	}

	w.WriteHeader(http.StatusNoContent)
}

// createParent creates a family plus its parent account. The profile
// fields fall back to defaults when the caller has nothing better, the
// same way a first sign-in does.
func (m *Manager) createParent(r *http.Request, email string, passwordHash, googleID *string, displayName, familyName string) (*models.User, error) {
	now := time.Now()

	familyID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	userID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	defaultName, avatarURL, readingLevel := models.DefaultProfile(email)
	if displayName == "" {
		displayName = defaultName
	}
	if familyName == "" {
		familyName = displayName + "'s family"
	}

	user := &models.User{
		UserID:       userID,
		FamilyID:     familyID,
		Role:         models.RoleParent,
		Email:        &email,
		PasswordHash: passwordHash,
		GoogleID:     googleID,
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		ReadingLevel: readingLevel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.stores.Users.Create(r.Context(), user); err != nil {
		return nil, err
	}

	family := &models.Family{
		FamilyID:    familyID,
		Name:        familyName,
		OwnerUserID: userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.stores.Families.Create(r.Context(), family); err != nil {
		// Don't leave the user pointing at a family that was never created.
		if delErr := m.stores.Users.Delete(r.Context(), userID); delErr != nil {
			log.Error().Err(delErr).
				Str("user_id", userID.String()).
				Msg("Failed to remove user after family create error")
		}
		return nil, err
	}

	return user, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
