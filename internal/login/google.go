package login

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
)

var googleEndpoint = google.Endpoint

const userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// googleUserInfo is the subset of the OpenID userinfo response we use.
type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (m *Manager) saveState(w http.ResponseWriter) string {
	state := rand.Text()

	http.SetCookie(w, &http.Cookie{
		Name:     "state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes - enough time for the OAuth flow
	})

	return state
}

// GoogleLoginHandler initiates the Google OAuth flow at GET /api/auth/google.
func (m *Manager) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	if m.google == nil {
		http.Error(w, "google sign-in is not configured", http.StatusNotFound)
		return
	}

	log.Debug().Msg("Initiating Google OAuth flow")
	state := m.saveState(w)

	http.Redirect(w, r, m.google.AuthCodeURL(state), http.StatusFound)
}

// GoogleCallbackHandler completes the OAuth flow at
// GET /api/auth/google/callback: validate state, exchange the code,
// find-or-create the parent account, and sign in.
func (m *Manager) GoogleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if m.google == nil {
		http.Error(w, "google sign-in is not configured", http.StatusNotFound)
		return
	}

	state := r.FormValue("state")
	code := r.FormValue("code")
	if state == "" || code == "" {
		log.Warn().Msg("OAuth callback missing state or code")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie("state")
	if err != nil || state != cookie.Value {
		log.Warn().Msg("OAuth callback state mismatch")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	// Clear the state cookie after validation
	http.SetCookie(w, &http.Cookie{
		Name:     "state",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	token, err := m.google.Exchange(r.Context(), code)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to exchange OAuth code for token")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	info, err := m.getUserInfo(r.Context(), token)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch user info from Google")
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}

	if info.Email == "" {
		log.Warn().Msg("Google user info missing email address")
		http.Error(w, "Email address required", http.StatusBadRequest)
		return
	}

	user, err := m.findOrCreateGoogleUser(r, info)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve Google user")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if _, err := m.signIn(w, r, user, "google"); err != nil {
		log.Error().Err(err).Msg("Failed to sign in Google user")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, user.Role.HomePath(), http.StatusFound)
}

func (m *Manager) getUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	// Timeout so a slow identity provider can't hang the callback
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := m.google.Client(ctx, token)
	resp, err := client.Get(userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request returned %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}

	return &info, nil
}

// findOrCreateGoogleUser resolves the Google identity to a parent
// account: by linked subject first, then by email, else a fresh family
// with a synthesized default profile (first sign-in with no user
// document is not an error).
func (m *Manager) findOrCreateGoogleUser(r *http.Request, info *googleUserInfo) (*models.User, error) {
	ctx := r.Context()

	if user, err := m.stores.Users.GetByGoogleID(ctx, info.Sub); err == nil {
		return user, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	if user, err := m.stores.Users.GetByEmail(ctx, info.Email); err == nil {
		// Existing password account with the same verified email; link it.
		return user, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	log.Info().Str("email", info.Email).Msg("First Google sign-in, synthesizing profile")
	user, err := m.createParent(r, info.Email, nil, &info.Sub, info.Name, "")
	if err != nil {
		return nil, err
	}
	if info.Picture != "" {
		patch := &models.ProfilePatch{AvatarURL: &info.Picture}
		if updated, patchErr := m.stores.Users.UpdateProfile(ctx, user.UserID, patch); patchErr == nil {
			user = updated
		}
	}

	return user, nil
}
