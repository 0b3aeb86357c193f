package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/store"
)

type sessionStatusResponse struct {
	Authenticated  bool   `json:"authenticated"`
	Reason         string `json:"reason,omitempty"` // "idle" after a forced logout
	Role           string `json:"role,omitempty"`
	WarningVisible bool   `json:"warning_visible"`
	WarningAt      string `json:"warning_at,omitempty"`
	LogoutAt       string `json:"logout_at,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// SessionStatusHandler reports the idle-watch state for the current
// session at GET /api/session. The browser polls this to drive the
// warning dialog and, after a forced logout, to learn the "idle" reason
// before navigating to /login?reason=idle.
func (s *Server) SessionStatusHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := s.logins.GetPrincipal(r)
	if err != nil {
		resp := sessionStatusResponse{Authenticated: false}
		// The cookie may still name a session the idle guard evicted.
		if payload, cookieErr := s.logins.Codec().FromRequest(r); cookieErr == nil {
			if s.logins.WasIdleEvicted(payload.SessionID) {
				resp.Reason = "idle"
			} else {
				// Revoked elsewhere; cancel any idle watch still armed.
				s.guard.Stop(payload.SessionID)
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp := sessionStatusResponse{
		Authenticated: true,
		Role:          string(principal.Role),
	}
	if snap, ok := s.guard.Snapshot(principal.SessionID); ok {
		resp.WarningVisible = snap.WarningVisible
		resp.WarningAt = snap.WarningAt.Format(time.RFC3339)
		if !snap.LogoutAt.IsZero() {
			resp.LogoutAt = snap.LogoutAt.Format(time.RFC3339)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ActivityHandler records a qualifying user activity event at
// POST /api/session/activity. The browser batches mouse/key/touch/scroll
// events; the guard throttles further to one reset per second.
func (s *Server) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	s.guard.Activity(principal.SessionID)
	if err := s.stores.Sessions.UpdateActivity(r.Context(), principal.SessionID, time.Now()); err != nil &&
		!errors.Is(err, store.ErrSessionNotFound) {
		log.Debug().Err(err).Msg("Failed to persist session activity")
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExtendSessionHandler is the explicit "stay logged in" action at
// POST /api/session/extend. It dismisses the warning and re-arms the
// idle watch; activity alone never does this while the warning is up.
func (s *Server) ExtendSessionHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	s.guard.Dismiss(principal.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

// TokenHandler issues a short-lived API JWT for the current session at
// POST /api/auth/token, letting the frontend call the API without
// re-sending the cookie cross-origin.
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}

	token, ttl, err := s.issuer.Issue(principal)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign API token")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	})
}
