// Package login owns sign-in and sign-out for the application:
// email/password and Google OAuth for parents, PIN sign-in for kids,
// password reset, and the session lifecycle shared with the idle guard.
package login

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/httpx"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/routeguard"
	"github.com/fableden/fableden/internal/session"
	"github.com/fableden/fableden/internal/store"
	"github.com/fableden/fableden/internal/telemetry"
)

// Stores bundles the stores the login flow needs.
type Stores struct {
	Users    store.UserStore
	Families store.FamilyStore
	Sessions store.SessionStore
}

// Config holds login configuration.
type Config struct {
	SessionTTL time.Duration // hard session expiry, independent of idle logout
	ResetTTL   time.Duration // password reset token lifetime

	// Google OAuth; all three empty disables the Google sign-in routes.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string
}

// Manager wires authentication handlers, the cookie codec, the stores and
// the idle guard together.
type Manager struct {
	codec  *auth.CookieCodec
	stores Stores
	guard  *session.Guard
	cfg    Config
	google *oauth2.Config

	// Sessions recently removed by the idle guard, kept briefly so the
	// session status endpoint can tell the browser why it was signed out.
	mu          sync.Mutex
	idleEvicted map[uuid.UUID]time.Time
}

// NewManager creates a login manager. The guard is attached afterwards via
// AttachGuard because the guard's logout callback needs the manager.
func NewManager(codec *auth.CookieCodec, stores Stores, cfg Config) (*Manager, error) {
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("session TTL must be greater than 0")
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}

	m := &Manager{
		codec:       codec,
		stores:      stores,
		cfg:         cfg,
		idleEvicted: make(map[uuid.UUID]time.Time),
	}

	if cfg.GoogleClientID != "" || cfg.GoogleClientSecret != "" || cfg.GoogleCallbackURL != "" {
		if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" || cfg.GoogleCallbackURL == "" {
			return nil, fmt.Errorf("google client ID, client secret, and callback URL are all required")
		}
		m.google = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleCallbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     googleEndpoint,
		}
	}

	return m, nil
}

// AttachGuard wires the idle guard to the manager.
func (m *Manager) AttachGuard(guard *session.Guard) {
	m.guard = guard
}

// Codec exposes the cookie codec for handlers that need to inspect the
// raw session payload.
func (m *Manager) Codec() *auth.CookieCodec {
	return m.codec
}

// IdleCallbacks returns the guard callbacks: on forced logout the session
// row is deleted best-effort and the eviction recorded. A store failure is
// logged and state still cleared so the UI never appears stuck.
func (m *Manager) IdleCallbacks() session.Callbacks {
	return session.Callbacks{
		OnWarning: func(sessionID uuid.UUID) {
			telemetry.CountIdleWarning(context.Background())
		},
		OnLogout: func(ctx context.Context, sessionID uuid.UUID) {
			if err := m.stores.Sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
				log.Error().Err(err).
					Str("session_id", sessionID.String()).
					Msg("Failed to delete session on idle logout, local state cleared anyway")
			}
			m.markIdleEvicted(sessionID)
			telemetry.CountIdleLogout(ctx)
		},
	}
}

// GetPrincipal implements auth.SessionProvider: validate the signed
// cookie, then confirm the session row still exists server-side.
func (m *Manager) GetPrincipal(r *http.Request) (*auth.Principal, error) {
	payload, err := m.codec.FromRequest(r)
	if err != nil {
		return nil, err
	}

	sess, err := m.stores.Sessions.Get(r.Context(), payload.SessionID)
	if err != nil {
		return nil, auth.ErrInvalidSession
	}

	return &auth.Principal{
		UserID:    sess.UserID,
		FamilyID:  sess.FamilyID,
		SessionID: sess.SessionID,
		Role:      sess.Role,
		Email:     payload.Email,
	}, nil
}

// Visitor resolves the route guard's view of a request. Any failure —
// missing cookie, bad signature, revoked or idle-evicted session — maps
// to nil, i.e. unauthenticated.
func (m *Manager) Visitor(r *http.Request) *routeguard.Visitor {
	principal, err := m.GetPrincipal(r)
	if err != nil {
		return nil
	}
	return &routeguard.Visitor{Role: principal.Role, Email: principal.Email}
}

// WasIdleEvicted reports whether a session was recently removed by the
// idle guard, so the session status endpoint can return reason "idle".
func (m *Manager) WasIdleEvicted(sessionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.idleEvicted[sessionID]
	if !ok {
		return false
	}
	if time.Since(at) > 10*time.Minute {
		delete(m.idleEvicted, sessionID)
		return false
	}
	return true
}

func (m *Manager) markIdleEvicted(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Opportunistic sweep; the map only ever holds recent evictions.
	cutoff := time.Now().Add(-10 * time.Minute)
	for id, at := range m.idleEvicted {
		if at.Before(cutoff) {
			delete(m.idleEvicted, id)
		}
	}
	m.idleEvicted[sessionID] = time.Now()
}

// signIn creates the session row, starts the idle watch, and sets the
// signed cookie. Returns the created session.
func (m *Manager) signIn(w http.ResponseWriter, r *http.Request, user *models.User, method string) (*models.Session, error) {
	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	email := ""
	if user.Email != nil {
		email = *user.Email
	}

	sess := &models.Session{
		SessionID:      sessionID,
		UserID:         user.UserID,
		FamilyID:       user.FamilyID,
		Role:           user.Role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.SessionTTL),
		LastActivityAt: now,
		UserAgent:      r.UserAgent(),
		IPAddress:      httpx.ClientIPFromContext(r.Context()),
	}
	if err := m.stores.Sessions.Create(r.Context(), sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if m.guard != nil {
		m.guard.Start(sessionID)
	}

	if err := m.codec.SetCookie(w, &auth.TokenPayload{
		SessionID: sessionID,
		Role:      user.Role,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: sess.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to set session cookie: %w", err)
	}

	telemetry.CountSignIn(r.Context(), method)
	log.Info().
		Str("user_id", user.UserID.String()).
		Str("role", string(user.Role)).
		Str("method", method).
		Msg("User signed in")

	return sess, nil
}

// signOut tears down the session: cancel the idle watch, delete the row
// best-effort, and clear the cookie.
func (m *Manager) signOut(ctx context.Context, w http.ResponseWriter, sessionID uuid.UUID) {
	if m.guard != nil {
		m.guard.Stop(sessionID)
	}

	if err := m.stores.Sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		log.Error().Err(err).
			Str("session_id", sessionID.String()).
			Msg("Failed to delete session on logout, clearing cookie anyway")
	}

	m.codec.ClearCookie(w)
	telemetry.CountSignOut(ctx)
}
