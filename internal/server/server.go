// Package server exposes the JSON API: stories, profiles, kid
// management, and session status for the idle-warning UI.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/login"
	"github.com/fableden/fableden/internal/narration"
	"github.com/fableden/fableden/internal/session"
	"github.com/fableden/fableden/internal/store"
)

// Stores bundles the stores the API handlers need.
type Stores struct {
	Users    store.UserStore
	Families store.FamilyStore
	Stories  store.StoryStore
	Sessions store.SessionStore
}

// Server holds the API dependencies.
type Server struct {
	stores    Stores
	narration *narration.Service
	guard     *session.Guard
	logins    *login.Manager
	issuer    *auth.JWTIssuer
}

// New creates the API server.
func New(stores Stores, narrationSvc *narration.Service, guard *session.Guard, logins *login.Manager, issuer *auth.JWTIssuer) *Server {
	return &Server{
		stores:    stores,
		narration: narrationSvc,
		guard:     guard,
		logins:    logins,
		issuer:    issuer,
	}
}

// Router builds the /api router. authMiddleware guards everything except
// the auth entry points and public share resolution.
func (s *Server) Router(authMiddleware func(http.Handler) http.Handler) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	// Public: sign-in surface and shared stories
	api.HandleFunc("/auth/login", s.logins.LoginHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/kid-login", s.logins.KidLoginHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", s.logins.RegisterHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.logins.LogoutHandler).Methods(http.MethodPost, http.MethodGet)
	api.HandleFunc("/auth/forgot-password", s.logins.ForgotPasswordHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset-password", s.logins.ResetPasswordHandler).Methods(http.MethodPost)
	api.HandleFunc("/auth/google", s.logins.GoogleLoginHandler).Methods(http.MethodGet)
	api.HandleFunc("/auth/google/callback", s.logins.GoogleCallbackHandler).Methods(http.MethodGet)
	api.HandleFunc("/shared/{code}", s.ResolveShareHandler).Methods(http.MethodGet)
	api.HandleFunc("/session", s.SessionStatusHandler).Methods(http.MethodGet)

	// Authenticated
	authed := api.NewRoute().Subrouter()
	authed.Use(mux.MiddlewareFunc(authMiddleware))

	authed.HandleFunc("/auth/token", s.TokenHandler).Methods(http.MethodPost)
	authed.HandleFunc("/session/activity", s.ActivityHandler).Methods(http.MethodPost)
	authed.HandleFunc("/session/extend", s.ExtendSessionHandler).Methods(http.MethodPost)

	authed.HandleFunc("/stories", s.ListStoriesHandler).Methods(http.MethodGet)
	authed.HandleFunc("/stories", auth.RequireParent(s.CreateStoryHandler)).Methods(http.MethodPost)
	authed.HandleFunc("/stories/{id}", s.GetStoryHandler).Methods(http.MethodGet)
	authed.HandleFunc("/stories/{id}", auth.RequireParent(s.UpdateStoryHandler)).Methods(http.MethodPatch, http.MethodPut)
	authed.HandleFunc("/stories/{id}", auth.RequireParent(s.DeleteStoryHandler)).Methods(http.MethodDelete)
	authed.HandleFunc("/stories/{id}/share", auth.RequireParent(s.ShareStoryHandler)).Methods(http.MethodPost)
	authed.HandleFunc("/stories/{id}/narration", auth.RequireParent(s.RegisterNarrationHandler)).Methods(http.MethodPut)
	authed.HandleFunc("/stories/{id}/narration", s.NarrationURLHandler).Methods(http.MethodGet)

	authed.HandleFunc("/profile", s.GetProfileHandler).Methods(http.MethodGet)
	authed.HandleFunc("/profile", s.UpdateProfileHandler).Methods(http.MethodPatch)

	authed.HandleFunc("/family", auth.RequireParent(s.GetFamilyHandler)).Methods(http.MethodGet)
	authed.HandleFunc("/family/kids", s.ListKidsHandler).Methods(http.MethodGet)
	authed.HandleFunc("/family/kids", auth.RequireParent(s.CreateKidHandler)).Methods(http.MethodPost)
	authed.HandleFunc("/family/kids/{id}", auth.RequireParent(s.UpdateKidHandler)).Methods(http.MethodPatch)
	authed.HandleFunc("/family/kids/{id}", auth.RequireParent(s.DeleteKidHandler)).Methods(http.MethodDelete)
	authed.HandleFunc("/family/kids/{id}/pin", auth.RequireParent(s.ResetKidPINHandler)).Methods(http.MethodPut)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func principalOr401(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return principal, true
}
