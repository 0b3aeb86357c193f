package server

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/login"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/narration"
	"github.com/fableden/fableden/internal/session"
	"github.com/fableden/fableden/internal/store/memory"
)

var testSecret = []byte("test-secret-key-minimum-32-characters!")

type testServer struct {
	srv    *Server
	stores Stores
	logins *login.Manager
	guard  *session.Guard
	issuer *auth.JWTIssuer
	codec  *auth.CookieCodec
}

func signingKeyPEM(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

func newTestServer(t *testing.T, narrationSvc *narration.Service) *testServer {
	t.Helper()

	codec, err := auth.NewCookieCodec(testSecret, true)
	require.NoError(t, err)

	users := memory.NewUserStore()
	families := memory.NewFamilyStore()
	sessions := memory.NewSessionStore()
	stores := Stores{
		Users:    users,
		Families: families,
		Stories:  memory.NewStoryStore(),
		Sessions: sessions,
	}

	logins, err := login.NewManager(codec, login.Stores{
		Users:    users,
		Families: families,
		Sessions: sessions,
	}, login.Config{SessionTTL: time.Hour})
	require.NoError(t, err)

	guard := session.NewGuard(session.Config{}, logins.IdleCallbacks(), zerolog.Nop())
	logins.AttachGuard(guard)
	t.Cleanup(guard.StopAll)

	issuer, err := auth.NewJWTIssuer(signingKeyPEM(t), time.Hour)
	require.NoError(t, err)

	return &testServer{
		srv:    New(stores, narrationSvc, guard, logins, issuer),
		stores: stores,
		logins: logins,
		guard:  guard,
		issuer: issuer,
		codec:  codec,
	}
}

func parentPrincipal() *auth.Principal {
	return &auth.Principal{
		UserID:    uuid.New(),
		FamilyID:  uuid.New(),
		SessionID: uuid.New(),
		Role:      models.RoleParent,
		Email:     "parent@example.com",
	}
}

func childPrincipal(familyID uuid.UUID) *auth.Principal {
	return &auth.Principal{
		UserID:    uuid.New(),
		FamilyID:  familyID,
		SessionID: uuid.New(),
		Role:      models.RoleChild,
	}
}

// call invokes a handler directly with an optional principal and mux vars.
func call(t *testing.T, handler http.HandlerFunc, method, target string, body any, principal *auth.Principal, vars map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if principal != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), principal))
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}

	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// stubAuth injects a fixed principal, or rejects when nil.
func stubAuth(principal *auth.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if principal == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

func TestRouter(t *testing.T) {
	t.Run("authenticated routes reject anonymous requests", func(t *testing.T) {
		ts := newTestServer(t, nil)
		router := ts.srv.Router(stubAuth(nil))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stories", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("child sessions cannot reach parent-only routes", func(t *testing.T) {
		ts := newTestServer(t, nil)
		router := ts.srv.Router(stubAuth(childPrincipal(uuid.New())))

		for _, tc := range []struct {
			method string
			path   string
		}{
			{http.MethodPost, "/api/stories"},
			{http.MethodDelete, "/api/stories/" + uuid.NewString()},
			{http.MethodPost, "/api/stories/" + uuid.NewString() + "/share"},
			{http.MethodGet, "/api/family"},
			{http.MethodPost, "/api/family/kids"},
		} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, bytes.NewReader(nil)))
			require.Equal(t, http.StatusForbidden, rec.Code, "%s %s", tc.method, tc.path)
		}
	})

	t.Run("share resolution is public", func(t *testing.T) {
		ts := newTestServer(t, nil)
		router := ts.srv.Router(stubAuth(nil))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/shared/NoSuchCode", nil))
		// 404 from the handler, not 401 from the middleware
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("session status is public", func(t *testing.T) {
		ts := newTestServer(t, nil)
		router := ts.srv.Router(stubAuth(nil))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func (ts *testServer) signInParent(t *testing.T) (*auth.Principal, *http.Cookie) {
	t.Helper()

	user := &models.User{
		UserID:      uuid.New(),
		FamilyID:    uuid.New(),
		Role:        models.RoleParent,
		DisplayName: "Parent",
	}
	email := "parent@example.com"
	user.Email = &email
	require.NoError(t, ts.stores.Users.Create(t.Context(), user))

	sessionID := uuid.New()
	now := time.Now()
	require.NoError(t, ts.stores.Sessions.Create(t.Context(), &models.Session{
		SessionID:      sessionID,
		UserID:         user.UserID,
		FamilyID:       user.FamilyID,
		Role:           user.Role,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		LastActivityAt: now,
	}))
	ts.guard.Start(sessionID)

	rec := httptest.NewRecorder()
	require.NoError(t, ts.codec.SetCookie(rec, &auth.TokenPayload{
		SessionID: sessionID,
		Role:      user.Role,
		Email:     email,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	return &auth.Principal{
		UserID:    user.UserID,
		FamilyID:  user.FamilyID,
		SessionID: sessionID,
		Role:      user.Role,
		Email:     email,
	}, cookies[0]
}

func TestSessionStatusHandler(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rec := httptest.NewRecorder()
		ts.srv.SessionStatusHandler(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeJSON[sessionStatusResponse](t, rec)
		require.False(t, resp.Authenticated)
		require.Empty(t, resp.Reason)
	})

	t.Run("live session reports the idle countdown", func(t *testing.T) {
		ts := newTestServer(t, nil)
		_, cookie := ts.signInParent(t)

		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		ts.srv.SessionStatusHandler(rec, req)

		resp := decodeJSON[sessionStatusResponse](t, rec)
		require.True(t, resp.Authenticated)
		require.Equal(t, "parent", resp.Role)
		require.False(t, resp.WarningVisible)
		require.NotEmpty(t, resp.WarningAt)
		require.Empty(t, resp.LogoutAt)
	})

	t.Run("idle-evicted session reports reason idle", func(t *testing.T) {
		ts := newTestServer(t, nil)
		principal, cookie := ts.signInParent(t)

		// Simulate the guard forcing the session out
		ts.guard.Stop(principal.SessionID)
		ts.logins.IdleCallbacks().OnLogout(t.Context(), principal.SessionID)

		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		ts.srv.SessionStatusHandler(rec, req)

		resp := decodeJSON[sessionStatusResponse](t, rec)
		require.False(t, resp.Authenticated)
		require.Equal(t, "idle", resp.Reason)
	})

	t.Run("revoked session has no reason and loses its watch", func(t *testing.T) {
		ts := newTestServer(t, nil)
		principal, cookie := ts.signInParent(t)

		// Revoked elsewhere; the idle watch is still armed.
		_, err := ts.stores.Sessions.DeleteByUser(t.Context(), principal.UserID)
		require.NoError(t, err)
		_, watched := ts.guard.Snapshot(principal.SessionID)
		require.True(t, watched)

		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		ts.srv.SessionStatusHandler(rec, req)

		resp := decodeJSON[sessionStatusResponse](t, rec)
		require.False(t, resp.Authenticated)
		require.Empty(t, resp.Reason)

		_, watched = ts.guard.Snapshot(principal.SessionID)
		require.False(t, watched)
	})
}

func TestActivityHandler(t *testing.T) {
	t.Run("records activity", func(t *testing.T) {
		ts := newTestServer(t, nil)
		principal, _ := ts.signInParent(t)

		before, err := ts.stores.Sessions.Get(t.Context(), principal.SessionID)
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		rec := call(t, ts.srv.ActivityHandler, http.MethodPost, "/api/session/activity", nil, principal, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		after, err := ts.stores.Sessions.Get(t.Context(), principal.SessionID)
		require.NoError(t, err)
		require.True(t, after.LastActivityAt.After(before.LastActivityAt))
	})

	t.Run("unauthenticated", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec := call(t, ts.srv.ActivityHandler, http.MethodPost, "/api/session/activity", nil, nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestExtendSessionHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	principal, _ := ts.signInParent(t)

	rec := call(t, ts.srv.ExtendSessionHandler, http.MethodPost, "/api/session/extend", nil, principal, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	snap, ok := ts.guard.Snapshot(principal.SessionID)
	require.True(t, ok)
	require.False(t, snap.WarningVisible)
}

func TestTokenHandler(t *testing.T) {
	ts := newTestServer(t, nil)
	principal := parentPrincipal()

	rec := call(t, ts.srv.TokenHandler, http.MethodPost, "/api/auth/token", nil, principal, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[tokenResponse](t, rec)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, int64(3600), resp.ExpiresIn)

	verifier := auth.NewJWTVerifierForIssuer(ts.issuer)
	got, err := verifier.Verify(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, principal.UserID, got.UserID)
	require.Equal(t, principal.Role, got.Role)
}
