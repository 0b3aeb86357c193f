package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/models"
	"github.com/fableden/fableden/internal/store"
	"github.com/fableden/fableden/internal/store/memory"
)

var testSecret = []byte("test-secret-key-minimum-32-characters!")

func newTestManager(t *testing.T) (*Manager, Stores) {
	t.Helper()

	codec, err := auth.NewCookieCodec(testSecret, true)
	require.NoError(t, err)

	stores := Stores{
		Users:    memory.NewUserStore(),
		Families: memory.NewFamilyStore(),
		Sessions: memory.NewSessionStore(),
	}

	m, err := NewManager(codec, stores, Config{SessionTTL: time.Hour})
	require.NoError(t, err)
	return m, stores
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	buf, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func registerParent(t *testing.T, m *Manager, email string) *http.Cookie {
	t.Helper()

	rec := postJSON(t, m.RegisterHandler, "/api/auth/register", registerRequest{
		Email:      email,
		Password:   "a long enough password",
		FamilyName: "The Tests",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestNewManager(t *testing.T) {
	codec, err := auth.NewCookieCodec(testSecret, true)
	require.NoError(t, err)

	t.Run("requires a session TTL", func(t *testing.T) {
		_, err := NewManager(codec, Stores{}, Config{})
		require.Error(t, err)
	})

	t.Run("google config is all or nothing", func(t *testing.T) {
		_, err := NewManager(codec, Stores{}, Config{
			SessionTTL:     time.Hour,
			GoogleClientID: "client-id",
		})
		require.Error(t, err)
	})
}

func TestRegisterHandler(t *testing.T) {
	t.Run("creates family, parent, and session", func(t *testing.T) {
		m, stores := newTestManager(t)
		ctx := context.Background()

		rec := postJSON(t, m.RegisterHandler, "/api/auth/register", registerRequest{
			Email:      "Parent@Example.com",
			Password:   "a long enough password",
			FamilyName: "The Tests",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp sessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, "parent", resp.Role)
		require.Equal(t, "/dashboard", resp.Home)
		// Display name defaults to the local part of the email
		require.Equal(t, "Parent", resp.DisplayName)

		user, err := stores.Users.GetByEmail(ctx, "parent@example.com")
		require.NoError(t, err)

		family, err := stores.Families.Get(ctx, user.FamilyID)
		require.NoError(t, err)
		require.Equal(t, "The Tests", family.Name)
		require.Equal(t, user.UserID, family.OwnerUserID)

		require.Len(t, rec.Result().Cookies(), 1)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		m, _ := newTestManager(t)
		registerParent(t, m, "parent@example.com")

		rec := postJSON(t, m.RegisterHandler, "/api/auth/register", registerRequest{
			Email:    "parent@example.com",
			Password: "a long enough password",
		})
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rejects bad email", func(t *testing.T) {
		m, _ := newTestManager(t)
		rec := postJSON(t, m.RegisterHandler, "/api/auth/register", registerRequest{
			Email:    "not-an-email",
			Password: "a long enough password",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects short password", func(t *testing.T) {
		m, _ := newTestManager(t)
		rec := postJSON(t, m.RegisterHandler, "/api/auth/register", registerRequest{
			Email:    "parent@example.com",
			Password: "short",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("family create failure removes the half-created user", func(t *testing.T) {
		codec, err := auth.NewCookieCodec(testSecret, true)
		require.NoError(t, err)

		users := memory.NewUserStore()
		m, err := NewManager(codec, Stores{
			Users:    users,
			Families: failingFamilyStore{},
			Sessions: memory.NewSessionStore(),
		}, Config{SessionTTL: time.Hour})
		require.NoError(t, err)

		rec := postJSON(t, m.RegisterHandler, "/api/auth/register", registerRequest{
			Email:    "parent@example.com",
			Password: "a long enough password",
		})
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		// The user row must not survive without its family.
		_, err = users.GetByEmail(context.Background(), "parent@example.com")
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})
}

// failingFamilyStore simulates a family store outage.
type failingFamilyStore struct{}

func (failingFamilyStore) Create(ctx context.Context, family *models.Family) error {
	return errors.New("family store unavailable")
}

func (failingFamilyStore) Get(ctx context.Context, familyID uuid.UUID) (*models.Family, error) {
	return nil, store.ErrFamilyNotFound
}

func (failingFamilyStore) Update(ctx context.Context, family *models.Family) error {
	return errors.New("family store unavailable")
}

func TestLoginHandler(t *testing.T) {
	t.Run("correct password", func(t *testing.T) {
		m, _ := newTestManager(t)
		registerParent(t, m, "parent@example.com")

		rec := postJSON(t, m.LoginHandler, "/api/auth/login", loginRequest{
			Email:    "parent@example.com",
			Password: "a long enough password",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp sessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, "/dashboard", resp.Home)
		require.Len(t, rec.Result().Cookies(), 1)
	})

	t.Run("wrong password and unknown email look identical", func(t *testing.T) {
		m, _ := newTestManager(t)
		registerParent(t, m, "parent@example.com")

		wrongPassword := postJSON(t, m.LoginHandler, "/api/auth/login", loginRequest{
			Email:    "parent@example.com",
			Password: "not the password",
		})
		unknownEmail := postJSON(t, m.LoginHandler, "/api/auth/login", loginRequest{
			Email:    "nobody@example.com",
			Password: "a long enough password",
		})

		require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
		require.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
		require.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	})
}

func TestKidLoginHandler(t *testing.T) {
	m, stores := newTestManager(t)
	ctx := context.Background()

	pinHash, err := auth.HashPIN("4321")
	require.NoError(t, err)

	kid := &models.User{
		UserID:      uuid.New(),
		FamilyID:    uuid.New(),
		Role:        models.RoleChild,
		PINHash:     &pinHash,
		DisplayName: "Ada",
	}
	require.NoError(t, stores.Users.Create(ctx, kid))

	t.Run("correct PIN", func(t *testing.T) {
		rec := postJSON(t, m.KidLoginHandler, "/api/auth/kid-login", kidLoginRequest{
			KidID: kid.UserID.String(),
			PIN:   "4321",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp sessionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, "child", resp.Role)
		require.Equal(t, "/", resp.Home)
	})

	t.Run("wrong PIN", func(t *testing.T) {
		rec := postJSON(t, m.KidLoginHandler, "/api/auth/kid-login", kidLoginRequest{
			KidID: kid.UserID.String(),
			PIN:   "0000",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("parent accounts cannot PIN sign in", func(t *testing.T) {
		parent := &models.User{
			UserID:   uuid.New(),
			FamilyID: kid.FamilyID,
			Role:     models.RoleParent,
			PINHash:  &pinHash,
		}
		require.NoError(t, stores.Users.Create(ctx, parent))

		rec := postJSON(t, m.KidLoginHandler, "/api/auth/kid-login", kidLoginRequest{
			KidID: parent.UserID.String(),
			PIN:   "4321",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed kid ID", func(t *testing.T) {
		rec := postJSON(t, m.KidLoginHandler, "/api/auth/kid-login", kidLoginRequest{
			KidID: "not-a-uuid",
			PIN:   "4321",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	t.Run("clears the cookie and deletes the session", func(t *testing.T) {
		m, stores := newTestManager(t)
		cookie := registerParent(t, m, "parent@example.com")

		payload, err := m.codec.Decode(cookie.Value)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		m.LogoutHandler(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/login", rec.Header().Get("Location"))
		require.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

		_, err = stores.Sessions.Get(context.Background(), payload.SessionID)
		require.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("logout without a session still clears the cookie", func(t *testing.T) {
		m, _ := newTestManager(t)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		rec := httptest.NewRecorder()
		m.LogoutHandler(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		require.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")
	})
}

func TestGetPrincipal(t *testing.T) {
	t.Run("valid cookie and live session", func(t *testing.T) {
		m, stores := newTestManager(t)
		cookie := registerParent(t, m, "parent@example.com")

		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		req.AddCookie(cookie)

		principal, err := m.GetPrincipal(req)
		require.NoError(t, err)
		require.Equal(t, models.RoleParent, principal.Role)
		require.Equal(t, "parent@example.com", principal.Email)

		user, err := stores.Users.GetByEmail(context.Background(), "parent@example.com")
		require.NoError(t, err)
		require.Equal(t, user.UserID, principal.UserID)
		require.Equal(t, user.FamilyID, principal.FamilyID)
	})

	t.Run("revoked session invalidates a valid cookie", func(t *testing.T) {
		m, stores := newTestManager(t)
		cookie := registerParent(t, m, "parent@example.com")

		payload, err := m.codec.Decode(cookie.Value)
		require.NoError(t, err)
		require.NoError(t, stores.Sessions.Delete(context.Background(), payload.SessionID))

		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		req.AddCookie(cookie)

		_, err = m.GetPrincipal(req)
		require.ErrorIs(t, err, auth.ErrInvalidSession)
	})

	t.Run("no cookie", func(t *testing.T) {
		m, _ := newTestManager(t)
		req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
		_, err := m.GetPrincipal(req)
		require.Error(t, err)
	})
}

func TestVisitor(t *testing.T) {
	m, _ := newTestManager(t)
	cookie := registerParent(t, m, "parent@example.com")

	t.Run("authenticated request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(cookie)

		v := m.Visitor(req)
		require.NotNil(t, v)
		require.Equal(t, models.RoleParent, v.Role)
	})

	t.Run("any failure maps to nil", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		require.Nil(t, m.Visitor(req))

		req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "garbage"})
		require.Nil(t, m.Visitor(req))
	})
}

func TestIdleCallbacks(t *testing.T) {
	m, stores := newTestManager(t)
	ctx := context.Background()

	sess := &models.Session{
		SessionID:      uuid.New(),
		UserID:         uuid.New(),
		FamilyID:       uuid.New(),
		Role:           models.RoleParent,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(time.Hour),
		LastActivityAt: time.Now(),
	}
	require.NoError(t, stores.Sessions.Create(ctx, sess))

	callbacks := m.IdleCallbacks()
	callbacks.OnLogout(ctx, sess.SessionID)

	_, err := stores.Sessions.Get(ctx, sess.SessionID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
	require.True(t, m.WasIdleEvicted(sess.SessionID))
	require.False(t, m.WasIdleEvicted(uuid.New()))

	// A session never seen by the store is still marked evicted
	unknown := uuid.New()
	callbacks.OnLogout(ctx, unknown)
	require.True(t, m.WasIdleEvicted(unknown))
}

func TestPasswordReset(t *testing.T) {
	t.Run("forgot password never reveals account existence", func(t *testing.T) {
		m, _ := newTestManager(t)
		registerParent(t, m, "parent@example.com")

		known := postJSON(t, m.ForgotPasswordHandler, "/api/auth/forgot-password", forgotPasswordRequest{
			Email: "parent@example.com",
		})
		unknown := postJSON(t, m.ForgotPasswordHandler, "/api/auth/forgot-password", forgotPasswordRequest{
			Email: "nobody@example.com",
		})
		require.Equal(t, http.StatusAccepted, known.Code)
		require.Equal(t, http.StatusAccepted, unknown.Code)
	})

	t.Run("reset sets the password and revokes sessions", func(t *testing.T) {
		m, stores := newTestManager(t)
		cookie := registerParent(t, m, "parent@example.com")

		user, err := stores.Users.GetByEmail(context.Background(), "parent@example.com")
		require.NoError(t, err)

		token, err := m.codec.NewResetToken(user.UserID, time.Hour)
		require.NoError(t, err)

		rec := postJSON(t, m.ResetPasswordHandler, "/api/auth/reset-password", resetPasswordRequest{
			Token:    token,
			Password: "a brand new password",
		})
		require.Equal(t, http.StatusNoContent, rec.Code)

		// Old session is gone
		payload, err := m.codec.Decode(cookie.Value)
		require.NoError(t, err)
		_, err = stores.Sessions.Get(context.Background(), payload.SessionID)
		require.ErrorIs(t, err, store.ErrSessionNotFound)

		// New password works, old one does not
		ok := postJSON(t, m.LoginHandler, "/api/auth/login", loginRequest{
			Email:    "parent@example.com",
			Password: "a brand new password",
		})
		require.Equal(t, http.StatusOK, ok.Code)

		stale := postJSON(t, m.LoginHandler, "/api/auth/login", loginRequest{
			Email:    "parent@example.com",
			Password: "a long enough password",
		})
		require.Equal(t, http.StatusUnauthorized, stale.Code)
	})

	t.Run("invalid reset token", func(t *testing.T) {
		m, _ := newTestManager(t)
		rec := postJSON(t, m.ResetPasswordHandler, "/api/auth/reset-password", resetPasswordRequest{
			Token:    "garbage",
			Password: "a brand new password",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
