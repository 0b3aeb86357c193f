package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fableden/fableden/internal/models"
)

var testSecret = []byte("test-secret-key-minimum-32-characters!")

func testPayload() *TokenPayload {
	return &TokenPayload{
		SessionID: uuid.New(),
		Role:      models.RoleParent,
		Email:     "parent@example.com",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestNewCookieCodec(t *testing.T) {
	t.Run("rejects short secret", func(t *testing.T) {
		_, err := NewCookieCodec([]byte("too-short"), true)
		require.Error(t, err)
	})

	t.Run("accepts 32 byte secret", func(t *testing.T) {
		codec, err := NewCookieCodec(testSecret, true)
		require.NoError(t, err)
		require.NotNil(t, codec)
	})
}

func TestCookieCodec_EncodeDecode(t *testing.T) {
	codec, err := NewCookieCodec(testSecret, true)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		payload := testPayload()
		token, err := codec.Encode(payload)
		require.NoError(t, err)

		decoded, err := codec.Decode(token)
		require.NoError(t, err)
		require.Equal(t, payload.SessionID, decoded.SessionID)
		require.Equal(t, payload.Role, decoded.Role)
		require.Equal(t, payload.Email, decoded.Email)
	})

	t.Run("tampered payload fails signature check", func(t *testing.T) {
		token, err := codec.Encode(testPayload())
		require.NoError(t, err)

		parts := strings.SplitN(token, ".", 2)
		tampered := parts[0][:len(parts[0])-2] + "xx" + "." + parts[1]

		_, err = codec.Decode(tampered)
		require.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("token signed with a different secret is rejected", func(t *testing.T) {
		other, err := NewCookieCodec([]byte("another-secret-key-32-characters!!!!"), true)
		require.NoError(t, err)

		token, err := other.Encode(testPayload())
		require.NoError(t, err)

		_, err = codec.Decode(token)
		require.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("expired token", func(t *testing.T) {
		payload := testPayload()
		payload.ExpiresAt = time.Now().Add(-time.Minute)
		token, err := codec.Encode(payload)
		require.NoError(t, err)

		_, err = codec.Decode(token)
		require.ErrorIs(t, err, ErrExpiredSession)
	})

	t.Run("malformed tokens are invalid, never fatal", func(t *testing.T) {
		for _, token := range []string{"", "no-dot", "a.b.c", "!!!.###", "parent"} {
			_, err := codec.Decode(token)
			require.ErrorIs(t, err, ErrInvalidSession, "token %q", token)
		}
	})

	t.Run("missing role rejected", func(t *testing.T) {
		payload := testPayload()
		payload.Role = ""
		token, err := codec.Encode(payload)
		require.NoError(t, err)

		_, err = codec.Decode(token)
		require.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestCookieCodec_Cookies(t *testing.T) {
	codec, err := NewCookieCodec(testSecret, true)
	require.NoError(t, err)

	t.Run("set and read back", func(t *testing.T) {
		payload := testPayload()
		rec := httptest.NewRecorder()
		require.NoError(t, codec.SetCookie(rec, payload))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, CookieName, cookies[0].Name)
		require.Equal(t, "/", cookies[0].Path)
		require.True(t, cookies[0].HttpOnly)
		require.True(t, cookies[0].Secure)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(cookies[0])

		decoded, err := codec.FromRequest(req)
		require.NoError(t, err)
		require.Equal(t, payload.SessionID, decoded.SessionID)
	})

	t.Run("clear expires the cookie immediately", func(t *testing.T) {
		rec := httptest.NewRecorder()
		codec.ClearCookie(rec)

		header := rec.Header().Get("Set-Cookie")
		require.Contains(t, header, CookieName+"=")
		require.Contains(t, header, "Max-Age=0")
	})

	t.Run("request without cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := codec.FromRequest(req)
		require.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestResetTokens(t *testing.T) {
	codec, err := NewCookieCodec(testSecret, true)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		userID := uuid.New()
		token, err := codec.NewResetToken(userID, time.Hour)
		require.NoError(t, err)

		got, err := codec.VerifyResetToken(token)
		require.NoError(t, err)
		require.Equal(t, userID, got)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := codec.NewResetToken(uuid.New(), -time.Minute)
		require.NoError(t, err)

		_, err = codec.VerifyResetToken(token)
		require.ErrorIs(t, err, ErrInvalidResetToken)
	})

	t.Run("session token is not a reset token", func(t *testing.T) {
		token, err := codec.Encode(testPayload())
		require.NoError(t, err)

		_, err = codec.VerifyResetToken(token)
		require.ErrorIs(t, err, ErrInvalidResetToken)
	})
}
