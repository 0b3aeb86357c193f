package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fableden/fableden/internal/models"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrExpiredSession = errors.New("session expired")
)

// CookieName is the session cookie. The value is an HMAC-signed token
// whose payload replaces the legacy client-readable role document.
const CookieName = "user"

// TokenPayload is the signed session document carried by the cookie.
// The authoritative session row lives server-side; the payload exists so
// route decisions don't need a store round trip.
type TokenPayload struct {
	SessionID uuid.UUID   `json:"sid"`
	Role      models.Role `json:"role"`
	Email     string      `json:"email,omitempty"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// CookieCodec signs and validates session cookie tokens.
type CookieCodec struct {
	secret []byte
	secure bool
}

// NewCookieCodec creates a codec. The secret must be at least 32 bytes.
func NewCookieCodec(secret []byte, secure bool) (*CookieCodec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("cookie secret must be at least 32 bytes")
	}
	return &CookieCodec{secret: secret, secure: secure}, nil
}

// Encode creates an HMAC-signed token for the payload.
func (c *CookieCodec) Encode(payload *TokenPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session payload: %w", err)
	}

	encoded := base64.URLEncoding.EncodeToString(data)

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	signature := mac.Sum(nil)

	return encoded + "." + base64.URLEncoding.EncodeToString(signature), nil
}

// Decode validates the signature and expiry and extracts the payload.
// All malformed input maps to ErrInvalidSession; callers treat both
// errors as "no session" (fail open to unauthenticated, never fatal).
func (c *CookieCodec) Decode(token string) (*TokenPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		log.Debug().Msg("Invalid session token format")
		return nil, ErrInvalidSession
	}

	encoded := parts[0]
	receivedSig, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		log.Debug().Msg("Invalid session token signature encoding")
		return nil, ErrInvalidSession
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	expectedSig := mac.Sum(nil)

	if !hmac.Equal(receivedSig, expectedSig) {
		log.Debug().Msg("Session token HMAC signature validation failed")
		return nil, ErrInvalidSession
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		log.Debug().Msg("Invalid session token data encoding")
		return nil, ErrInvalidSession
	}

	var payload TokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Debug().Msg("Failed to unmarshal session payload")
		return nil, ErrInvalidSession
	}

	if !payload.Role.Valid() || payload.SessionID == uuid.Nil {
		log.Debug().Msg("Session payload missing role or session ID")
		return nil, ErrInvalidSession
	}

	if time.Now().After(payload.ExpiresAt) {
		log.Debug().Str("user", payload.Email).Msg("Session token expired")
		return nil, ErrExpiredSession
	}

	return &payload, nil
}

// SetCookie writes the session cookie for the payload.
func (c *CookieCodec) SetCookie(w http.ResponseWriter, payload *TokenPayload) error {
	token, err := c.Encode(payload)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  payload.ExpiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearCookie expires the session cookie with Max-Age=0.
func (c *CookieCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // serializes as Max-Age=0
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest extracts and validates the session payload from a request.
func (c *CookieCodec) FromRequest(r *http.Request) (*TokenPayload, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrInvalidSession
	}
	return c.Decode(cookie.Value)
}
