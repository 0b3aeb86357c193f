package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidResetToken = errors.New("invalid or expired reset token")

// resetPayload is the signed password-reset token body. The purpose tag
// keeps reset tokens from being replayed as session tokens.
type resetPayload struct {
	Purpose   string    `json:"purpose"`
	UserID    uuid.UUID `json:"uid"`
	ExpiresAt time.Time `json:"expires_at"`
}

const resetPurpose = "password-reset"

// NewResetToken creates a signed, time-limited password reset token.
// Delivery (email) is the caller's concern.
func (c *CookieCodec) NewResetToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	data, err := json.Marshal(resetPayload{
		Purpose:   resetPurpose,
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return "", err
	}

	encoded := base64.URLEncoding.EncodeToString(data)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))

	return encoded + "." + base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyResetToken validates a reset token and returns the user it was
// issued for.
func (c *CookieCodec) VerifyResetToken(token string) (uuid.UUID, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return uuid.Nil, ErrInvalidResetToken
	}

	receivedSig, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return uuid.Nil, ErrInvalidResetToken
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(parts[0]))
	if !hmac.Equal(receivedSig, mac.Sum(nil)) {
		return uuid.Nil, ErrInvalidResetToken
	}

	data, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return uuid.Nil, ErrInvalidResetToken
	}

	var payload resetPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return uuid.Nil, ErrInvalidResetToken
	}

	if payload.Purpose != resetPurpose || payload.UserID == uuid.Nil {
		return uuid.Nil, ErrInvalidResetToken
	}
	if time.Now().After(payload.ExpiresAt) {
		return uuid.Nil, ErrInvalidResetToken
	}

	return payload.UserID, nil
}
