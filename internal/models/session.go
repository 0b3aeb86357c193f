package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a user's authenticated session.
// The cookie carries a signed token naming the session ID; the
// authoritative row lives server-side.
type Session struct {
	SessionID uuid.UUID // UUIDv7
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	Role      Role // denormalized for route decisions without a user lookup

	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has passed its hard expiry.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
