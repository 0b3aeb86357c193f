package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the coarse permission class governing route access.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleParent || r == RoleChild
}

// HomePath returns the landing path for the role after sign-in.
func (r Role) HomePath() string {
	if r == RoleParent {
		return "/dashboard"
	}
	return "/"
}

// User represents a member of a family, either a parent account or a
// parent-managed kid profile.
type User struct {
	UserID   uuid.UUID // UUIDv7
	FamilyID uuid.UUID // UUIDv7, FK to families
	Role     Role

	// For parent accounts
	Email        *string // unique, nil for kid profiles
	PasswordHash *string // bcrypt, nil for OAuth-only accounts
	GoogleID     *string // Google subject, nil unless linked

	// For kid profiles
	PINHash *string // bcrypt of the 4-digit PIN

	// Profile document, merge-updated
	DisplayName  string
	AvatarURL    string
	ReadingLevel string // e.g. "pre-reader", "early-reader", "independent"

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfilePatch carries a partial profile update. Nil fields are left
// unchanged (merge semantics).
type ProfilePatch struct {
	DisplayName  *string
	AvatarURL    *string
	ReadingLevel *string
}

// DefaultProfile synthesizes the profile document created on first sign-in
// when no user document exists yet.
func DefaultProfile(email string) (displayName, avatarURL, readingLevel string) {
	name := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		name = email[:at]
	}
	return name, "", "independent"
}
