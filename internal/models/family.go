package models

import (
	"time"

	"github.com/google/uuid"
)

// Family groups a parent account with its kid profiles. Stories belong to a
// family; kids only ever see their own family's published stories.
type Family struct {
	FamilyID    uuid.UUID // UUIDv7
	Name        string
	OwnerUserID uuid.UUID // the parent account that created the family

	CreatedAt time.Time
	UpdatedAt time.Time
}
