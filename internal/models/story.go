package models

import (
	"time"

	"github.com/google/uuid"
)

// StoryStatus is the publication state of a story.
type StoryStatus string

const (
	StoryStatusDraft     StoryStatus = "draft"
	StoryStatusPublished StoryStatus = "published"
)

// StoryPage is a single page of story text. Illustration and narration
// artifacts are referenced by object key, never stored inline.
type StoryPage struct {
	Text     string `json:"text"`
	ImageKey string `json:"image_key,omitempty"`
}

// Story is an authored children's story. Narration audio lives in the
// external object store; the story only records the object key and a
// CRC64-NVME checksum captured when the narration was registered.
type Story struct {
	StoryID  uuid.UUID // UUIDv7
	FamilyID uuid.UUID
	AuthorID uuid.UUID

	Title    string
	Pages    []StoryPage
	AgeRange string // e.g. "3-5", "6-8", "9-12"
	Tags     []string
	Status   StoryStatus

	NarrationKey      string // object key in the external store, "" if none
	NarrationChecksum string // hex CRC64-NVME of the narration object

	ShareCode string // base58 share code, "" until shared

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoryPatch carries a partial story update. Nil fields are left unchanged.
type StoryPatch struct {
	Title    *string
	Pages    *[]StoryPage
	AgeRange *string
	Tags     *[]string
	Status   *StoryStatus

	NarrationKey      *string
	NarrationChecksum *string
}

// StoryFilter selects stories in list operations. Zero values match
// everything.
type StoryFilter struct {
	FamilyID uuid.UUID   // required
	AuthorID uuid.UUID   // uuid.Nil matches any author
	Status   StoryStatus // "" matches any status
	AgeRange string
	Tag      string
	Query    string // case-insensitive match on title
}
