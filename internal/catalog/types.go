// Package catalog defines the item and preview data model shared across subsystems.
package catalog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an item or preview image does not exist.
var ErrNotFound = errors.New("catalog: not found")

// ErrAmbiguous is returned by FindItem when recovery heuristics match more
// than one item.
var ErrAmbiguous = errors.New("catalog: ambiguous match")

// Item is one catalogued artwork reference.
type Item struct {
	ID         int64     `json:"id"`
	ExternalID int64     `json:"external_id"`
	Source     string    `json:"source"`
	Situation  string    `json:"situation"`
	Titles     []string  `json:"titles"`
	Characters []string  `json:"characters"`
	Artist     string    `json:"artist"`
	Link       string    `json:"link"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`

	// Legacy single-blob preview. Read-only: consulted only when no
	// PreviewImage rows exist, never written by current resolution logic.
	PreviewData        []byte `json:"-"`
	PreviewContentType string `json:"-"`
}

// PreviewImage is one stored preview blob for an item. Order values are
// unique and contiguous from 0 for a given item.
type PreviewImage struct {
	ItemID      int64  `json:"item_id"`
	Order       int    `json:"order"`
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
}

// Blob pairs raw image bytes with their media type for persistence.
type Blob struct {
	Data        []byte
	ContentType string
}

// ItemFields carries the editable metadata fields for UpdateFields.
// Nil slices mean "leave unchanged"; TagsSet distinguishes clearing tags
// from leaving them alone.
type ItemFields struct {
	Titles     []string
	Characters []string
	Tags       []string
	TagsSet    bool
}
