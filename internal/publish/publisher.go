// Package publish defines the notification boundary for preview events.
package publish

import (
	"context"
	"time"
)

// PreviewSaved describes a completed preview persistence for downstream
// consumers (cache invalidation, thumbnail pipelines).
type PreviewSaved struct {
	ItemID     int64     `json:"item_id"`
	ExternalID int64     `json:"external_id"`
	Source     string    `json:"source"`
	Count      int       `json:"count"`
	Mode       string    `json:"mode"`
	SavedAt    time.Time `json:"saved_at"`
}

// Publisher emits preview events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
