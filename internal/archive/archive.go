// Package archive defines the blob-store boundary for retaining resolved
// preview bytes outside the relational database.
package archive

import (
	"context"
	"fmt"
	"io"
	"mime"
	"time"
)

// BlobStore writes archived preview images to a backing store and returns a
// URI identifying the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NopStore discards archive writes. Used when archiving is disabled.
type NopStore struct{}

// PutObject does nothing and reports an empty URI.
func (NopStore) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}

// ObjectName builds a stable archive key for one preview image of an item.
// The extension is derived from the media type; unknown types get ".bin".
func ObjectName(itemID int64, order int, contentType string, at time.Time) string {
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return fmt.Sprintf("items/%d/%s/p%d%s", itemID, at.UTC().Format("20060102T150405Z"), order, ext)
}
