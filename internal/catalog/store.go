package catalog

import "context"

// ItemStore owns item metadata.
type ItemStore interface {
	// GetItem returns the item with the given primary key, or ErrNotFound.
	GetItem(ctx context.Context, id int64) (Item, error)

	// ListItems returns all items ordered by external id.
	ListItems(ctx context.Context) ([]Item, error)

	// UpsertItem creates or updates an item keyed by (external_id, source).
	// It reports whether a new row was created.
	UpsertItem(ctx context.Context, item Item) (created bool, err error)

	// UpdateFields applies the provided metadata edits to an existing item.
	UpdateFields(ctx context.Context, id int64, fields ItemFields) (Item, error)

	// FindItem locates a single item by recovery heuristics. Implementations
	// return ErrNotFound when nothing matches and ErrAmbiguous when more than
	// one row matches.
	FindItem(ctx context.Context, probe ItemProbe) (Item, error)
}

// PreviewStore owns the ordered preview blobs attached to items.
type PreviewStore interface {
	// ReplaceAll deletes any existing previews for the item and inserts the
	// given blobs with order = position. A failure saving one blob is logged
	// and skipped; the call errors only when nothing could be saved.
	ReplaceAll(ctx context.Context, itemID int64, blobs []Blob) (saved int, err error)

	// DeleteAt removes the preview at index and renumbers the remainder so
	// orders stay contiguous from 0.
	DeleteAt(ctx context.Context, itemID int64, index int) error

	// Best returns the preview with the largest byte length (ties broken by
	// lowest order), falling back to the item's legacy blob field.
	Best(ctx context.Context, itemID int64) (Blob, error)

	// At returns the preview at the given order index.
	At(ctx context.Context, itemID int64, index int) (Blob, error)

	// List returns preview metadata (no payloads) in order.
	List(ctx context.Context, itemID int64) ([]PreviewImage, error)
}

// ItemProbe carries the fields used to reconcile a fixture entry with a
// current item during recovery. Zero values are skipped.
type ItemProbe struct {
	ExternalID int64
	Source     string
	Link       string
	Title      string
	Artist     string
}
