// Package memory provides in-memory catalog stores for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nokosaaan/fanart-viewer/internal/catalog"
)

// Store keeps items and preview images in process memory. It implements both
// catalog.ItemStore and catalog.PreviewStore.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	items    map[int64]catalog.Item
	previews map[int64][]catalog.PreviewImage
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		nextID:   1,
		items:    make(map[int64]catalog.Item),
		previews: make(map[int64][]catalog.PreviewImage),
	}
}

// GetItem returns the item with the given id.
func (s *Store) GetItem(_ context.Context, id int64) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return item, nil
}

// ListItems returns all items ordered by external id.
func (s *Store) ListItems(_ context.Context) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExternalID != out[j].ExternalID {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpsertItem creates or updates an item keyed by (external_id, source).
func (s *Store) UpsertItem(_ context.Context, item catalog.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.items {
		if existing.ExternalID == item.ExternalID && existing.Source == item.Source {
			item.ID = id
			item.CreatedAt = existing.CreatedAt
			item.PreviewData = existing.PreviewData
			item.PreviewContentType = existing.PreviewContentType
			s.items[id] = item
			return false, nil
		}
	}
	item.ID = s.nextID
	s.nextID++
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	s.items[item.ID] = item
	return true, nil
}

// UpdateFields applies metadata edits to an existing item.
func (s *Store) UpdateFields(_ context.Context, id int64, fields catalog.ItemFields) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	if fields.Titles != nil {
		item.Titles = fields.Titles
	}
	if fields.Characters != nil {
		item.Characters = fields.Characters
	}
	if fields.TagsSet {
		item.Tags = fields.Tags
	}
	s.items[id] = item
	return item, nil
}

// FindItem resolves a probe against the stored items using recovery
// heuristics, most specific first.
func (s *Store) FindItem(_ context.Context, probe catalog.ItemProbe) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := func(pred func(catalog.Item) bool) (catalog.Item, int) {
		var found catalog.Item
		count := 0
		for _, item := range s.items {
			if pred(item) {
				found = item
				count++
			}
		}
		return found, count
	}

	if probe.ExternalID != 0 && probe.Source != "" {
		item, n := match(func(it catalog.Item) bool {
			return it.ExternalID == probe.ExternalID && it.Source == probe.Source
		})
		if n == 1 {
			return item, nil
		}
		if n > 1 {
			return catalog.Item{}, catalog.ErrAmbiguous
		}
	}
	if probe.ExternalID != 0 {
		item, n := match(func(it catalog.Item) bool { return it.ExternalID == probe.ExternalID })
		if n == 1 {
			return item, nil
		}
	}
	if probe.Link != "" {
		item, n := match(func(it catalog.Item) bool { return it.Link == probe.Link })
		if n == 1 {
			return item, nil
		}
		if n > 1 {
			return catalog.Item{}, catalog.ErrAmbiguous
		}
	}
	if probe.Title != "" {
		item, n := match(func(it catalog.Item) bool {
			if probe.Artist != "" && !strings.Contains(strings.ToLower(it.Artist), strings.ToLower(probe.Artist)) {
				return false
			}
			for _, t := range it.Titles {
				if strings.Contains(strings.ToLower(t), strings.ToLower(probe.Title)) {
					return true
				}
			}
			return false
		})
		if n == 1 {
			return item, nil
		}
		if n > 1 {
			return catalog.Item{}, catalog.ErrAmbiguous
		}
	}
	return catalog.Item{}, catalog.ErrNotFound
}

// SetLegacyPreview stores the deprecated single-blob preview on an item.
// Used by fixture restore only.
func (s *Store) SetLegacyPreview(_ context.Context, id int64, blob catalog.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.ErrNotFound
	}
	item.PreviewData = append([]byte(nil), blob.Data...)
	item.PreviewContentType = blob.ContentType
	s.items[id] = item
	return nil
}

// ReplaceAll swaps the full preview set for an item.
func (s *Store) ReplaceAll(_ context.Context, itemID int64, blobs []catalog.Blob) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return 0, catalog.ErrNotFound
	}
	imgs := make([]catalog.PreviewImage, 0, len(blobs))
	for i, b := range blobs {
		imgs = append(imgs, catalog.PreviewImage{
			ItemID:      itemID,
			Order:       i,
			Data:        append([]byte(nil), b.Data...),
			ContentType: b.ContentType,
		})
	}
	s.previews[itemID] = imgs
	return len(imgs), nil
}

// DeleteAt removes one preview and renumbers the rest.
func (s *Store) DeleteAt(_ context.Context, itemID int64, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	imgs := s.previews[itemID]
	if index < 0 || index >= len(imgs) {
		return catalog.ErrNotFound
	}
	imgs = append(imgs[:index], imgs[index+1:]...)
	for i := range imgs {
		imgs[i].Order = i
	}
	s.previews[itemID] = imgs
	return nil
}

// Best returns the largest stored preview, falling back to the legacy blob.
func (s *Store) Best(_ context.Context, itemID int64) (catalog.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imgs := s.previews[itemID]
	if len(imgs) > 0 {
		best := imgs[0]
		for _, img := range imgs[1:] {
			if len(img.Data) > len(best.Data) {
				best = img
			}
		}
		return catalog.Blob{Data: best.Data, ContentType: best.ContentType}, nil
	}
	item, ok := s.items[itemID]
	if ok && len(item.PreviewData) > 0 {
		return catalog.Blob{Data: item.PreviewData, ContentType: item.PreviewContentType}, nil
	}
	return catalog.Blob{}, catalog.ErrNotFound
}

// At returns the preview at the given index.
func (s *Store) At(_ context.Context, itemID int64, index int) (catalog.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imgs := s.previews[itemID]
	if index < 0 || index >= len(imgs) {
		return catalog.Blob{}, catalog.ErrNotFound
	}
	return catalog.Blob{Data: imgs[index].Data, ContentType: imgs[index].ContentType}, nil
}

// List returns preview metadata without payloads.
func (s *Store) List(_ context.Context, itemID int64) ([]catalog.PreviewImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imgs := s.previews[itemID]
	out := make([]catalog.PreviewImage, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, catalog.PreviewImage{
			ItemID:      img.ItemID,
			Order:       img.Order,
			ContentType: img.ContentType,
		})
	}
	return out, nil
}
