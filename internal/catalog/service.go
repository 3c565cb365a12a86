package catalog

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/archive"
	"github.com/nokosaaan/fanart-viewer/internal/metrics"
	"github.com/nokosaaan/fanart-viewer/internal/publish"
	"github.com/nokosaaan/fanart-viewer/internal/resolve"
)

// Service coordinates item metadata, preview resolution and the side
// channels (event publishing, blob archiving) around preview persistence.
type Service struct {
	items     ItemStore
	previews  PreviewStore
	resolver  *resolve.Resolver
	publisher publish.Publisher
	topic     string
	blobs     archive.BlobStore
	logger    *zap.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithPublisher attaches an event publisher and topic for save notifications.
func WithPublisher(p publish.Publisher, topic string) ServiceOption {
	return func(s *Service) {
		s.publisher = p
		s.topic = topic
	}
}

// WithArchive attaches a blob store that retains saved preview bytes.
func WithArchive(b archive.BlobStore) ServiceOption {
	return func(s *Service) { s.blobs = b }
}

// NewService wires the catalog service.
func NewService(items ItemStore, previews PreviewStore, resolver *resolve.Resolver, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		items:    items,
		previews: previews,
		resolver: resolver,
		blobs:    archive.NopStore{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Items exposes the metadata store.
func (s *Service) Items() ItemStore { return s.items }

// Previews exposes the preview store.
func (s *Service) Previews() PreviewStore { return s.previews }

// ResolvePreview resolves candidates for an item without persisting
// anything. When overrideURL is empty the item's stored link is used.
func (s *Service) ResolvePreview(ctx context.Context, itemID int64, overrideURL string, mode resolve.Mode) (Item, []resolve.Candidate, error) {
	item, err := s.items.GetItem(ctx, itemID)
	if err != nil {
		return Item{}, nil, fmt.Errorf("get item %d: %w", itemID, err)
	}
	target := overrideURL
	if target == "" {
		target = item.Link
	}
	if target == "" {
		return item, nil, fmt.Errorf("item %d has no link and no override url was given", itemID)
	}
	candidates, err := s.resolver.Resolve(ctx, target, mode)
	if err != nil {
		return item, nil, err
	}
	return item, candidates, nil
}

// ResolveAndSave resolves candidates for an item and replaces its preview
// set with them. An empty candidate set leaves existing previews untouched.
func (s *Service) ResolveAndSave(ctx context.Context, itemID int64, overrideURL string, mode resolve.Mode) (Item, int, error) {
	item, candidates, err := s.ResolvePreview(ctx, itemID, overrideURL, mode)
	if err != nil {
		return item, 0, err
	}
	if len(candidates) == 0 {
		return item, 0, nil
	}
	blobs := make([]Blob, 0, len(candidates))
	for _, c := range candidates {
		blobs = append(blobs, Blob{Data: c.Data, ContentType: c.ContentType})
	}
	saved, err := s.SavePreviews(ctx, item, blobs, string(mode))
	if err != nil {
		return item, 0, err
	}
	return item, saved, nil
}

// SavePreviews replaces an item's preview set, then notifies and archives.
// Publish and archive failures are logged, not returned; persistence is the
// authoritative outcome.
func (s *Service) SavePreviews(ctx context.Context, item Item, blobs []Blob, mode string) (int, error) {
	saved, err := s.previews.ReplaceAll(ctx, item.ID, blobs)
	if err != nil {
		return 0, fmt.Errorf("replace previews for item %d: %w", item.ID, err)
	}
	metrics.ObservePreviewsSaved(saved)

	now := time.Now().UTC()
	if s.publisher != nil {
		event := publish.PreviewSaved{
			ItemID:     item.ID,
			ExternalID: item.ExternalID,
			Source:     item.Source,
			Count:      saved,
			Mode:       mode,
			SavedAt:    now,
		}
		if _, pubErr := s.publisher.Publish(ctx, s.topic, event); pubErr != nil {
			s.logger.Warn("preview-saved publish failed", zap.Int64("item_id", item.ID), zap.Error(pubErr))
		}
	}

	for i, b := range blobs {
		name := archive.ObjectName(item.ID, i, b.ContentType, now)
		if _, archErr := s.blobs.PutObject(ctx, name, b.ContentType, bytes.NewReader(b.Data)); archErr != nil {
			s.logger.Warn("preview archive failed",
				zap.Int64("item_id", item.ID), zap.String("object", name), zap.Error(archErr))
		}
	}
	return saved, nil
}
