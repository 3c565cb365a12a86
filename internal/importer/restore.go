package importer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/catalog"
)

// LegacyPreviewWriter writes the deprecated single-blob preview field.
// Current resolution never writes it; recovery keeps it populated for items
// whose fixture predates the ordered preview rows.
type LegacyPreviewWriter interface {
	SetLegacyPreview(ctx context.Context, id int64, blob catalog.Blob) error
}

// Restorer reconciles a database fixture dump with the current catalog,
// re-attaching preview blobs to items whose primary keys have changed.
type Restorer struct {
	items    catalog.ItemStore
	previews catalog.PreviewStore
	legacy   LegacyPreviewWriter
	logger   *zap.Logger
}

// NewRestorer builds a Restorer. legacy may be nil when the backing store
// has no legacy blob column.
func NewRestorer(items catalog.ItemStore, previews catalog.PreviewStore, legacy LegacyPreviewWriter, logger *zap.Logger) *Restorer {
	return &Restorer{items: items, previews: previews, legacy: legacy, logger: logger}
}

// RestoreReport counts the outcomes of a restore run.
type RestoreReport struct {
	RestoredPreviews int `json:"restored_previews"`
	RestoredLegacy   int `json:"restored_legacy"`
	SkippedMissing   int `json:"skipped_missing"`
	Ambiguous        int `json:"ambiguous"`
}

// fixtureObject is one element of a fixture dump: a model tag, the old
// primary key, and the serialized fields.
type fixtureObject struct {
	Model  string          `json:"model"`
	PK     int64           `json:"pk"`
	Fields json.RawMessage `json:"fields"`
}

type fixtureItemFields struct {
	ExternalID         int64    `json:"external_id"`
	Source             string   `json:"source"`
	Link               string   `json:"link"`
	Title              string   `json:"title"`
	Titles             []string `json:"titles"`
	Artist             string   `json:"artist"`
	PreviewData        string   `json:"preview_data"`
	PreviewContentType string   `json:"preview_content_type"`
}

type fixturePreviewFields struct {
	Item        int64  `json:"item"`
	Order       int    `json:"order"`
	Data        string `json:"data"`
	ContentType string `json:"content_type"`
}

// Restore reads a fixture dump and re-creates preview rows against the
// current catalog. Items are matched by recovery heuristics; ambiguous
// matches are skipped rather than guessed. With dryRun set nothing is
// written and the report shows what would happen.
func (r *Restorer) Restore(ctx context.Context, fixturePath string, dryRun bool) (RestoreReport, error) {
	raw, err := os.ReadFile(fixturePath)
	if err != nil {
		return RestoreReport{}, fmt.Errorf("read fixture: %w", err)
	}
	var objects []fixtureObject
	if err := json.Unmarshal(raw, &objects); err != nil {
		return RestoreReport{}, fmt.Errorf("parse fixture: %w", err)
	}

	oldItems := make(map[int64]fixtureItemFields)
	var previewRows []fixtureObject
	for _, obj := range objects {
		model := strings.ToLower(obj.Model)
		switch {
		case strings.HasSuffix(model, "previewimage"):
			previewRows = append(previewRows, obj)
		case strings.HasSuffix(model, "item"):
			var fields fixtureItemFields
			if err := json.Unmarshal(obj.Fields, &fields); err != nil {
				r.logger.Warn("unparseable item fixture entry", zap.Int64("pk", obj.PK), zap.Error(err))
				continue
			}
			oldItems[obj.PK] = fields
		}
	}

	var report RestoreReport

	// Group restorable preview blobs by the current item they belong to,
	// keeping the fixture's order values for sorting.
	type orderedBlob struct {
		order int
		blob  catalog.Blob
	}
	grouped := make(map[int64][]orderedBlob)
	for _, row := range previewRows {
		var fields fixturePreviewFields
		if err := json.Unmarshal(row.Fields, &fields); err != nil {
			r.logger.Warn("unparseable preview fixture entry", zap.Int64("pk", row.PK), zap.Error(err))
			continue
		}
		if fields.Data == "" {
			continue
		}
		item, ok := r.matchItem(ctx, oldItems[fields.Item], &report)
		if !ok {
			continue
		}
		data, ok := decodeFixtureBlob(fields.Data)
		if !ok {
			continue
		}
		grouped[item.ID] = append(grouped[item.ID], orderedBlob{
			order: fields.Order,
			blob:  catalog.Blob{Data: data, ContentType: fields.ContentType},
		})
	}

	restoredItems := make(map[int64]struct{}, len(grouped))
	for itemID, blobs := range grouped {
		sort.SliceStable(blobs, func(i, j int) bool { return blobs[i].order < blobs[j].order })
		report.RestoredPreviews += len(blobs)
		restoredItems[itemID] = struct{}{}
		if dryRun {
			continue
		}
		ordered := make([]catalog.Blob, len(blobs))
		for i, b := range blobs {
			ordered[i] = b.blob
		}
		if _, err := r.previews.ReplaceAll(ctx, itemID, ordered); err != nil {
			r.logger.Error("preview restore failed", zap.Int64("item_id", itemID), zap.Error(err))
		}
	}

	// Legacy single-blob restore, only for items that ended up with no
	// preview rows at all.
	if r.legacy != nil {
		for _, fields := range oldItems {
			if fields.PreviewData == "" {
				continue
			}
			item, ok := r.matchItem(ctx, fields, &report)
			if !ok {
				continue
			}
			if _, restored := restoredItems[item.ID]; restored {
				continue
			}
			existing, err := r.previews.List(ctx, item.ID)
			if err != nil || len(existing) > 0 {
				continue
			}
			data, ok := decodeFixtureBlob(fields.PreviewData)
			if !ok {
				continue
			}
			report.RestoredLegacy++
			if dryRun {
				continue
			}
			blob := catalog.Blob{Data: data, ContentType: fields.PreviewContentType}
			if err := r.legacy.SetLegacyPreview(ctx, item.ID, blob); err != nil {
				r.logger.Error("legacy preview restore failed", zap.Int64("item_id", item.ID), zap.Error(err))
			}
		}
	}

	return report, nil
}

// matchItem resolves fixture item fields to a current item, bumping the
// report's skip counters when the match fails or is ambiguous.
func (r *Restorer) matchItem(ctx context.Context, fields fixtureItemFields, report *RestoreReport) (catalog.Item, bool) {
	title := fields.Title
	if title == "" && len(fields.Titles) > 0 {
		title = fields.Titles[0]
	}
	probe := catalog.ItemProbe{
		ExternalID: fields.ExternalID,
		Source:     fields.Source,
		Link:       fields.Link,
		Title:      title,
		Artist:     fields.Artist,
	}
	item, err := r.items.FindItem(ctx, probe)
	switch {
	case errors.Is(err, catalog.ErrAmbiguous):
		report.Ambiguous++
		return catalog.Item{}, false
	case err != nil:
		report.SkippedMissing++
		return catalog.Item{}, false
	}
	return item, true
}

// decodeFixtureBlob decodes a base64 fixture payload, falling back to the
// raw bytes when the value was stored undecoded.
func decodeFixtureBlob(s string) ([]byte, bool) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, true
	}
	if s == "" {
		return nil, false
	}
	return []byte(s), true
}
