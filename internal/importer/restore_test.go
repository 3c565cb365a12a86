package importer

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/catalog"
	"github.com/nokosaaan/fanart-viewer/internal/catalog/memory"
)

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items-backup.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func seedItem(t *testing.T, store *memory.Store, externalID int64, source, link, artist string, titles []string) catalog.Item {
	t.Helper()
	ctx := context.Background()
	_, err := store.UpsertItem(ctx, catalog.Item{
		ExternalID: externalID,
		Source:     source,
		Link:       link,
		Artist:     artist,
		Titles:     titles,
	})
	require.NoError(t, err)
	item, err := store.FindItem(ctx, catalog.ItemProbe{ExternalID: externalID, Source: source})
	require.NoError(t, err)
	return item
}

func TestRestorePreviewRows(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	item := seedItem(t, store, 101, "twitter", "https://twitter.com/a/status/101", "artist-a", []string{"Summer"})

	big := base64.StdEncoding.EncodeToString(make([]byte, 64))
	small := base64.StdEncoding.EncodeToString(make([]byte, 16))
	fixture := fmt.Sprintf(`[
  {"model": "item.item", "pk": 9, "fields": {"external_id": 101, "source": "twitter", "link": "https://twitter.com/a/status/101", "titles": ["Summer"], "artist": "artist-a"}},
  {"model": "item.previewimage", "pk": 1, "fields": {"item": 9, "order": 1, "data": %q, "content_type": "image/png"}},
  {"model": "item.previewimage", "pk": 2, "fields": {"item": 9, "order": 0, "data": %q, "content_type": "image/jpeg"}}
]`, small, big)
	path := writeFixture(t, fixture)

	restorer := NewRestorer(store, store, store, zap.NewNop())
	report, err := restorer.Restore(context.Background(), path, false)
	require.NoError(t, err)
	require.Equal(t, 2, report.RestoredPreviews)
	require.Zero(t, report.SkippedMissing)
	require.Zero(t, report.Ambiguous)

	previews, err := store.List(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, previews, 2)
	// The fixture's order values win: order 0 is the jpeg.
	blob, err := store.At(context.Background(), item.ID, 0)
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", blob.ContentType)
	require.Len(t, blob.Data, 64)
}

func TestRestoreSkipsUnmatchedAndAmbiguous(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	// Two items share a link: matching by link is ambiguous and skipped.
	seedItem(t, store, 55, "twitter", "https://twitter.com/a/status/55", "a", nil)
	seedItem(t, store, 56, "mirror", "https://twitter.com/a/status/55", "a", nil)

	payload := base64.StdEncoding.EncodeToString([]byte("blob"))
	fixture := fmt.Sprintf(`[
  {"model": "item.item", "pk": 1, "fields": {"link": "https://twitter.com/a/status/55"}},
  {"model": "item.item", "pk": 2, "fields": {"external_id": 999}},
  {"model": "item.previewimage", "pk": 10, "fields": {"item": 1, "order": 0, "data": %q, "content_type": "image/png"}},
  {"model": "item.previewimage", "pk": 11, "fields": {"item": 2, "order": 0, "data": %q, "content_type": "image/png"}}
]`, payload, payload)
	path := writeFixture(t, fixture)

	restorer := NewRestorer(store, store, store, zap.NewNop())
	report, err := restorer.Restore(context.Background(), path, false)
	require.NoError(t, err)
	require.Zero(t, report.RestoredPreviews)
	require.Equal(t, 1, report.Ambiguous)
	require.Equal(t, 1, report.SkippedMissing)
}

func TestRestoreLegacyOnlyWhenNoRows(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	item := seedItem(t, store, 7, "pixiv", "https://www.pixiv.net/artworks/7", "c", []string{"Lake"})

	legacy := base64.StdEncoding.EncodeToString([]byte("legacy-preview-bytes"))
	fixture := fmt.Sprintf(`[
  {"model": "item.item", "pk": 3, "fields": {"external_id": 7, "source": "pixiv", "preview_data": %q, "preview_content_type": "image/gif"}}
]`, legacy)
	path := writeFixture(t, fixture)

	restorer := NewRestorer(store, store, store, zap.NewNop())
	report, err := restorer.Restore(context.Background(), path, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.RestoredLegacy)

	// Best falls through to the legacy blob because no rows exist.
	blob, err := store.Best(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, "image/gif", blob.ContentType)
	require.Equal(t, []byte("legacy-preview-bytes"), blob.Data)
}

func TestRestoreDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	item := seedItem(t, store, 101, "twitter", "https://twitter.com/a/status/101", "a", nil)

	payload := base64.StdEncoding.EncodeToString([]byte("blob"))
	fixture := fmt.Sprintf(`[
  {"model": "item.item", "pk": 9, "fields": {"external_id": 101, "source": "twitter"}},
  {"model": "item.previewimage", "pk": 1, "fields": {"item": 9, "order": 0, "data": %q, "content_type": "image/png"}}
]`, payload)
	path := writeFixture(t, fixture)

	restorer := NewRestorer(store, store, store, zap.NewNop())
	report, err := restorer.Restore(context.Background(), path, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.RestoredPreviews)

	previews, err := store.List(context.Background(), item.ID)
	require.NoError(t, err)
	require.Empty(t, previews)
}
