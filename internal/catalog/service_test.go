package catalog_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/archive"
	archivememory "github.com/nokosaaan/fanart-viewer/internal/archive/memory"
	"github.com/nokosaaan/fanart-viewer/internal/catalog"
	catalogmemory "github.com/nokosaaan/fanart-viewer/internal/catalog/memory"
	"github.com/nokosaaan/fanart-viewer/internal/publish"
	publishmemory "github.com/nokosaaan/fanart-viewer/internal/publish/memory"
	"github.com/nokosaaan/fanart-viewer/internal/resolve"
)

func newResolver(t *testing.T) *resolve.Resolver {
	t.Helper()
	logger := zap.NewNop()
	fetcher := resolve.NewImageFetcher(5*time.Second, logger)
	return resolve.NewResolver(
		resolve.NewDirectStrategy(fetcher, logger),
		resolve.NewScrapeStrategy(5*time.Second, fetcher, nil, logger),
		resolve.NewAPIStrategy("", false, fetcher, resolve.NewResponseCache(), logger),
		resolve.NewRenderedStrategy(resolve.RenderedConfig{}, fetcher, logger),
		logger,
	)
}

func seedItem(t *testing.T, store *catalogmemory.Store, item catalog.Item) catalog.Item {
	t.Helper()
	created, err := store.UpsertItem(context.Background(), item)
	require.NoError(t, err)
	require.True(t, created)
	got, err := store.FindItem(context.Background(), catalog.ItemProbe{ExternalID: item.ExternalID, Source: item.Source})
	require.NoError(t, err)
	return got
}

func TestResolvePreviewUsesStoredLink(t *testing.T) {
	t.Parallel()

	image := bytes.Repeat([]byte{0x2}, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(image)
	}))
	defer srv.Close()

	store := catalogmemory.NewStore()
	svc := catalog.NewService(store, store, newResolver(t), zap.NewNop())
	item := seedItem(t, store, catalog.Item{ExternalID: 1, Source: "main", Link: srv.URL + "/art.png"})

	got, candidates, err := svc.ResolvePreview(context.Background(), item.ID, "", resolve.ModeDirectScrape)
	require.NoError(t, err)
	require.Equal(t, item.ID, got.ID)
	require.Len(t, candidates, 1)
	require.Equal(t, image, candidates[0].Data)

	// Nothing was persisted.
	_, err = store.Best(context.Background(), item.ID)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestResolvePreviewRequiresSomeTarget(t *testing.T) {
	t.Parallel()

	store := catalogmemory.NewStore()
	svc := catalog.NewService(store, store, newResolver(t), zap.NewNop())
	item := seedItem(t, store, catalog.Item{ExternalID: 2, Source: "main"})

	_, _, err := svc.ResolvePreview(context.Background(), item.ID, "", resolve.ModeDirectScrape)
	require.Error(t, err)

	_, _, err = svc.ResolvePreview(context.Background(), 999, "", resolve.ModeDirectScrape)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestResolveAndSavePersistsCandidates(t *testing.T) {
	t.Parallel()

	image := bytes.Repeat([]byte{0x3}, 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(image)
	}))
	defer srv.Close()

	store := catalogmemory.NewStore()
	svc := catalog.NewService(store, store, newResolver(t), zap.NewNop())
	item := seedItem(t, store, catalog.Item{ExternalID: 3, Source: "main", Link: srv.URL + "/a.jpg"})

	_, saved, err := svc.ResolveAndSave(context.Background(), item.ID, "", resolve.ModeDirectScrape)
	require.NoError(t, err)
	require.Equal(t, 1, saved)

	best, err := store.Best(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, image, best.Data)
	require.Equal(t, "image/jpeg", best.ContentType)
}

func TestResolveAndSaveLeavesPreviewsOnEmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>no images here</body></html>")
	}))
	defer srv.Close()

	store := catalogmemory.NewStore()
	svc := catalog.NewService(store, store, newResolver(t), zap.NewNop())
	item := seedItem(t, store, catalog.Item{ExternalID: 4, Source: "main", Link: srv.URL + "/post"})

	_, err := store.ReplaceAll(context.Background(), item.ID, []catalog.Blob{{Data: []byte("keep"), ContentType: "image/png"}})
	require.NoError(t, err)

	_, saved, err := svc.ResolveAndSave(context.Background(), item.ID, "", resolve.ModeDirectScrape)
	require.NoError(t, err)
	require.Zero(t, saved)

	best, err := store.Best(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("keep"), best.Data)
}

func TestSavePreviewsPublishesAndArchives(t *testing.T) {
	t.Parallel()

	store := catalogmemory.NewStore()
	pub := publishmemory.New()
	blobs := archivememory.New()
	svc := catalog.NewService(store, store, newResolver(t), zap.NewNop(),
		catalog.WithPublisher(pub, "preview-saved"),
		catalog.WithArchive(blobs))
	item := seedItem(t, store, catalog.Item{ExternalID: 5, Source: "extra"})

	saved, err := svc.SavePreviews(context.Background(), item, []catalog.Blob{
		{Data: []byte("first"), ContentType: "image/png"},
		{Data: []byte("second"), ContentType: "image/jpeg"},
	}, "upload")
	require.NoError(t, err)
	require.Equal(t, 2, saved)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "preview-saved", msgs[0].Topic)
	event, ok := msgs[0].Payload.(publish.PreviewSaved)
	require.True(t, ok)
	require.Equal(t, item.ID, event.ItemID)
	require.Equal(t, int64(5), event.ExternalID)
	require.Equal(t, "extra", event.Source)
	require.Equal(t, 2, event.Count)
	require.Equal(t, "upload", event.Mode)
	require.False(t, event.SavedAt.IsZero())

	require.Equal(t, 2, blobs.Len())
	obj, ok := blobs.Get(archive.ObjectName(item.ID, 0, "image/png", event.SavedAt))
	require.True(t, ok)
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, []byte("first"), obj.Data)
	_, ok = blobs.Get(archive.ObjectName(item.ID, 1, "image/jpeg", event.SavedAt))
	require.True(t, ok)
}

func TestSavePreviewsToleratesPublishFailure(t *testing.T) {
	t.Parallel()

	store := catalogmemory.NewStore()
	svc := catalog.NewService(store, store, newResolver(t), zap.NewNop(),
		catalog.WithPublisher(failingPublisher{}, "preview-saved"))
	item := seedItem(t, store, catalog.Item{ExternalID: 6, Source: "main"})

	saved, err := svc.SavePreviews(context.Background(), item, []catalog.Blob{
		{Data: []byte("blob"), ContentType: "image/png"},
	}, "upload")
	require.NoError(t, err)
	require.Equal(t, 1, saved)

	best, err := store.Best(context.Background(), item.ID)
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), best.Data)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", fmt.Errorf("broker unavailable")
}
