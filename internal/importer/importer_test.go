package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/catalog/memory"
)

const twitterJSON = `{
  "101": {
    "SITUATION": "beach episode",
    "TITLE": ["Summer Festival"],
    "CHARACTER": ["Aoi", "Hinata"],
    "ARTIST": "artist-a",
    "LINK": "https://twitter.com/artist_a/status/101",
    "TAG": ["summer"]
  },
  "102": {
    "SITUATION": "",
    "TITLE": ["Winter Story"],
    "CHARACTER": ["Yuki"],
    "ARTIST": "artist-b",
    "LINK": "https://twitter.com/artist_b/status/102",
    "TAG": null
  }
}`

func TestImportFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "twitter.json")
	require.NoError(t, os.WriteFile(path, []byte(twitterJSON), 0o600))

	store := memory.NewStore()
	imp := New(store, zap.NewNop())

	summary, err := imp.ImportFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Created)
	require.Equal(t, 0, summary.Updated)
	require.Equal(t, 0, summary.Errors)
	require.Equal(t, "twitter", summary.Source)

	items, err := store.ListItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, int64(101), items[0].ExternalID)
	require.Equal(t, "twitter", items[0].Source)
	require.Equal(t, []string{"Aoi", "Hinata"}, items[0].Characters)

	// Second run updates in place instead of duplicating.
	again, err := imp.ImportFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 0, again.Created)
	require.Equal(t, 2, again.Updated)

	items, err = store.ListItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestImportFileSkipsBadKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pixiv.json")
	bad := `{"not-a-number": {"TITLE": ["x"]}, "7": {"TITLE": ["ok"], "LINK": "https://www.pixiv.net/artworks/7"}}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	store := memory.NewStore()
	imp := New(store, zap.NewNop())

	summary, err := imp.ImportFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)
	require.Equal(t, 1, summary.Errors)
}

func TestImportDirTagsSourcePerFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "twitter.json"), []byte(twitterJSON), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pixiv.json"),
		[]byte(`{"7": {"TITLE": ["Lake"], "ARTIST": "artist-c", "LINK": "https://www.pixiv.net/artworks/7"}}`), 0o600))

	store := memory.NewStore()
	imp := New(store, zap.NewNop())

	summary, err := imp.ImportDir(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Created)
	require.Len(t, summary.Files, 2)

	items, err := store.ListItems(context.Background())
	require.NoError(t, err)
	sources := map[string]int{}
	for _, it := range items {
		sources[it.Source]++
	}
	require.Equal(t, map[string]int{"twitter": 2, "pixiv": 1}, sources)
}
