package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nokosaaan/fanart-viewer/internal/archive/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "nested", "previews")
		_, err := local.New(local.Config{BaseDir: base})
		require.NoError(t, err)
		info, statErr := os.Stat(base)
		require.NoError(t, statErr)
		assert.True(t, info.IsDir())
	})
}

func TestPutObject(t *testing.T) {
	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	t.Run("WritesFile", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "items/1/p0.jpg", "image/jpeg", bytes.NewReader([]byte("imagebytes")))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(uri, "file://"))

		data, readErr := os.ReadFile(filepath.Join(base, "items", "1", "p0.jpg"))
		require.NoError(t, readErr)
		assert.Equal(t, []byte("imagebytes"), data)
	})
	t.Run("RejectsEmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "  ", "image/png", bytes.NewReader(nil))
		require.Error(t, err)
	})
	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.bin", "", bytes.NewReader([]byte("x")))
		require.Error(t, err)
	})
}
