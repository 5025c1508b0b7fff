package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	dir := t.TempDir()
	store, err := New(Config{Type: "local", Local: LocalConfig{Path: dir}})
	require.NoError(t, err)

	ctx := context.Background()
	content := []byte(`[{"text":"甲","bbox":[0,0,10,10]}]`)

	t.Run("PutAndGet", func(t *testing.T) {
		info, err := store.Put(ctx, "page_3.json", bytes.NewReader(content), int64(len(content)))
		require.NoError(t, err)
		assert.Equal(t, "page_3.json", info.Key)
		assert.Equal(t, int64(len(content)), info.Size)
		assert.Equal(t, "application/json", info.MimeType)

		rc, err := store.Get(ctx, "page_3.json")
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := store.Exists(ctx, "page_3.json")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.Exists(ctx, "page_4.json")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "page_99.json")
		assert.True(t, errors.Is(err, ErrObjectNotFound))
	})

	t.Run("NestedKeysAndList", func(t *testing.T) {
		_, err := store.Put(ctx, "slices/3_0.jpg", bytes.NewReader([]byte("jpg")), 3)
		require.NoError(t, err)

		objects, err := store.List(ctx, "slices/")
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, "slices/3_0.jpg", objects[0].Key)
		assert.Equal(t, "image/jpeg", objects[0].MimeType)
	})

	t.Run("TraversalStaysInRoot", func(t *testing.T) {
		_, err := store.Put(ctx, "../escape.txt", bytes.NewReader([]byte("x")), 1)
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, "escape.txt"))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "page_3.json"))
		err := store.Delete(ctx, "page_3.json")
		assert.True(t, errors.Is(err, ErrObjectNotFound))
	})
}

func TestLocalStorage_MissingRoot(t *testing.T) {
	store, err := NewLocalStorage(LocalConfig{Path: filepath.Join(t.TempDir(), "absent")})
	require.NoError(t, err)

	objects, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objects)

	ok, err := store.Exists(context.Background(), "page_1.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New(Config{Type: "ftp"})
	assert.Error(t, err)
}

func TestCleanKey(t *testing.T) {
	_, err := cleanKey("")
	assert.Error(t, err)

	key, err := cleanKey("a/../b.json")
	require.NoError(t, err)
	assert.Equal(t, "b.json", key)
}
