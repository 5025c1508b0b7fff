package ocr

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/fyerfyer/ocr-proofreader/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, offset int) (*Store, storage.Storage, *test.Hook) {
	t.Helper()
	s, err := storage.NewLocalStorage(storage.LocalConfig{Path: filepath.Join(t.TempDir(), "ocr"), Create: true})
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()
	return NewStore(s, offset, logger), s, hook
}

func put(t *testing.T, s storage.Storage, key, content string) {
	t.Helper()
	_, err := s.Put(context.Background(), key, bytes.NewReader([]byte(content)), int64(len(content)))
	require.NoError(t, err)
}

func TestStore_Missing(t *testing.T) {
	store, _, hook := newTestStore(t, 0)

	result, ok := store.Get(context.Background(), 3)
	assert.False(t, ok)
	assert.Nil(t, result)
	assert.Empty(t, hook.AllEntries())
	assert.False(t, store.Exists(context.Background(), 3))
}

func TestStore_OffsetAndFallback(t *testing.T) {
	store, s, _ := newTestStore(t, 10)
	put(t, s, "11.json", dictList)

	result, ok := store.Get(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, 1, result.Page)
	assert.Equal(t, 11, result.PhysicalIndex)
	assert.Len(t, result.Items, 2)
	assert.True(t, store.Exists(context.Background(), 1))

	// page_<N>.json 优先
	put(t, s, "page_11.json", layoutResult)
	result, ok = store.Get(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, "正文一", result.Items[0].Text)
}

func TestStore_MalformedIsAbsentAndLogged(t *testing.T) {
	store, s, hook := newTestStore(t, 0)
	put(t, s, "page_2.json", "{broken")

	result, ok := store.Get(context.Background(), 2)
	assert.False(t, ok)
	assert.Nil(t, result)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "page_2.json", hook.LastEntry().Data["key"])
}

func TestStore_Put(t *testing.T) {
	store, s, _ := newTestStore(t, 2)

	require.NoError(t, store.Put(context.Background(), 5, []byte(dictList)))
	ok, err := s.Exists(context.Background(), "page_7.json")
	require.NoError(t, err)
	assert.True(t, ok)

	result, found := store.Get(context.Background(), 5)
	require.True(t, found)
	assert.Equal(t, "abc\nde\n", result.FullText())

	assert.Error(t, store.Put(context.Background(), 6, []byte("nope")))
}

func TestStore_Nil(t *testing.T) {
	var store *Store
	_, ok := store.Get(context.Background(), 1)
	assert.False(t, ok)
}
