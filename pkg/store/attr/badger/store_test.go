package badger

import (
	"context"
	"testing"

	attrtesting "github.com/marmos91/layerfs/pkg/store/attr/testing"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dir string) *BadgerAttributeStore {
	t.Helper()
	store, err := NewBadgerAttributeStore(context.Background(), BadgerAttributeStoreConfig{DBPath: dir})
	require.NoError(t, err)
	return store
}

func TestBadgerAttributeStore(t *testing.T) {
	suite := &attrtesting.StoreTestSuite{
		NewStore: func(t *testing.T) vfs.AttributeStore {
			store := newTestStore(t, t.TempDir())
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
	suite.Run(t)
}

func TestBadgerAttributesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := newTestStore(t, dir)
	require.NoError(t, store.Set(ctx, "/cfg/app", "name", "demo"))
	require.NoError(t, store.Close())

	store = newTestStore(t, dir)
	defer store.Close()

	v, ok, err := store.Get(ctx, "/cfg/app", "name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "demo", v)
}

func TestBadgerIntentSurvivesCrash(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// stage a move and close without finishing it
	store := newTestStore(t, dir)
	require.NoError(t, store.Set(ctx, "/a", "k", "v"))
	_, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store = newTestStore(t, dir)
	defer store.Close()

	// before recovery the pre-move set is intact
	all, err := store.All(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)

	require.NoError(t, store.Recover(ctx, func(p string) (bool, error) { return p == "/b", nil }))

	all, err = store.All(ctx, "/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)
}

func TestBadgerInMemory(t *testing.T) {
	ctx := context.Background()
	store, err := NewBadgerAttributeStore(ctx, BadgerAttributeStoreConfig{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "/x", "n", float64(1)))
	v, _, err := store.Get(ctx, "/x", "n")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)
}

func TestSplitAttrKey(t *testing.T) {
	p, name, ok := splitAttrKey(keyAttr("/a/b", "color"))
	require.True(t, ok)
	assert.Equal(t, "/a/b", p)
	assert.Equal(t, "color", name)

	_, _, ok = splitAttrKey(keyMove("id"))
	assert.False(t, ok)
}
