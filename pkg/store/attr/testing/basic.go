package testing

import (
	"testing"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("SetAndGet", suite.testSetAndGet)
	t.Run("SetNilRemoves", suite.testSetNilRemoves)
	t.Run("AllReturnsCopy", suite.testAllReturnsCopy)
	t.Run("Replace", suite.testReplace)
	t.Run("EmptyKeyRejected", suite.testEmptyKeyRejected)
	t.Run("Paths", suite.testPaths)
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	store := suite.NewStore(t)

	v, ok, err := store.Get(testContext(), "/nope", "color")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	all, err := store.All(testContext(), "/nope")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func (suite *StoreTestSuite) testSetAndGet(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	tests := []struct {
		key   string
		value any
	}{
		{"label", "hello"},
		{"hidden", true},
		{"weight", float64(2.5)},
	}
	for _, tt := range tests {
		require.NoError(t, store.Set(ctx, "/a/b", tt.key, tt.value))
	}
	for _, tt := range tests {
		v, ok, err := store.Get(ctx, "/a/b", tt.key)
		require.NoError(t, err)
		assert.True(t, ok, tt.key)
		assert.Equal(t, tt.value, v, tt.key)
	}

	// unnormalized paths address the same node
	v, ok, err := store.Get(ctx, "a/b/", "label")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func (suite *StoreTestSuite) testSetNilRemoves(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/f", "k", "v"))
	require.NoError(t, store.Set(ctx, "/f", "k", nil))

	_, ok, err := store.Get(ctx, "/f", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func (suite *StoreTestSuite) testAllReturnsCopy(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/f", "a", "1"))
	require.NoError(t, store.Set(ctx, "/f", "b", "2"))

	all, err := store.All(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, all)

	all["c"] = "3"
	again, err := store.All(ctx, "/f")
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func (suite *StoreTestSuite) testReplace(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/f", "old", "x"))
	require.NoError(t, store.Replace(ctx, "/f", map[string]any{"new": "y"}))

	all, err := store.All(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"new": "y"}, all)

	require.NoError(t, store.Replace(ctx, "/f", nil))
	all, err = store.All(ctx, "/f")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func (suite *StoreTestSuite) testEmptyKeyRejected(t *testing.T) {
	store := suite.NewStore(t)

	err := store.Set(testContext(), "/f", "", "v")
	assert.True(t, vfs.IsCode(err, vfs.ErrInvalidArgument))
}

func (suite *StoreTestSuite) testPaths(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/b", "k", "v"))
	require.NoError(t, store.Set(ctx, "/a", "k", "v"))
	require.NoError(t, store.Set(ctx, "/a", "j", "v"))

	paths, err := store.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, paths)
}
