package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunDeleteTests(t *testing.T) {
	t.Run("DeleteSubtree", suite.testDeleteSubtree)
	t.Run("DeleteKeepsSiblingsWithSharedPrefix", suite.testDeleteKeepsSiblings)
	t.Run("DeleteRoot", suite.testDeleteRoot)
}

func (suite *StoreTestSuite) testDeleteSubtree(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/dir", "k", "v"))
	require.NoError(t, store.Set(ctx, "/dir/child", "k", "v"))
	require.NoError(t, store.Set(ctx, "/dir/child/deep", "k", "v"))

	require.NoError(t, store.Delete(ctx, "/dir"))

	paths, err := store.Paths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func (suite *StoreTestSuite) testDeleteKeepsSiblings(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/dir", "k", "v"))
	require.NoError(t, store.Set(ctx, "/dir2", "k", "v"))
	require.NoError(t, store.Set(ctx, "/dir.bak", "k", "v"))

	require.NoError(t, store.Delete(ctx, "/dir"))

	paths, err := store.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dir.bak", "/dir2"}, paths)
}

func (suite *StoreTestSuite) testDeleteRoot(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/", "k", "v"))
	require.NoError(t, store.Set(ctx, "/x", "k", "v"))

	require.NoError(t, store.Delete(ctx, "/"))

	paths, err := store.Paths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)
}
