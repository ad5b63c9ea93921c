package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunPruneTests(t *testing.T) {
	t.Run("PruneDeletesMissingSubtree", suite.testPruneMissing)
	t.Run("PruneKeepsExisting", suite.testPruneExisting)
	t.Run("PruneSkipsOpenMoveEndpoints", suite.testPruneSkipsOpenMove)
}

func (suite *StoreTestSuite) testPruneMissing(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/dir", "k", "v"))
	require.NoError(t, store.Set(ctx, "/dir/child", "k", "v"))
	require.NoError(t, store.Set(ctx, "/dirx", "k", "v"))

	deleted, err := store.Prune(ctx, "/dir", existsIn("/dirx"))
	require.NoError(t, err)
	assert.True(t, deleted)

	paths, err := store.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dirx"}, paths)

	deleted, err = store.Prune(ctx, "/dir", existsIn())
	require.NoError(t, err)
	assert.False(t, deleted)
}

func (suite *StoreTestSuite) testPruneExisting(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))

	deleted, err := store.Prune(ctx, "/a", existsIn("/a"))
	require.NoError(t, err)
	assert.False(t, deleted)

	v, ok, err := store.Get(ctx, "/a", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func (suite *StoreTestSuite) testPruneSkipsOpenMove(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/src/a", "k", "v"))
	mv, err := store.BeginMove(ctx, "/src", "/dst")
	require.NoError(t, err)

	// between the medium rename and Commit the source is gone
	for _, p := range []string{"/src", "/src/a", "/"} {
		deleted, err := store.Prune(ctx, p, existsIn("/dst"))
		require.NoError(t, err)
		assert.False(t, deleted, p)
	}

	require.NoError(t, mv.Commit(ctx))
	v, ok, err := store.Get(ctx, "/dst/a", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// once the handle is closed the old endpoint is fair game again
	require.NoError(t, store.Set(ctx, "/src/stale", "k", "v"))
	deleted, err := store.Prune(ctx, "/src", existsIn("/dst"))
	require.NoError(t, err)
	assert.True(t, deleted)
}
