package testing

import (
	"testing"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunMoveTests(t *testing.T) {
	t.Run("CommitPreservesAttributes", suite.testCommitPreservesAttributes)
	t.Run("CommitMovesDescendants", suite.testCommitMovesDescendants)
	t.Run("CommitReplacesDestination", suite.testCommitReplacesDestination)
	t.Run("AbortKeepsSource", suite.testAbortKeepsSource)
	t.Run("StagedMoveInvisibleBeforeCommit", suite.testStagedInvisible)
	t.Run("FinishTwiceFails", suite.testFinishTwice)
	t.Run("InvalidEndpoints", suite.testInvalidEndpoints)
}

func (suite *StoreTestSuite) testCommitPreservesAttributes(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	before := map[string]any{"label": "x", "hidden": true, "weight": float64(3)}
	require.NoError(t, store.Replace(ctx, "/old", before))

	mv, err := store.BeginMove(ctx, "/old", "/new")
	require.NoError(t, err)
	require.NoError(t, mv.Commit(ctx))

	after, err := store.All(ctx, "/new")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	gone, err := store.All(ctx, "/old")
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func (suite *StoreTestSuite) testCommitMovesDescendants(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/src", "k", "root"))
	require.NoError(t, store.Set(ctx, "/src/a", "k", "a"))
	require.NoError(t, store.Set(ctx, "/src/a/b", "k", "b"))
	require.NoError(t, store.Set(ctx, "/srcx", "k", "other"))

	mv, err := store.BeginMove(ctx, "/src", "/dst/moved")
	require.NoError(t, err)
	require.NoError(t, mv.Commit(ctx))

	paths, err := store.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dst/moved", "/dst/moved/a", "/dst/moved/a/b", "/srcx"}, paths)

	v, ok, err := store.Get(ctx, "/dst/moved/a/b", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func (suite *StoreTestSuite) testCommitReplacesDestination(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "from-a"))
	require.NoError(t, store.Set(ctx, "/b", "stale", "from-b"))

	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)
	require.NoError(t, mv.Commit(ctx))

	all, err := store.All(ctx, "/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "from-a"}, all)
}

func (suite *StoreTestSuite) testAbortKeepsSource(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))

	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)
	require.NoError(t, mv.Abort(ctx))

	v, ok, err := store.Get(ctx, "/a", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	// nothing left for recovery
	require.NoError(t, store.Recover(ctx, existsIn("/a", "/b")))
}

func (suite *StoreTestSuite) testStagedInvisible(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))

	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)

	all, err := store.All(ctx, "/b")
	require.NoError(t, err)
	assert.Empty(t, all)

	all, err = store.All(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)

	require.NoError(t, mv.Abort(ctx))
}

func (suite *StoreTestSuite) testFinishTwice(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))
	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)
	require.NoError(t, mv.Commit(ctx))

	assert.True(t, vfs.IsCode(mv.Commit(ctx), vfs.ErrIO))
	assert.True(t, vfs.IsCode(mv.Abort(ctx), vfs.ErrIO))
}

func (suite *StoreTestSuite) testInvalidEndpoints(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	tests := []struct {
		from, to string
	}{
		{"/", "/x"},
		{"/a", "/a"},
		{"/a", "/a/b"},
	}
	for _, tt := range tests {
		_, err := store.BeginMove(ctx, tt.from, tt.to)
		assert.True(t, vfs.IsCode(err, vfs.ErrInvalidArgument), "%s -> %s", tt.from, tt.to)
	}
}
