package testing

import (
	"testing"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunRecoveryTests(t *testing.T) {
	t.Run("CommitWhenOnlyDestinationExists", suite.testRecoverCommit)
	t.Run("AbortWhenOnlySourceExists", suite.testRecoverAbort)
	t.Run("ConflictLeavesIntent", suite.testRecoverConflict)
	t.Run("OpenMoveIsNotRecovered", suite.testRecoverSkipsOpenMove)
}

// Each case stages a move and detaches it unfinished, which is what a crash
// between BeginMove and Commit leaves behind.

func (suite *StoreTestSuite) testRecoverCommit(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))
	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)
	mv.Detach()

	require.NoError(t, store.Recover(ctx, existsIn("/b")))

	all, err := store.All(ctx, "/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)
	all, err = store.All(ctx, "/a")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func (suite *StoreTestSuite) testRecoverAbort(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))
	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)
	mv.Detach()

	require.NoError(t, store.Recover(ctx, existsIn("/a")))

	all, err := store.All(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)
	all, err = store.All(ctx, "/b")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func (suite *StoreTestSuite) testRecoverConflict(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))
	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)
	mv.Detach()

	err = store.Recover(ctx, existsIn("/a", "/b"))
	assert.True(t, vfs.IsCode(err, vfs.ErrIO))

	// the intent survives and resolves once the medium is unambiguous
	require.NoError(t, store.Recover(ctx, existsIn("/b")))
	v, ok, err := store.Get(ctx, "/b", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func (suite *StoreTestSuite) testRecoverSkipsOpenMove(t *testing.T) {
	store := suite.NewStore(t)
	ctx := testContext()

	require.NoError(t, store.Set(ctx, "/a", "k", "v"))
	mv, err := store.BeginMove(ctx, "/a", "/b")
	require.NoError(t, err)

	// the medium already moved, the rename has not committed yet
	require.NoError(t, store.Recover(ctx, existsIn("/b")))

	all, err := store.All(ctx, "/a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)

	require.NoError(t, mv.Commit(ctx))
	all, err = store.All(ctx, "/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)
}
