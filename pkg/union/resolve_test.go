package union

import (
	"context"
	"testing"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPrefersHigherTree(t *testing.T) {
	a := mustLayer(t, "A", data("/x", "a", nil))
	b := mustLayer(t, "B", data("/x", "b", nil))
	fs := newFS(t, WithLayers(a, b))

	n := find(t, fs, "/x")
	assert.Equal(t, "a", read(t, n))

	tree, err := n.Tree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", tree)
}

func TestMaskHidesLowerTrees(t *testing.T) {
	a := mustLayer(t, "A", data("/x", "a", nil), masked("/x"))
	b := mustLayer(t, "B", data("/x", "b", nil))
	fs := newFS(t, WithLayers(a, b))

	_, err := fs.Find(context.Background(), "/x")
	assert.True(t, vfs.IsNotFound(err))

	root := find(t, fs, "/")
	children, err := root.Children(context.Background())
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestChildrenMergeAcrossTrees(t *testing.T) {
	upper := mustLayer(t, "upper", data("/d/c", "c", nil), masked("/d/b"), data("/d/a", "upper-a", nil))
	lower := mustLayer(t, "lower", data("/d/a", "lower-a", nil), data("/d/b", "b", nil), folder("/d/e", nil))
	fs := newFS(t, WithLayers(upper, lower))
	ctx := context.Background()

	d := find(t, fs, "/d")
	children, err := d.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "e"}, names(children))
	assert.Equal(t, "upper-a", read(t, children[0]))

	_, err = d.Child(ctx, "b")
	assert.True(t, vfs.IsNotFound(err))
	_, err = d.Child(ctx, ".wh.b")
	assert.True(t, vfs.IsNotFound(err))
}

func TestDataHidesLowerFolder(t *testing.T) {
	upper := mustLayer(t, "upper", data("/x", "file", nil))
	lower := mustLayer(t, "lower", data("/x/inner", "hidden", nil))
	fs := newFS(t, WithLayers(upper, lower))

	x := find(t, fs, "/x")
	assert.True(t, x.IsData())

	_, err := fs.Find(context.Background(), "/x/inner")
	assert.True(t, vfs.IsNotFound(err))
}

func TestLowerFolderBelowMaskedParentIsHidden(t *testing.T) {
	upper := mustLayer(t, "upper", masked("/a"), folder("/b", nil))
	lower := mustLayer(t, "lower", data("/a/deep/file", "x", nil))
	fs := newFS(t, WithLayers(upper, lower))

	_, err := fs.Find(context.Background(), "/a/deep/file")
	assert.True(t, vfs.IsNotFound(err))
}

func TestNodesAreCanonical(t *testing.T) {
	l := mustLayer(t, "L", data("/x", "x", nil))
	fs := newFS(t, WithLayers(l))

	first := find(t, fs, "/x")
	second := find(t, fs, "/x")
	assert.Same(t, first, second)

	root := find(t, fs, "/")
	children, err := root.Children(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, children[0])

	parent, err := first.Parent(context.Background())
	require.NoError(t, err)
	assert.Same(t, root, parent)
}
