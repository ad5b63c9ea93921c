package union

import (
	"context"
	"io"
	"testing"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, WithWritable(newWritable()), WithLayers(mustLayer(t, "lower", data("/x", "old", nil))))
	x := find(t, fs, "/x")

	l, err := x.Lock(ctx)
	require.NoError(t, err)
	assert.True(t, x.IsLocked())

	_, err = x.Lock(ctx)
	assert.True(t, vfs.IsCode(err, vfs.ErrAlreadyLocked))

	require.NoError(t, l.Release())
	assert.False(t, x.IsLocked())
}

func TestDeleteRefusedWhileStreamOpen(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, WithWritable(newWritable()), WithLayers(mustLayer(t, "lower", data("/x", "old", nil))))
	x := find(t, fs, "/x")

	r, err := x.Open(ctx)
	require.NoError(t, err)
	require.Len(t, x.Streams(), 1)

	err = x.Delete(ctx, nil)
	assert.True(t, vfs.IsCode(err, vfs.ErrBusy))

	require.NoError(t, r.Close())
	assert.Empty(t, x.Streams())
	require.NoError(t, x.Delete(ctx, nil))
}

func TestDeleteHonoursLocks(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, WithWritable(newWritable()), WithLayers(mustLayer(t, "lower", data("/x", "old", nil))))
	x := find(t, fs, "/x")

	l, err := x.Lock(ctx)
	require.NoError(t, err)

	err = x.Delete(ctx, nil)
	assert.True(t, vfs.IsCode(err, vfs.ErrAlreadyLocked))

	require.NoError(t, x.Delete(ctx, l))
	assert.False(t, x.Valid())
}

func TestDeleteFolderWithLockedDescendant(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, WithWritable(newWritable()), WithLayers(mustLayer(t, "lower",
		folder("/d", nil),
		data("/d/a", "A", nil),
	)))
	d := find(t, fs, "/d")
	a := find(t, fs, "/d/a")

	l, err := a.Lock(ctx)
	require.NoError(t, err)

	err = d.Delete(ctx, nil)
	assert.True(t, vfs.IsCode(err, vfs.ErrAlreadyLocked))

	require.NoError(t, l.Release())
	require.NoError(t, d.Delete(ctx, nil))
	assert.False(t, a.Valid())
}

func TestWriteThroughLowerNodeCopiesUp(t *testing.T) {
	ctx := context.Background()
	lower := mustLayer(t, "lower", data("/x", "old", map[string]any{"k": "v"}))
	fs := newFS(t, WithWritable(newWritable()), WithLayers(lower))
	x := find(t, fs, "/x")
	stamp := x.Stamp()

	require.NoError(t, x.WriteAll(ctx, nil, []byte("new")))

	assert.Equal(t, "new", read(t, x))
	tree, err := x.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, "writable", tree)
	assert.Greater(t, x.Stamp(), stamp)

	attrs, err := x.Attributes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, attrs)

	r, err := lower.Open(ctx, "/x")
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "old", string(b))
}

func TestOutputStreamNeedsLock(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, WithWritable(newWritable()), WithLayers(mustLayer(t, "lower", data("/x", "old", nil))))
	x := find(t, fs, "/x")

	_, err := x.OpenOutput(ctx, nil)
	assert.Error(t, err)
}

func TestFailedCloseKeepsContent(t *testing.T) {
	ctx := context.Background()
	w := &flakyBackend{Backend: newWritable()}
	fs := newFS(t, WithWritable(w), WithLayers(mustLayer(t, "lower", data("/x", "old", nil))))
	x := find(t, fs, "/x")

	l, err := x.Lock(ctx)
	require.NoError(t, err)
	defer l.Release()

	out, err := x.OpenOutput(ctx, l)
	require.NoError(t, err)
	_, err = out.Write([]byte("new"))
	require.NoError(t, err)

	w.failWrites.Store(true)
	err = out.Close()
	require.Error(t, err)
	assert.True(t, vfs.IsCode(err, vfs.ErrIO))

	assert.Equal(t, "old", read(t, x))
	tree, err := x.Tree(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lower", tree)
}

func TestOpenFolderFails(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, WithLayers(mustLayer(t, "lower", folder("/d", nil))))
	d := find(t, fs, "/d")

	_, err := d.Open(ctx)
	assert.True(t, vfs.IsCode(err, vfs.ErrIsFolder))
}
