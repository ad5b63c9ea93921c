package s3

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/marmos91/layerfs/pkg/store/attr/memory"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	ops   map[string]int
	bytes map[string]int64
}

func (c *countingMetrics) ObserveOperation(op string, _ time.Duration, _ error) { c.ops[op]++ }
func (c *countingMetrics) RecordBytes(op string, n int64)                       { c.bytes[op] += n }

func newTestBackend(t *testing.T) (*Backend, *fakeClient) {
	t.Helper()
	client := newFakeClient("bucket")
	b, err := New(context.Background(), "s3", Config{
		Client:    client,
		Bucket:    "bucket",
		KeyPrefix: "layers/home",
	}, memory.NewMemoryAttributeStoreWithDefaults())
	require.NoError(t, err)
	return b, client
}

func read(t *testing.T, b *Backend, p string) string {
	t.Helper()
	r, err := b.Open(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), "s3", Config{Client: newFakeClient("x"), Bucket: "missing"}, nil)
	require.Error(t, err)

	_, err = New(context.Background(), "s3", Config{Bucket: "x"}, nil)
	require.Error(t, err)
}

func TestWriteStatRead(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t)

	require.NoError(t, b.WriteFile(ctx, "/docs/a.txt", []byte("hello")))
	assert.Equal(t, []string{"layers/home/docs/a.txt"}, client.keys())

	entry, err := b.Stat(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, vfs.KindData, entry.Kind)
	assert.Equal(t, int64(5), entry.Size)

	entry, err = b.Stat(ctx, "/docs")
	require.NoError(t, err)
	assert.True(t, entry.IsFolder())

	assert.Equal(t, "hello", read(t, b, "/docs/a.txt"))

	_, err = b.Open(ctx, "/docs")
	assert.True(t, vfs.IsCode(err, vfs.ErrIsFolder))
	_, err = b.Open(ctx, "/nope")
	assert.True(t, vfs.IsNotFound(err))
}

func TestListFoldersAndData(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t)

	require.NoError(t, b.WriteFile(ctx, "/b.txt", nil))
	require.NoError(t, b.WriteFile(ctx, "/sub/deep/c.txt", nil))
	require.NoError(t, b.MkdirAll(ctx, "/empty"))

	entries, err := b.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "/b.txt", entries[0].Path)
	assert.Equal(t, "/empty", entries[1].Path)
	assert.True(t, entries[1].IsFolder())
	assert.Equal(t, "/sub", entries[2].Path)

	entries, err = b.List(ctx, "/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = b.List(ctx, "/b.txt")
	assert.True(t, vfs.IsCode(err, vfs.ErrNotFolder))
}

func TestRenameFolderCarriesObjectsAndAttributes(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t)

	require.NoError(t, b.MkdirAll(ctx, "/src"))
	require.NoError(t, b.WriteFile(ctx, "/src/x", []byte("x")))
	require.NoError(t, b.Attributes().Set(ctx, "/src/x", "k", "v"))

	require.NoError(t, b.Rename(ctx, "/src", "/dst"))

	assert.Equal(t, []string{"layers/home/dst/", "layers/home/dst/x"}, client.keys())
	assert.Equal(t, "x", read(t, b, "/dst/x"))

	v, ok, err := b.Attributes().Get(ctx, "/dst/x", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestRenameCopyFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t)

	require.NoError(t, b.WriteFile(ctx, "/f", []byte("x")))
	require.NoError(t, b.Attributes().Set(ctx, "/f", "k", "v"))

	client.failCopy = true
	err := b.Rename(ctx, "/f", "/g")
	assert.True(t, vfs.IsCode(err, vfs.ErrIO))

	assert.Equal(t, []string{"layers/home/f"}, client.keys())
	all, err := b.Attributes().All(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)
}

func TestRenameRetriesSourceDelete(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t)

	require.NoError(t, b.WriteFile(ctx, "/f", []byte("x")))
	client.failDelete["layers/home/f"] = 1

	require.NoError(t, b.Rename(ctx, "/f", "/g"))
	assert.Equal(t, []string{"layers/home/g"}, client.keys())
}

func TestRenameReportsLeftoverSource(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t)

	require.NoError(t, b.WriteFile(ctx, "/f", []byte("x")))
	require.NoError(t, b.Attributes().Set(ctx, "/f", "k", "v"))
	client.failDelete["layers/home/f"] = 5

	err := b.Rename(ctx, "/f", "/g")
	assert.True(t, vfs.IsCode(err, vfs.ErrIO))

	// the destination is complete and owns the attributes
	assert.Equal(t, "x", read(t, b, "/g"))
	v, ok, err := b.Attributes().Get(ctx, "/g", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestRemoveSucceedsWhenAttributesCannotBeDropped(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("bucket")
	attrs := &failingDeleteStore{MemoryAttributeStore: memory.NewMemoryAttributeStoreWithDefaults()}
	b, err := New(ctx, "s3", Config{Client: client, Bucket: "bucket"}, attrs)
	require.NoError(t, err)

	require.NoError(t, b.WriteFile(ctx, "/f", nil))
	require.NoError(t, attrs.Set(ctx, "/f", "k", "v"))

	require.NoError(t, b.Remove(ctx, "/f"))
	assert.Empty(t, client.keys())

	// the leftover is an orphan for the collector
	deleted, err := attrs.Prune(ctx, "/f", b.Exists)
	require.NoError(t, err)
	assert.True(t, deleted)
}

// failingDeleteStore refuses Delete.
type failingDeleteStore struct {
	*memory.MemoryAttributeStore
}

func (s *failingDeleteStore) Delete(context.Context, string) error {
	return vfs.NewError(vfs.ErrAttribute, "", "store unavailable")
}

func TestRemoveFolder(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t)

	require.NoError(t, b.WriteFile(ctx, "/d/a", nil))
	require.NoError(t, b.WriteFile(ctx, "/d/e/b", nil))
	require.NoError(t, b.WriteFile(ctx, "/keep", nil))

	require.NoError(t, b.Remove(ctx, "/d"))
	assert.Equal(t, []string{"layers/home/keep"}, client.keys())
	assert.True(t, vfs.IsNotFound(b.Remove(ctx, "/d")))
}

func TestReadOnlyAndMetrics(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient("bucket")
	client.objects["a"] = []byte("abc")
	m := &countingMetrics{ops: map[string]int{}, bytes: map[string]int64{}}

	b, err := New(ctx, "ro", Config{Client: client, Bucket: "bucket", ReadOnly: true, Metrics: m}, nil)
	require.NoError(t, err)

	assert.True(t, vfs.IsCode(b.WriteFile(ctx, "/a", nil), vfs.ErrReadOnly))
	assert.Equal(t, "abc", read(t, b, "/a"))
	assert.Equal(t, 1, m.ops["GetObject"])
	assert.Equal(t, int64(3), m.bytes["read"])
}
