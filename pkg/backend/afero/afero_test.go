package afero

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/layerfs/pkg/store/attr/memory"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryBackend() *Backend {
	return NewMemory("mem", memory.NewMemoryAttributeStoreWithDefaults())
}

func readAll(t *testing.T, b vfs.Backend, p string) string {
	t.Helper()
	r, err := b.Open(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

// failingFs fails renames, which is the commit step of every write and move.
type failingFs struct {
	afero.Fs
	failRename bool
}

func (f *failingFs) Rename(oldname, newname string) error {
	if f.failRename {
		return errors.New("disk full")
	}
	return f.Fs.Rename(oldname, newname)
}

func TestWriteAndRead(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()

	require.NoError(t, b.WriteFile(ctx, "/a/b/c.txt", []byte("hello")))
	assert.Equal(t, "hello", readAll(t, b, "/a/b/c.txt"))

	entry, err := b.Stat(ctx, "/a/b")
	require.NoError(t, err)
	assert.True(t, entry.IsFolder())

	_, err = b.Open(ctx, "/a")
	assert.True(t, vfs.IsCode(err, vfs.ErrIsFolder))

	_, err = b.Stat(ctx, "/missing")
	assert.True(t, vfs.IsNotFound(err))
}

func TestListSortedWithoutTempFiles(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()

	require.NoError(t, b.WriteFile(ctx, "/d/z", nil))
	require.NoError(t, b.WriteFile(ctx, "/d/a", nil))
	require.NoError(t, afero.WriteFile(b.Fs(), "/d/"+tempPrefix+"123", []byte("x"), 0644))
	require.NoError(t, b.MkdirAll(ctx, "/d/m"))

	entries, err := b.List(ctx, "/d")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a", "m", "z"}, names)

	_, err = b.List(ctx, "/d/a")
	assert.True(t, vfs.IsCode(err, vfs.ErrNotFolder))
}

func TestFailedWriteKeepsPreviousContent(t *testing.T) {
	ctx := context.Background()
	fsys := &failingFs{Fs: afero.NewMemMapFs()}
	b := New("mem", fsys, memory.NewMemoryAttributeStoreWithDefaults(), false)

	require.NoError(t, b.WriteFile(ctx, "/f", []byte("v1")))

	fsys.failRename = true
	err := b.WriteFile(ctx, "/f", []byte("v2"))
	assert.True(t, vfs.IsCode(err, vfs.ErrIO))

	fsys.failRename = false
	assert.Equal(t, "v1", readAll(t, b, "/f"))

	entries, err := b.List(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRenameCarriesAttributes(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()

	require.NoError(t, b.WriteFile(ctx, "/dir/f", []byte("x")))
	require.NoError(t, b.Attributes().Set(ctx, "/dir", "k", "folder"))
	require.NoError(t, b.Attributes().Set(ctx, "/dir/f", "k", "file"))

	require.NoError(t, b.Rename(ctx, "/dir", "/moved/dir"))

	v, ok, err := b.Attributes().Get(ctx, "/moved/dir/f", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "file", v)

	paths, err := b.Attributes().Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/moved/dir", "/moved/dir/f"}, paths)
	assert.Equal(t, "x", readAll(t, b, "/moved/dir/f"))
}

func TestRenameFailureKeepsAttributes(t *testing.T) {
	ctx := context.Background()
	fsys := &failingFs{Fs: afero.NewMemMapFs()}
	b := New("mem", fsys, memory.NewMemoryAttributeStoreWithDefaults(), false)

	require.NoError(t, b.WriteFile(ctx, "/f", []byte("x")))
	require.NoError(t, b.Attributes().Set(ctx, "/f", "k", "v"))

	fsys.failRename = true
	require.Error(t, b.Rename(ctx, "/f", "/g"))

	all, err := b.Attributes().All(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, all)

	// nothing left staged
	require.NoError(t, b.Attributes().Recover(ctx, b.Exists))
}

func TestRenameOntoExisting(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()

	require.NoError(t, b.WriteFile(ctx, "/a", nil))
	require.NoError(t, b.WriteFile(ctx, "/b", nil))

	err := b.Rename(ctx, "/a", "/b")
	assert.True(t, vfs.IsCode(err, vfs.ErrAlreadyExists))
}

func TestRemoveDropsAttributes(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()

	require.NoError(t, b.WriteFile(ctx, "/d/f", nil))
	require.NoError(t, b.Attributes().Set(ctx, "/d/f", "k", "v"))

	require.NoError(t, b.Remove(ctx, "/d"))

	_, err := b.Stat(ctx, "/d/f")
	assert.True(t, vfs.IsNotFound(err))
	paths, err := b.Attributes().Paths(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)

	assert.True(t, vfs.IsNotFound(b.Remove(ctx, "/d")))
}

// failingDeleteStore refuses Delete.
type failingDeleteStore struct {
	*memory.MemoryAttributeStore
}

func (s *failingDeleteStore) Delete(context.Context, string) error {
	return vfs.NewError(vfs.ErrAttribute, "", "store unavailable")
}

func TestRemoveSucceedsWhenAttributesCannotBeDropped(t *testing.T) {
	ctx := context.Background()
	attrs := &failingDeleteStore{MemoryAttributeStore: memory.NewMemoryAttributeStoreWithDefaults()}
	b := NewMemory("mem", attrs)

	require.NoError(t, b.WriteFile(ctx, "/d/f", nil))
	require.NoError(t, attrs.Set(ctx, "/d/f", "k", "v"))

	// the content is gone, so the removal happened
	require.NoError(t, b.Remove(ctx, "/d"))
	_, err := b.Stat(ctx, "/d")
	assert.True(t, vfs.IsNotFound(err))

	deleted, err := attrs.Prune(ctx, "/d/f", b.Exists)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestReadOnlyRefusesMutations(t *testing.T) {
	ctx := context.Background()
	b := New("ro", afero.NewReadOnlyFs(afero.NewMemMapFs()), memory.NewMemoryAttributeStoreWithDefaults(), true)

	assert.True(t, vfs.IsCode(b.WriteFile(ctx, "/f", nil), vfs.ErrReadOnly))
	assert.True(t, vfs.IsCode(b.MkdirAll(ctx, "/d"), vfs.ErrReadOnly))
	assert.True(t, vfs.IsCode(b.Remove(ctx, "/f"), vfs.ErrReadOnly))
	assert.True(t, vfs.IsCode(b.Rename(ctx, "/f", "/g"), vfs.ErrReadOnly))
}

func TestDiskBackendWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	d, err := NewDisk(ctx, "disk", DiskBackendConfig{Path: dir}, memory.NewMemoryAttributeStoreWithDefaults())
	require.NoError(t, err)

	events, err := d.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "external.txt"), []byte("x"), 0644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Path == "/external.txt" {
				assert.Equal(t, "disk", ev.Tree)
				assert.Contains(t, []vfs.EventType{vfs.EventCreated, vfs.EventChanged}, ev.Type)
				cancel()
				return
			}
		case <-deadline:
			t.Fatal("no watch event for external write")
		}
	}
}

func TestDiskBackendReadsHostFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf", "app.ini"), []byte("k=v"), 0644))

	d, err := NewDisk(ctx, "disk", DiskBackendConfig{Path: dir, ReadOnly: true}, memory.NewMemoryAttributeStoreWithDefaults())
	require.NoError(t, err)

	assert.Equal(t, "k=v", readAll(t, d, "/conf/app.ini"))
	assert.True(t, vfs.IsCode(d.WriteFile(ctx, "/conf/app.ini", nil), vfs.ErrReadOnly))
}

func TestArchiveBackend(t *testing.T) {
	ctx := context.Background()
	archive := filepath.Join(t.TempDir(), "layer.zip")

	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("docs/readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("zipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	a, err := NewArchive(ctx, "zip", archive, memory.NewMemoryAttributeStore(memory.MemoryAttributeStoreConfig{ReadOnly: true}))
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.ReadOnly())
	assert.Equal(t, "zipped", readAll(t, a, "/docs/readme.txt"))

	entries, err := a.List(ctx, "/docs")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/docs/readme.txt", entries[0].Path)
}
