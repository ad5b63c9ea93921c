package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	aferobackend "github.com/marmos91/layerfs/pkg/backend/afero"
	"github.com/marmos91/layerfs/pkg/layer"
	"github.com/marmos91/layerfs/pkg/store/attr/memory"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(name string, items ...layer.Record) layer.Source {
	return layer.RecordsSource{Name: name, Items: items}
}

func file(p, content string) layer.Record {
	return layer.Record{Path: p, Kind: layer.RecordData, Content: []byte(content)}
}

func dir(p string) layer.Record {
	return layer.Record{Path: p, Kind: layer.RecordFolder}
}

func hide(p string) layer.Record {
	return layer.Record{Path: p, Kind: layer.RecordMask}
}

type eventLog struct {
	mu     sync.Mutex
	events []vfs.Event
}

func (l *eventLog) OnEvent(ev vfs.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []vfs.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]vfs.Event(nil), l.events...)
}

func newRepo(t *testing.T, config Config, providers ...Provider) *Repository {
	t.Helper()
	r, err := New(config, providers...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func readAt(t *testing.T, r *Repository, p string) string {
	t.Helper()
	n, err := r.Find(context.Background(), p)
	require.NoError(t, err)
	b, err := n.ReadAll(context.Background())
	require.NoError(t, err)
	return string(b)
}

// countingProvider counts Layers calls.
type countingProvider struct {
	*StaticProvider
	mu    sync.Mutex
	calls int
	err   error
}

func (p *countingProvider) Layers(ctx context.Context) ([]layer.Source, error) {
	p.mu.Lock()
	p.calls++
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.StaticProvider.Layers(ctx)
}

func TestProvidersAreReadLazily(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{StaticProvider: NewStaticProvider("p", records("l1", file("/foo", "foo")))}
	r := newRepo(t, Config{Name: "config"}, p)

	assert.Zero(t, p.calls)

	assert.Equal(t, "foo", readAt(t, r, "/foo"))
	_, err := r.Find(ctx, "/foo")
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestLaterProvidersTakePrecedence(t *testing.T) {
	first := NewStaticProvider("first", records("a", file("/x", "first"), file("/only-first", "1")))
	second := NewStaticProvider("second",
		records("b1", file("/x", "second-1")),
		records("b2", file("/x", "second-2")),
	)
	r := newRepo(t, Config{}, first, second)

	assert.Equal(t, "second-2", readAt(t, r, "/x"))
	assert.Equal(t, "1", readAt(t, r, "/only-first"))
	assert.Equal(t, []string{"first", "second"}, r.Providers())
}

func TestProviderWithoutLayersContributesNothing(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, Config{}, NewStaticProvider("empty"), NewStaticProvider("p", records("l", file("/a", "a"))))

	root, err := r.Root(ctx)
	require.NoError(t, err)
	children, err := root.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "a", children[0].Name())
}

func TestDuplicateProviderNames(t *testing.T) {
	_, err := New(Config{}, NewStaticProvider("p"), NewStaticProvider("p"))
	assert.True(t, vfs.IsCode(err, vfs.ErrAlreadyExists))

	_, err = New(Config{}, NewStaticProvider(""))
	assert.True(t, vfs.IsCode(err, vfs.ErrInvalidArgument))
}

func TestRefreshPublishesOnlyTheDelta(t *testing.T) {
	ctx := context.Background()
	p := NewStaticProvider("p", records("l1", file("/foo", "foo")))
	r := newRepo(t, Config{Name: "config"}, p)

	foo, err := r.Find(ctx, "/foo")
	require.NoError(t, err)

	fs, err := r.FS(ctx)
	require.NoError(t, err)
	log := &eventLog{}
	fs.Subscribe(log)

	p.Set(records("l2", file("/foo", "foo"), file("/bar", "bar")))
	delta, err := r.Refresh(ctx, "p")
	require.NoError(t, err)

	assert.Equal(t, []string{"/bar"}, delta.Created)
	assert.Empty(t, delta.Deleted)
	assert.Empty(t, delta.Changed)

	evs := log.snapshot()
	require.Len(t, evs, 1)
	assert.Equal(t, vfs.EventCreated, evs[0].Type)
	assert.Equal(t, "/bar", evs[0].Path)
	assert.Equal(t, "config", evs[0].Tree)

	again, err := r.Find(ctx, "/foo")
	require.NoError(t, err)
	assert.Same(t, foo, again)
	assert.True(t, foo.Valid())
}

func TestRefreshLeavesOtherProvidersAlone(t *testing.T) {
	ctx := context.Background()
	base := NewStaticProvider("base", records("b", dir("/shared"), file("/shared/base", "b")))
	p := NewStaticProvider("p", records("l1", file("/shared/p", "p1")))
	r := newRepo(t, Config{}, base, p)

	baseNode, err := r.Find(ctx, "/shared/base")
	require.NoError(t, err)
	pNode, err := r.Find(ctx, "/shared/p")
	require.NoError(t, err)
	stamp := pNode.Stamp()

	p.Set(records("l1", file("/shared/p", "p2")))
	delta, err := r.Refresh(ctx, "p")
	require.NoError(t, err)

	assert.Equal(t, []string{"/shared/p"}, delta.Changed)
	assert.Empty(t, delta.Created)
	assert.Empty(t, delta.Deleted)
	assert.True(t, baseNode.Valid())
	assert.Greater(t, pNode.Stamp(), stamp)
	assert.Equal(t, "p2", readAt(t, r, "/shared/p"))
}

func TestRefreshMaskHidesLowerProviderSubtree(t *testing.T) {
	ctx := context.Background()
	base := NewStaticProvider("base", records("b", dir("/d"), file("/d/a", "a"), file("/keep", "k")))
	p := NewStaticProvider("p")
	r := newRepo(t, Config{}, base, p)

	a, err := r.Find(ctx, "/d/a")
	require.NoError(t, err)

	p.Set(records("mask", hide("/d")))
	delta, err := r.Refresh(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"/d/a", "/d"}, delta.Deleted)
	assert.False(t, a.Valid())

	_, err = r.Find(ctx, "/d")
	assert.True(t, vfs.IsNotFound(err))

	p.Set()
	delta, err = r.Refresh(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"/d", "/d/a"}, delta.Created)
	assert.Equal(t, "a", readAt(t, r, "/d/a"))
}

func TestRefreshFailureKeepsPreviousLayers(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{StaticProvider: NewStaticProvider("p", records("l", file("/foo", "foo")))}
	r := newRepo(t, Config{}, p)
	assert.Equal(t, "foo", readAt(t, r, "/foo"))

	p.err = errors.New("source unavailable")
	_, err := r.Refresh(ctx, "p")
	require.Error(t, err)
	assert.Equal(t, "foo", readAt(t, r, "/foo"))

	_, err = r.Refresh(ctx, "missing")
	assert.True(t, vfs.IsNotFound(err))
}

func TestRegisterAndRemoveProviderAfterBuild(t *testing.T) {
	ctx := context.Background()
	base := NewStaticProvider("base", records("b", file("/x", "base")))
	r := newRepo(t, Config{}, base)
	x, err := r.Find(ctx, "/x")
	require.NoError(t, err)

	delta, err := r.RegisterProvider(ctx, NewStaticProvider("top", records("t", file("/x", "top"), file("/y", "y"))))
	require.NoError(t, err)
	assert.Equal(t, []string{"/y"}, delta.Created)
	assert.Equal(t, []string{"/x"}, delta.Changed)
	assert.Equal(t, "top", readAt(t, r, "/x"))
	assert.True(t, x.Valid())

	_, err = r.RegisterProvider(ctx, NewStaticProvider("top"))
	assert.True(t, vfs.IsCode(err, vfs.ErrAlreadyExists))

	delta, err = r.RemoveProvider(ctx, "top")
	require.NoError(t, err)
	assert.Equal(t, []string{"/y"}, delta.Deleted)
	assert.Equal(t, []string{"/x"}, delta.Changed)
	assert.Equal(t, "base", readAt(t, r, "/x"))

	_, err = r.RemoveProvider(ctx, "top")
	assert.True(t, vfs.IsNotFound(err))
}

func TestWritableTreeSitsAboveProviders(t *testing.T) {
	ctx := context.Background()
	w := aferobackend.NewMemory("local", memory.NewMemoryAttributeStoreWithDefaults())
	p := NewStaticProvider("p", records("l1", file("/foo", "v1")))
	r := newRepo(t, Config{Writable: w}, p)

	foo, err := r.Find(ctx, "/foo")
	require.NoError(t, err)
	require.NoError(t, foo.WriteAll(ctx, nil, []byte("mine")))

	p.Set(records("l1", file("/foo", "v2")))
	delta, err := r.Refresh(ctx, "p")
	require.NoError(t, err)
	assert.True(t, delta.Empty())
	assert.Equal(t, "mine", readAt(t, r, "/foo"))
}

func TestFileProviderWatchRefreshes(t *testing.T) {
	dirPath := t.TempDir()
	descriptor := filepath.Join(dirPath, "layer.yaml")
	require.NoError(t, os.WriteFile(descriptor, []byte("entries:\n  - path: /foo\n    content: foo\n"), 0644))

	p := NewFileProvider("files", descriptor)
	r := newRepo(t, Config{}, p)
	assert.Equal(t, "foo", readAt(t, r, "/foo"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(descriptor, []byte("entries:\n  - path: /foo\n    content: foo\n  - path: /bar\n    content: bar\n"), 0644)
		_, err := r.Find(context.Background(), "/bar")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}
