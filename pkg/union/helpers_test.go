package union

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	aferobackend "github.com/marmos91/layerfs/pkg/backend/afero"
	"github.com/marmos91/layerfs/pkg/layer"
	"github.com/marmos91/layerfs/pkg/store/attr/memory"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/require"
)

func newWritable() *aferobackend.Backend {
	return aferobackend.NewMemory("writable", memory.NewMemoryAttributeStoreWithDefaults())
}

func mustLayer(t *testing.T, name string, records ...layer.Record) *layer.Layer {
	t.Helper()
	l, err := layer.New(name, records)
	require.NoError(t, err)
	return l
}

func data(p, content string, attrs map[string]any) layer.Record {
	return layer.Record{Path: p, Kind: layer.RecordData, Content: []byte(content), Attributes: attrs}
}

func folder(p string, attrs map[string]any) layer.Record {
	return layer.Record{Path: p, Kind: layer.RecordFolder, Attributes: attrs}
}

func masked(p string) layer.Record {
	return layer.Record{Path: p, Kind: layer.RecordMask}
}

func newFS(t *testing.T, opts ...Option) *FS {
	t.Helper()
	fs := New("test", opts...)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func find(t *testing.T, fs *FS, p string) *Node {
	t.Helper()
	n, err := fs.Find(context.Background(), p)
	require.NoError(t, err)
	return n
}

func read(t *testing.T, n *Node) string {
	t.Helper()
	b, err := n.ReadAll(context.Background())
	require.NoError(t, err)
	return string(b)
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

// flakyBackend fails selected writable-tree operations on demand.
type flakyBackend struct {
	vfs.Backend
	failWrites  atomic.Bool
	failRenames atomic.Bool
}

func (b *flakyBackend) WriteFile(ctx context.Context, p string, data []byte) error {
	if b.failWrites.Load() {
		return vfs.NewError(vfs.ErrIO, p, "disk full")
	}
	return b.Backend.WriteFile(ctx, p, data)
}

func (b *flakyBackend) Rename(ctx context.Context, p, newPath string) error {
	if b.failRenames.Load() {
		return vfs.NewError(vfs.ErrIO, p, "rename refused")
	}
	return b.Backend.Rename(ctx, p, newPath)
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []vfs.Event
}

func (r *recorder) OnEvent(ev vfs.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []vfs.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vfs.Event(nil), r.events...)
}
