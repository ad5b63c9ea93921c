// Package union composes ordered backend trees into one overlay namespace.
//
// An FS holds an optional writable tree followed by read-only trees in
// priority order. Reads resolve component by component: the first tree holding
// a live entry wins, folders merge the children of every contributing tree,
// and mask entries (".wh.<name>") or opaque markers hide lower trees.
// Mutations always land in the writable tree; nodes living only in lower
// trees are copied up first, so lower trees are never modified.
//
// Every node access goes through the lock and stream coordinator, every
// mutation publishes a change event synchronously before returning, and MIME
// types are resolved lazily through the configured chain.
package union

import (
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/events"
	"github.com/marmos91/layerfs/pkg/lock"
	"github.com/marmos91/layerfs/pkg/metrics"
	"github.com/marmos91/layerfs/pkg/mime"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/marmos91/layerfs/pkg/workers"
)

// stack is an immutable snapshot of the trees composing the overlay.
type stack struct {
	// layers is ordered from highest to lowest precedence
	layers []vfs.Backend

	// writable is true when layers[0] receives mutations
	writable bool
}

func (s *stack) target(p string) (vfs.Backend, error) {
	if !s.writable {
		return nil, vfs.NewError(vfs.ErrReadOnly, p, "overlay has no writable tree")
	}
	return s.layers[0], nil
}

// lowest returns the index of the first read-only tree.
func (s *stack) lowest() int {
	if s.writable {
		return 1
	}
	return 0
}

// FS is a union filesystem over ordered backend trees.
//
// Thread Safety:
// FS and its Nodes are safe for concurrent use. No tree-wide lock is held
// during backend I/O: structural mutations serialize on the paths they touch,
// and the layer snapshot is swapped atomically.
type FS struct {
	name string

	current atomic.Pointer[stack]
	swapMu  sync.Mutex

	coord   *lock.Coordinator
	bus     *events.Bus
	deep    *events.Registry
	chain   *mime.Chain
	pool    *workers.Pool
	ownPool bool
	metrics metrics.OverlayMetrics

	nodesMu sync.Mutex
	nodes   map[string]weak.Pointer[Node]
	sweepAt int
	nextID  atomic.Uint64

	pathLocksMu sync.Mutex
	pathLocks   map[string]*pathLock
}

// Option configures an FS.
type Option func(*FS)

// WithWritable sets the tree receiving every mutation. It always takes
// precedence over the read-only trees.
func WithWritable(b vfs.Backend) Option {
	return func(fs *FS) {
		st := fs.current.Load()
		layers := st.layers
		if st.writable {
			layers = layers[1:]
		}
		fs.current.Store(&stack{layers: append([]vfs.Backend{b}, layers...), writable: true})
	}
}

// WithLayers appends read-only trees, highest precedence first.
func WithLayers(layers ...vfs.Backend) Option {
	return func(fs *FS) {
		st := fs.current.Load()
		next := append(append([]vfs.Backend{}, st.layers...), layers...)
		fs.current.Store(&stack{layers: next, writable: st.writable})
	}
}

// WithCoordinator shares a lock and stream coordinator.
func WithCoordinator(c *lock.Coordinator) Option {
	return func(fs *FS) { fs.coord = c }
}

// WithMIME sets the chain used by Node.MimeType.
func WithMIME(c *mime.Chain) Option {
	return func(fs *FS) { fs.chain = c }
}

// WithWorkers sets the pool used for background work. Without it the FS owns
// a private pool, closed by Close.
func WithWorkers(p *workers.Pool) Option {
	return func(fs *FS) { fs.pool = p }
}

// WithBus publishes events on a shared bus.
func WithBus(b *events.Bus) Option {
	return func(fs *FS) { fs.bus = b }
}

// WithMetrics enables operation metrics.
func WithMetrics(m metrics.OverlayMetrics) Option {
	return func(fs *FS) { fs.metrics = metrics.OrNoop(m) }
}

// New creates an overlay named name. Without WithWritable every mutation
// fails with ErrReadOnly.
func New(name string, opts ...Option) *FS {
	fs := &FS{
		name:    name,
		nodes:   make(map[string]weak.Pointer[Node]),
		sweepAt: 1024,
		metrics: metrics.NewNoopOverlayMetrics(),
	}
	fs.current.Store(&stack{})

	for _, opt := range opts {
		opt(fs)
	}

	if fs.coord == nil {
		fs.coord = lock.NewCoordinator(lock.Config{Metrics: fs.metrics})
	}
	if fs.bus == nil {
		fs.bus = events.NewBus(fs.metrics)
	}
	if fs.chain == nil {
		fs.chain = mime.NewChain(mime.Config{Metrics: fs.metrics})
	}
	if fs.pool == nil {
		fs.pool = workers.NewPool(fs.metrics)
		fs.ownPool = true
	}

	fs.deep = events.NewRegistry()
	fs.bus.Subscribe(fs.deep)

	st := fs.current.Load()
	logger.Debug("Overlay %s created with %d tree(s), writable=%v", name, len(st.layers), st.writable)
	return fs
}

// Name returns the overlay name, used as the tree name in events and locators.
func (fs *FS) Name() string { return fs.name }

// Layers returns the current trees, highest precedence first.
func (fs *FS) Layers() []vfs.Backend {
	return append([]vfs.Backend(nil), fs.current.Load().layers...)
}

// Writable returns the writable tree, or nil.
func (fs *FS) Writable() vfs.Backend {
	st := fs.current.Load()
	if !st.writable {
		return nil
	}
	return st.layers[0]
}

// Coordinator returns the lock and stream coordinator.
func (fs *FS) Coordinator() *lock.Coordinator { return fs.coord }

// MIME returns the MIME resolution chain.
func (fs *FS) MIME() *mime.Chain { return fs.chain }

// Subscribe registers l for every event of this overlay.
func (fs *FS) Subscribe(l vfs.Listener) func() { return fs.bus.Subscribe(l) }

// DeepListeners returns the registry for subtree subscriptions. Attach
// observers with events.Attach.
func (fs *FS) DeepListeners() *events.Registry { return fs.deep }

// Workers returns the pool used for background work.
func (fs *FS) Workers() *workers.Pool { return fs.pool }

// Close stops background work owned by the FS. Trees are not closed.
func (fs *FS) Close() error {
	if fs.ownPool {
		fs.pool.Close()
	}
	return nil
}

func (fs *FS) publish(ev vfs.Event) {
	ev.Tree = fs.name
	fs.bus.Publish(ev)
}

// done records a finished operation and publishes its event if it succeeded.
// Operations defer it first so that it runs after their path locks are
// released; listeners may therefore mutate the overlay themselves.
func (fs *FS) done(op string, start time.Time, err error, ev *vfs.Event) {
	fs.metrics.ObserveOperation(op, time.Since(start), err)
	if err == nil && ev != nil {
		fs.publish(*ev)
	}
}
