// Package repository assembles the process-wide overlay from layers
// contributed by providers.
//
// Providers are registered explicitly and consulted lazily: nothing is read
// until the merged tree is first accessed. Later-registered providers take
// precedence over earlier ones, and within a provider later layers take
// precedence over earlier ones. A writable tree, if configured, sits above
// everything.
//
// Refresh re-reads a single provider and swaps its layers into the overlay
// atomically. Nodes elsewhere in the tree keep their identity and one change
// event is published per path whose visible state changed.
package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/layer"
	"github.com/marmos91/layerfs/pkg/metrics"
	"github.com/marmos91/layerfs/pkg/union"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/marmos91/layerfs/pkg/workers"
)

// Config contains configuration for a Repository.
type Config struct {
	// Name of the overlay, used as its tree name in events and locators
	Name string

	// Writable is the mutable top tree. Nil makes the overlay read-only.
	Writable vfs.Backend

	// Options are passed through to the overlay (coordinator, MIME chain, bus, ...)
	Options []union.Option

	// Metrics receives refresh deltas and is handed to the overlay. Nil disables metrics.
	Metrics metrics.OverlayMetrics
}

// Repository owns the overlay built from its providers.
//
// Thread Safety:
// All methods are safe for concurrent use. Merges and refreshes are serialized.
type Repository struct {
	name    string
	fs      *union.FS
	metrics metrics.OverlayMetrics

	mu            sync.Mutex
	built         atomic.Bool
	contributions []*contribution
}

type contribution struct {
	provider Provider
	layers   []*layer.Layer
}

// New creates a repository over providers, in registration order. Provider
// names must be unique.
func New(config Config, providers ...Provider) (*Repository, error) {
	if config.Name == "" {
		config.Name = "layerfs"
	}
	m := metrics.OrNoop(config.Metrics)

	opts := []union.Option{union.WithMetrics(m)}
	if config.Writable != nil {
		opts = append(opts, union.WithWritable(config.Writable))
	}
	opts = append(opts, config.Options...)

	r := &Repository{
		name:    config.Name,
		fs:      union.New(config.Name, opts...),
		metrics: m,
	}
	for _, p := range providers {
		if err := r.add(p); err != nil {
			_ = r.fs.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Repository) add(p Provider) error {
	if p == nil || p.Name() == "" {
		return vfs.NewError(vfs.ErrInvalidArgument, "", "provider must have a name")
	}
	if r.indexOf(p.Name()) >= 0 {
		return vfs.NewError(vfs.ErrAlreadyExists, "", "provider %q already registered", p.Name())
	}
	r.contributions = append(r.contributions, &contribution{provider: p})
	return nil
}

func (r *Repository) indexOf(name string) int {
	return slices.IndexFunc(r.contributions, func(c *contribution) bool {
		return c.provider.Name() == name
	})
}

// Name returns the overlay name.
func (r *Repository) Name() string { return r.name }

// Providers returns the registered provider names, in registration order.
func (r *Repository) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.contributions))
	for i, c := range r.contributions {
		out[i] = c.provider.Name()
	}
	return out
}

// FS returns the merged overlay, reading every provider on first use.
//
// Once built, FS does not take the repository lock, so listeners reacting to
// refresh events may call it.
func (r *Repository) FS(ctx context.Context) (*union.FS, error) {
	if r.built.Load() {
		return r.fs, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureBuilt(ctx); err != nil {
		return nil, err
	}
	return r.fs, nil
}

// Root returns the root node of the merged overlay.
func (r *Repository) Root(ctx context.Context) (*union.Node, error) {
	fs, err := r.FS(ctx)
	if err != nil {
		return nil, err
	}
	return fs.Root(ctx)
}

// Find returns the node at p in the merged overlay.
func (r *Repository) Find(ctx context.Context, p string) (*union.Node, error) {
	fs, err := r.FS(ctx)
	if err != nil {
		return nil, err
	}
	return fs.Find(ctx, p)
}

// ensureBuilt performs the initial merge. Nobody can hold a node yet, so the
// swap publishes nothing. Caller holds r.mu.
func (r *Repository) ensureBuilt(ctx context.Context) error {
	if r.built.Load() {
		return nil
	}

	start := time.Now()
	loaded := make([][]*layer.Layer, len(r.contributions))
	for i, c := range r.contributions {
		layers, err := load(ctx, c.provider)
		if err != nil {
			return err
		}
		loaded[i] = layers
	}
	for i, c := range r.contributions {
		c.layers = loaded[i]
	}

	if _, err := r.fs.SwapLayers(ctx, r.stack(), nil); err != nil {
		return err
	}
	r.built.Store(true)

	logger.Info("Repository %s built from %d provider(s), %d layer(s) in %s",
		r.name, len(r.contributions), r.layerCount(), time.Since(start).Round(time.Millisecond))
	return nil
}

// RegisterProvider adds p above the providers registered so far. If the
// overlay was already merged, p's layers are read now and the resulting
// creations are published.
func (r *Repository) RegisterProvider(ctx context.Context, p Provider) (union.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.add(p); err != nil {
		return union.Delta{}, err
	}
	if !r.built.Load() {
		logger.Info("Repository %s: provider %s registered", r.name, p.Name())
		return union.Delta{}, nil
	}

	c := r.contributions[len(r.contributions)-1]
	layers, err := load(ctx, p)
	if err != nil {
		r.contributions = r.contributions[:len(r.contributions)-1]
		return union.Delta{}, err
	}
	c.layers = layers

	delta, err := r.swap(ctx, p.Name(), nil, layers)
	if err != nil {
		r.contributions = r.contributions[:len(r.contributions)-1]
		return union.Delta{}, err
	}
	logger.Info("Repository %s: provider %s registered", r.name, p.Name())
	return delta, nil
}

// RemoveProvider drops a provider and its layers, publishing what disappeared
// or became visible again from lower providers.
func (r *Repository) RemoveProvider(ctx context.Context, name string) (union.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(name)
	if i < 0 {
		return union.Delta{}, vfs.NewError(vfs.ErrNotFound, "", "provider %q not registered", name)
	}
	c := r.contributions[i]
	r.contributions = slices.Delete(r.contributions, i, i+1)
	if !r.built.Load() {
		logger.Info("Repository %s: provider %s removed", r.name, name)
		return union.Delta{}, nil
	}

	delta, err := r.swap(ctx, name, c.layers, nil)
	if err != nil {
		r.contributions = slices.Insert(r.contributions, i, c)
		return union.Delta{}, err
	}
	logger.Info("Repository %s: provider %s removed", r.name, name)
	return delta, nil
}

// Refresh re-reads the named provider and replaces its layers. Only paths the
// provider contributed before or after the refresh are re-evaluated; the rest
// of the overlay, and nodes resolved from other providers, are untouched.
//
// If the provider fails to produce its layers the previous ones stay in place.
func (r *Repository) Refresh(ctx context.Context, name string) (union.Delta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(name)
	if i < 0 {
		return union.Delta{}, vfs.NewError(vfs.ErrNotFound, "", "provider %q not registered", name)
	}
	if !r.built.Load() {
		// nothing was read yet; the first access will see the current content
		return union.Delta{}, nil
	}

	c := r.contributions[i]
	layers, err := load(ctx, c.provider)
	if err != nil {
		return union.Delta{}, err
	}
	before := c.layers
	c.layers = layers

	delta, err := r.swap(ctx, name, before, layers)
	if err != nil {
		c.layers = before
		return union.Delta{}, err
	}
	if !delta.Empty() {
		logger.Info("Repository %s: provider %s refreshed: +%d -%d ~%d",
			r.name, name, len(delta.Created), len(delta.Deleted), len(delta.Changed))
	}
	return delta, nil
}

// Watch refreshes watching providers whenever they report a change, until ctx
// is done. Each provider is watched on the overlay's worker pool.
func (r *Repository) Watch(ctx context.Context) error {
	r.mu.Lock()
	var watching []WatchingProvider
	for _, c := range r.contributions {
		if w, ok := c.provider.(WatchingProvider); ok {
			watching = append(watching, w)
		}
	}
	r.mu.Unlock()

	handles := make([]*workers.Handle, 0, len(watching))
	for _, w := range watching {
		h, err := r.fs.Workers().Post(func(context.Context) error {
			return w.Watch(ctx, func() {
				if _, err := r.Refresh(ctx, w.Name()); err != nil && ctx.Err() == nil {
					logger.Warn("Repository %s: refreshing provider %s failed: %v", r.name, w.Name(), err)
				}
			})
		})
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	var firstErr error
	for _, h := range handles {
		if err := h.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases the overlay's background resources.
func (r *Repository) Close() error {
	return r.fs.Close()
}

// swap installs the current contributions and reports the delta of the paths
// touched by one provider changing from before to after. Caller holds r.mu.
func (r *Repository) swap(ctx context.Context, provider string, before, after []*layer.Layer) (union.Delta, error) {
	candidates := r.candidates(before, after)
	delta, err := r.fs.SwapLayers(ctx, r.stack(), candidates)
	if err != nil {
		return union.Delta{}, fmt.Errorf("provider %s: %w", provider, err)
	}
	r.metrics.RecordRefresh(provider, len(delta.Created), len(delta.Deleted), len(delta.Changed))
	return delta, nil
}

// stack returns the read-only trees, highest precedence first. Caller holds r.mu.
func (r *Repository) stack() []vfs.Backend {
	var out []vfs.Backend
	for i := len(r.contributions) - 1; i >= 0; i-- {
		layers := r.contributions[i].layers
		for j := len(layers) - 1; j >= 0; j-- {
			out = append(out, layers[j])
		}
	}
	return out
}

func (r *Repository) layerCount() int {
	n := 0
	for _, c := range r.contributions {
		n += len(c.layers)
	}
	return n
}

func load(ctx context.Context, p Provider) ([]*layer.Layer, error) {
	sources, err := p.Layers(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider %s: list layers: %w", p.Name(), err)
	}
	out := make([]*layer.Layer, 0, len(sources))
	for _, src := range sources {
		l, err := layer.Build(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("provider %s: layer %s: %w", p.Name(), src.ID(), err)
		}
		out = append(out, l)
	}
	logger.Debug("provider %s: %d layer(s) loaded", p.Name(), len(out))
	return out, nil
}
