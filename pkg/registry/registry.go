// Package registry maps tree names to the trees and overlays of a process so
// that nodes can be addressed by layerfs://<tree>/<path> locators.
package registry

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/layerfs/pkg/union"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Registry manages all named resources: attribute stores, backend trees and
// overlays. Tree and overlay names share one namespace, since both are
// addressed by locators.
//
// Example usage:
//
//	reg := NewRegistry()
//	reg.RegisterAttributeStore("badger-main", badgerStore)
//	reg.RegisterTree("assets", diskTree)
//	reg.RegisterOverlay(fs)
//
//	r, _ := reg.Open(ctx, "layerfs://config/Editors/default.xml")
type Registry struct {
	mu       sync.RWMutex
	attrs    map[string]vfs.AttributeStore
	trees    map[string]vfs.Backend
	overlays map[string]*union.FS
}

// TreeKind tells plain trees and overlays apart in listings.
type TreeKind string

const (
	KindTree    TreeKind = "tree"
	KindOverlay TreeKind = "overlay"
)

// TreeInfo describes a registered tree.
type TreeInfo struct {
	Name     string
	Kind     TreeKind
	ReadOnly bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		attrs:    make(map[string]vfs.AttributeStore),
		trees:    make(map[string]vfs.Backend),
		overlays: make(map[string]*union.FS),
	}
}

// RegisterAttributeStore adds a named attribute store to the registry.
// Returns an error if a store with the same name already exists.
func (r *Registry) RegisterAttributeStore(name string, store vfs.AttributeStore) error {
	if store == nil {
		return fmt.Errorf("cannot register nil attribute store")
	}
	if name == "" {
		return fmt.Errorf("cannot register attribute store with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attrs[name]; exists {
		return fmt.Errorf("attribute store %q already registered", name)
	}

	r.attrs[name] = store
	return nil
}

// RegisterTree adds a backend tree under its own name.
func (r *Registry) RegisterTree(b vfs.Backend) error {
	if b == nil {
		return fmt.Errorf("cannot register nil tree")
	}
	name := b.Name()
	if name == "" {
		return fmt.Errorf("cannot register tree with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.existsLocked(name) {
		return fmt.Errorf("tree %q already registered", name)
	}

	r.trees[name] = b
	return nil
}

// RegisterOverlay adds an overlay under its own name.
func (r *Registry) RegisterOverlay(fs *union.FS) error {
	if fs == nil {
		return fmt.Errorf("cannot register nil overlay")
	}
	name := fs.Name()
	if name == "" {
		return fmt.Errorf("cannot register overlay with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.existsLocked(name) {
		return fmt.Errorf("tree %q already registered", name)
	}

	r.overlays[name] = fs
	return nil
}

// Remove unregisters a tree or overlay. The tree itself is not closed, as it
// may still be part of an overlay.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trees[name]; ok {
		delete(r.trees, name)
		return nil
	}
	if _, ok := r.overlays[name]; ok {
		delete(r.overlays, name)
		return nil
	}
	return vfs.NewError(vfs.ErrNotFound, "", "tree %q not registered", name)
}

// GetAttributeStore retrieves an attribute store by name.
func (r *Registry) GetAttributeStore(name string) (vfs.AttributeStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, exists := r.attrs[name]
	if !exists {
		return nil, vfs.NewError(vfs.ErrNotFound, "", "attribute store %q not registered", name)
	}
	return store, nil
}

// GetTree retrieves a backend tree by name.
func (r *Registry) GetTree(name string) (vfs.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.trees[name]
	if !exists {
		return nil, vfs.NewError(vfs.ErrNotFound, "", "tree %q not registered", name)
	}
	return b, nil
}

// GetOverlay retrieves an overlay by name.
func (r *Registry) GetOverlay(name string) (*union.FS, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fs, exists := r.overlays[name]
	if !exists {
		return nil, vfs.NewError(vfs.ErrNotFound, "", "overlay %q not registered", name)
	}
	return fs, nil
}

// Trees returns every registered tree and overlay, sorted by name.
func (r *Registry) Trees() []TreeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TreeInfo, 0, len(r.trees)+len(r.overlays))
	for name, b := range r.trees {
		out = append(out, TreeInfo{Name: name, Kind: KindTree, ReadOnly: b.ReadOnly()})
	}
	for name, fs := range r.overlays {
		out = append(out, TreeInfo{Name: name, Kind: KindOverlay, ReadOnly: fs.Writable() == nil})
	}
	slices.SortFunc(out, func(a, b TreeInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// ListAttributeStores returns all registered attribute store names, sorted.
func (r *Registry) ListAttributeStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.attrs))
	for name := range r.attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Exists checks if a tree or overlay with the given name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.existsLocked(name)
}

func (r *Registry) existsLocked(name string) bool {
	_, tree := r.trees[name]
	_, overlay := r.overlays[name]
	return tree || overlay
}

// Close closes every registered attribute store. Trees and overlays are owned
// by their creators.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, store := range r.attrs {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close attribute store %s: %w", name, err)
		}
	}
	r.attrs = make(map[string]vfs.AttributeStore)
	return firstErr
}
