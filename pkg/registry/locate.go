package registry

import (
	"context"
	"io"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// Locate formats the locator of p in the named tree.
func (r *Registry) Locate(tree, p string) (string, error) {
	if !r.Exists(tree) {
		return "", vfs.NewError(vfs.ErrNotFound, p, "tree %q not registered", tree)
	}
	return vfs.FormatURL(tree, p), nil
}

// Stat resolves a locator to its entry.
func (r *Registry) Stat(ctx context.Context, locator string) (*vfs.Entry, error) {
	tree, p, err := vfs.ParseURL(locator)
	if err != nil {
		return nil, err
	}

	if fs, err := r.GetOverlay(tree); err == nil {
		n, err := fs.Find(ctx, p)
		if err != nil {
			return nil, err
		}
		return n.Stat(ctx)
	}

	b, err := r.GetTree(tree)
	if err != nil {
		return nil, err
	}
	return b.Stat(ctx, p)
}

// Open returns a reader over the content a locator points at. Overlay nodes
// are read through the overlay's stream coordinator.
func (r *Registry) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	tree, p, err := vfs.ParseURL(locator)
	if err != nil {
		return nil, err
	}

	if fs, err := r.GetOverlay(tree); err == nil {
		n, err := fs.Find(ctx, p)
		if err != nil {
			return nil, err
		}
		return n.Open(ctx)
	}

	b, err := r.GetTree(tree)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, p)
}

// Attributes returns the attributes of the node a locator points at.
func (r *Registry) Attributes(ctx context.Context, locator string) (map[string]any, error) {
	tree, p, err := vfs.ParseURL(locator)
	if err != nil {
		return nil, err
	}

	if fs, err := r.GetOverlay(tree); err == nil {
		n, err := fs.Find(ctx, p)
		if err != nil {
			return nil, err
		}
		return n.Attributes(ctx)
	}

	b, err := r.GetTree(tree)
	if err != nil {
		return nil, err
	}
	if _, err := b.Stat(ctx, p); err != nil {
		return nil, err
	}
	return b.Attributes().All(ctx, p)
}
