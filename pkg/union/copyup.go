package union

import (
	"context"
	"io"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// copyUp materializes a resolved node in the writable tree with the content
// and complete attribute map of the tree currently winning it.
//
// With deep set, a folder also brings along every visible descendant that is
// not already in the writable tree, so the writable copy can be moved on its
// own without lower trees leaking into either location.
//
// It returns the topmost paths it created. On error everything created so far
// has been removed again.
func (fs *FS) copyUp(ctx context.Context, st *stack, res *resolution, deep bool) ([]string, error) {
	w, err := st.target(res.path)
	if err != nil {
		return nil, err
	}

	var created []string
	rollback := func() {
		for i := len(created) - 1; i >= 0; i-- {
			if rmErr := w.Remove(ctx, created[i]); rmErr != nil {
				logger.Warn("Copy-up rollback of %s failed: %v", created[i], rmErr)
			}
		}
	}

	if res.layer != 0 {
		if err := fs.copyNode(ctx, st, res); err != nil {
			return nil, err
		}
		created = append(created, res.path)
		logger.Debug("Copied %s up from %s", res.path, st.layers[res.layer].Name())
	}

	if !deep || !res.entry.IsFolder() {
		return created, nil
	}

	// the writable tree now contributes to the folder; re-resolve to merge it
	current, err := fs.resolve(ctx, st, res.path)
	if err != nil {
		rollback()
		return nil, err
	}
	entries, err := fs.list(ctx, st, current)
	if err != nil {
		rollback()
		return nil, err
	}

	for _, e := range entries {
		child, err := fs.resolveChild(ctx, st, current, e.Name())
		if err != nil {
			rollback()
			return nil, err
		}
		if child.layer == 0 && !(child.entry.IsFolder() && len(child.layers) > 1) {
			continue
		}
		sub, err := fs.copyUp(ctx, st, child, true)
		created = append(created, sub...)
		if err != nil {
			rollback()
			return nil, err
		}
	}
	return created, nil
}

// copyNode writes one node of a read-only tree into the writable tree.
func (fs *FS) copyNode(ctx context.Context, st *stack, res *resolution) error {
	w := st.layers[0]
	src := st.layers[res.layer]

	attrs, err := src.Attributes().All(ctx, res.path)
	if err != nil {
		return err
	}

	if err := w.MkdirAll(ctx, vfs.Parent(res.path)); err != nil {
		return err
	}

	if res.entry.IsFolder() {
		err = w.MkdirAll(ctx, res.path)
	} else {
		err = copyContent(ctx, src, w, res.path)
	}
	if err != nil {
		return err
	}

	if len(attrs) > 0 {
		if err := w.Attributes().Replace(ctx, res.path, attrs); err != nil {
			if rmErr := w.Remove(ctx, res.path); rmErr != nil {
				logger.Warn("Copy-up cleanup of %s failed: %v", res.path, rmErr)
			}
			return err
		}
	}
	return nil
}

func copyContent(ctx context.Context, src, dst vfs.Backend, p string) error {
	r, err := src.Open(ctx, p)
	if err != nil {
		return err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return vfs.WrapError(vfs.ErrIO, p, err)
	}
	return dst.WriteFile(ctx, p, data)
}

// unmask removes a mask for p from the writable tree. It reports whether one
// was there, so callers can restore it on rollback.
func unmask(ctx context.Context, w vfs.Backend, p string) (bool, error) {
	wh := vfs.WhiteoutPath(p)
	ok, err := exists(ctx, w, wh)
	if err != nil || !ok {
		return false, err
	}
	return true, w.Remove(ctx, wh)
}

// mask writes a mask hiding p in the writable tree and every lower tree.
func mask(ctx context.Context, w vfs.Backend, p string) error {
	if err := w.MkdirAll(ctx, vfs.Parent(p)); err != nil {
		return err
	}
	return w.WriteFile(ctx, vfs.WhiteoutPath(p), nil)
}
