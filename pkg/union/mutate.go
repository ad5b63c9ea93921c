package union

import (
	"context"
	"time"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/lock"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// CreateData creates an empty data node named name in this folder.
func (n *Node) CreateData(ctx context.Context, name string) (*Node, error) {
	return n.create(ctx, name, vfs.KindData)
}

// CreateFolder creates an empty folder named name in this folder.
func (n *Node) CreateFolder(ctx context.Context, name string) (*Node, error) {
	return n.create(ctx, name, vfs.KindFolder)
}

// create materializes a new child in the writable tree, creating missing
// parents there. A name already present in the writable tree fails with
// ErrAlreadyExists. A name provided only by lower trees is overridden: the new
// node shadows it, and a new folder gets an opaque marker so none of the lower
// children show through.
func (n *Node) create(ctx context.Context, name string, kind vfs.Kind) (child *Node, err error) {
	var ev *vfs.Event
	start := time.Now()
	defer func() { n.fs.done("create_"+kind.String(), start, err, ev) }()

	if err := vfs.ValidateName(name); err != nil {
		return nil, err
	}

	st, res, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !res.entry.IsFolder() {
		return nil, vfs.NewError(vfs.ErrNotFolder, res.path, "cannot create %q below a data node", name)
	}
	w, err := st.target(res.path)
	if err != nil {
		return nil, err
	}

	p := vfs.Join(res.path, name)
	unlock := n.fs.lockPaths(res.path, p)
	defer unlock()

	existing, err := n.fs.resolveChild(ctx, st, res, name)
	switch {
	case err == nil && existing.layer == 0:
		return nil, vfs.NewError(vfs.ErrAlreadyExists, p, "node exists")
	case err != nil && !vfs.IsNotFound(err):
		return nil, err
	}
	overriding := err == nil

	if err := w.MkdirAll(ctx, res.path); err != nil {
		return nil, err
	}
	wasMasked, err := unmask(ctx, w, p)
	if err != nil {
		return nil, err
	}

	if err := n.fs.materialize(ctx, st, w, p, kind); err != nil {
		if wasMasked {
			if mErr := mask(ctx, w, p); mErr != nil {
				logger.Warn("Restoring mask of %s failed: %v", p, mErr)
			}
		}
		return nil, err
	}

	if overriding {
		logger.Debug("Created %s over a node of tree %s", p, st.layers[existing.layer].Name())
		n.fs.forget(p)
	}
	child = n.fs.nodeFor(p, kind)
	n.touch()

	ev = &vfs.Event{Type: vfs.EventCreated, Path: p, Kind: kind}
	return child, nil
}

// materialize writes an empty node at p in the writable tree.
func (fs *FS) materialize(ctx context.Context, st *stack, w vfs.Backend, p string, kind vfs.Kind) error {
	if kind == vfs.KindData {
		return w.WriteFile(ctx, p, nil)
	}

	if err := w.MkdirAll(ctx, p); err != nil {
		return err
	}
	lower, err := fs.lowerHas(ctx, st, p)
	if err == nil && lower {
		err = w.WriteFile(ctx, vfs.OpaquePath(p), nil)
	}
	if err != nil {
		if rmErr := w.Remove(ctx, p); rmErr != nil {
			logger.Warn("Cleanup of %s failed: %v", p, rmErr)
		}
		return err
	}
	return nil
}

// acquireFor checks that root can be mutated destructively and returns a
// release function. held, if not nil, must be a live lock for n; otherwise a
// lock is taken for the duration of the operation.
func (n *Node) acquireFor(root string, held *lock.Lock) (func(), error) {
	coord := n.fs.coord

	if coord.BusyWithin(root) {
		return nil, vfs.NewError(vfs.ErrBusy, root, "streams are open on the node")
	}

	release := func() {}
	if held != nil {
		if err := coord.Validate(held, n.id); err != nil {
			return nil, err
		}
	} else {
		l, err := coord.AcquireLock(n.id, root)
		if err != nil {
			return nil, err
		}
		release = func() {
			if err := l.Release(); err != nil {
				logger.Warn("Releasing operation lock on %s failed: %v", root, err)
			}
		}
		held = l
	}

	if coord.LockedWithin(root, held) {
		release()
		return nil, vfs.NewError(vfs.ErrAlreadyLocked, root, "a node below is locked")
	}
	return release, nil
}

// Delete removes the node and its subtree from the overlay. held may be nil,
// in which case the node must not be locked by anyone. Nodes provided by lower
// trees are hidden with a mask; the lower trees are left untouched.
func (n *Node) Delete(ctx context.Context, held *lock.Lock) (err error) {
	var ev *vfs.Event
	start := time.Now()
	defer func() { n.fs.done("delete", start, err, ev) }()

	st, res, err := n.resolve(ctx)
	if err != nil {
		return err
	}
	p := res.path
	if p == vfs.Root {
		return vfs.NewError(vfs.ErrInvalidArgument, p, "cannot delete the root")
	}
	w, err := st.target(p)
	if err != nil {
		return err
	}

	unlock := n.fs.lockPaths(vfs.Parent(p), p)
	defer unlock()

	release, err := n.acquireFor(p, held)
	if err != nil {
		return err
	}
	defer release()

	lower, err := n.fs.lowerHas(ctx, st, p)
	if err != nil {
		return err
	}

	// mask first: once it exists the node is gone from the view even if
	// removing the writable copy fails below
	if lower {
		if err := mask(ctx, w, p); err != nil {
			return err
		}
	}
	if res.contributes(0) {
		if err := w.Remove(ctx, p); err != nil {
			if lower {
				if _, uErr := unmask(ctx, w, p); uErr != nil {
					logger.Warn("Removing mask of %s after failed delete failed: %v", p, uErr)
				}
			}
			return err
		}
	}

	n.fs.forget(p)
	if parent := n.fs.cached(vfs.Parent(p)); parent != nil {
		parent.touch()
	}

	logger.Debug("Deleted %s (masked=%v)", p, lower)
	ev = &vfs.Event{Type: vfs.EventDeleted, Path: p, Kind: n.kind}
	return nil
}

// Rename gives the node a new name in the same folder. Attributes follow the
// node and its identity is kept.
func (n *Node) Rename(ctx context.Context, held *lock.Lock, newName string) (*Node, error) {
	return n.move(ctx, held, vfs.Parent(n.Path()), newName, "rename")
}

// Move moves the node into folder dest under name.
func (n *Node) Move(ctx context.Context, held *lock.Lock, dest *Node, name string) (*Node, error) {
	_, dres, err := dest.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !dres.entry.IsFolder() {
		return nil, vfs.NewError(vfs.ErrNotFolder, dres.path, "move target is not a folder")
	}
	return n.move(ctx, held, dres.path, name, "move")
}

// move relocates the node to destDir/name.
//
// The visible subtree is first copied into the writable tree if lower trees
// provide any of it, then renamed there (the writable tree carries the
// attributes along atomically). The old path is masked when lower trees still
// hold it, and a moved folder gets an opaque marker when lower trees hold
// something at the new path. Any failure restores the previous view.
func (n *Node) move(ctx context.Context, held *lock.Lock, destDir, name, op string) (_ *Node, err error) {
	var ev *vfs.Event
	start := time.Now()
	defer func() { n.fs.done(op, start, err, ev) }()

	if err := vfs.ValidateName(name); err != nil {
		return nil, err
	}

	st, res, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}
	oldPath := res.path
	if oldPath == vfs.Root {
		return nil, vfs.NewError(vfs.ErrInvalidArgument, oldPath, "cannot move the root")
	}
	newPath := vfs.Join(destDir, name)
	if newPath == oldPath {
		return n, nil
	}
	if vfs.IsDescendant(newPath, oldPath) {
		return nil, vfs.NewError(vfs.ErrInvalidArgument, newPath, "cannot move %s below itself", oldPath)
	}
	w, err := st.target(oldPath)
	if err != nil {
		return nil, err
	}

	unlock := n.fs.lockPaths(vfs.Parent(oldPath), oldPath, destDir, newPath)
	defer unlock()

	release, err := n.acquireFor(oldPath, held)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := n.fs.resolve(ctx, st, newPath); err == nil {
		return nil, vfs.NewError(vfs.ErrAlreadyExists, newPath, "node exists")
	} else if !vfs.IsNotFound(err) {
		return nil, err
	}

	lowerOld, err := n.fs.lowerHas(ctx, st, oldPath)
	if err != nil {
		return nil, err
	}
	lowerNew := false
	if res.entry.IsFolder() {
		if lowerNew, err = n.fs.lowerHas(ctx, st, newPath); err != nil {
			return nil, err
		}
	}

	created, err := n.fs.copyUp(ctx, st, res, true)
	if err != nil {
		return nil, err
	}
	undoCopy := func() {
		for i := len(created) - 1; i >= 0; i-- {
			if rmErr := w.Remove(ctx, created[i]); rmErr != nil {
				logger.Warn("Move rollback of %s failed: %v", created[i], rmErr)
			}
		}
	}

	if err := w.MkdirAll(ctx, destDir); err != nil {
		undoCopy()
		return nil, err
	}
	wasMasked, err := unmask(ctx, w, newPath)
	if err != nil {
		undoCopy()
		return nil, err
	}
	undoUnmask := func() {
		if wasMasked {
			if mErr := mask(ctx, w, newPath); mErr != nil {
				logger.Warn("Restoring mask of %s failed: %v", newPath, mErr)
			}
		}
	}

	if err := w.Rename(ctx, oldPath, newPath); err != nil {
		undoUnmask()
		undoCopy()
		return nil, err
	}

	finish := func() error {
		if lowerOld {
			if err := mask(ctx, w, oldPath); err != nil {
				return err
			}
		}
		if lowerNew {
			if err := w.WriteFile(ctx, vfs.OpaquePath(newPath), nil); err != nil {
				if lowerOld {
					_, _ = unmask(ctx, w, oldPath)
				}
				return err
			}
		}
		return nil
	}
	if err := finish(); err != nil {
		if rbErr := w.Rename(ctx, newPath, oldPath); rbErr != nil {
			logger.Error("Move of %s to %s left partially applied: %v", oldPath, newPath, rbErr)
			return nil, vfs.WrapError(vfs.ErrIO, oldPath, err)
		}
		undoUnmask()
		undoCopy()
		return nil, err
	}

	n.fs.coord.Rebase(oldPath, newPath)
	n.fs.forget(newPath)
	n.fs.rebase(oldPath, newPath)

	logger.Debug("Moved %s to %s", oldPath, newPath)
	ev = &vfs.Event{Type: vfs.EventRenamed, Path: newPath, OldPath: oldPath, Kind: n.kind}
	return n, nil
}

// SetAttribute writes one attribute; a nil value removes it. A node provided
// only by a lower tree is copied up first, so the change lands in the
// writable tree.
func (n *Node) SetAttribute(ctx context.Context, key string, value any) (err error) {
	var ev *vfs.Event
	start := time.Now()
	defer func() { n.fs.done("set_attribute", start, err, ev) }()

	if key == "" {
		return vfs.NewError(vfs.ErrInvalidArgument, n.Path(), "attribute name is empty")
	}

	st, res, err := n.resolve(ctx)
	if err != nil {
		return err
	}
	w, err := st.target(res.path)
	if err != nil {
		return &vfs.FSError{Code: vfs.ErrAttribute, Message: "attributes are read-only", Path: res.path, Err: err}
	}

	unlock := n.fs.lockPaths(res.path)
	defer unlock()

	created, err := n.fs.copyUp(ctx, st, res, false)
	if err != nil {
		return err
	}
	if err := w.Attributes().Set(ctx, res.path, key, value); err != nil {
		for _, p := range created {
			if rmErr := w.Remove(ctx, p); rmErr != nil {
				logger.Warn("Copy-up rollback of %s failed: %v", p, rmErr)
			}
		}
		return err
	}

	n.touch()
	ev = &vfs.Event{Type: vfs.EventAttributeChanged, Path: res.path, Attribute: key, Kind: n.kind}
	return nil
}
