package union

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/lock"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Lock acquires the exclusive write lock of the node. It never blocks: a node
// locked by someone else fails with ErrAlreadyLocked.
func (n *Node) Lock(ctx context.Context) (*lock.Lock, error) {
	if _, _, err := n.resolve(ctx); err != nil {
		return nil, err
	}
	return n.fs.coord.AcquireLock(n.id, n.Path())
}

// IsLocked reports whether the node's write lock is held.
func (n *Node) IsLocked() bool {
	return n.fs.coord.IsLocked(n.id)
}

// Streams returns the streams currently open on the node.
func (n *Node) Streams() []lock.Stream {
	return n.fs.coord.Streams(n.id)
}

// Open returns a reader over the content provided by the winning tree. An
// invalid node fails with ErrNotFound.
func (n *Node) Open(ctx context.Context) (io.ReadCloser, error) {
	st, res, err := n.resolve(ctx)
	if err != nil {
		if vfs.IsCode(err, vfs.ErrInvalidNode) {
			return nil, vfs.NewError(vfs.ErrNotFound, n.Path(), "node is no longer valid")
		}
		return nil, err
	}
	if res.entry.IsFolder() {
		return nil, vfs.NewError(vfs.ErrIsFolder, res.path, "cannot read a folder")
	}

	src := st.layers[res.layer]
	p := res.path
	return n.fs.coord.OpenInput(ctx, n.id, p, func(ctx context.Context) (io.ReadCloser, error) {
		return src.Open(ctx, p)
	})
}

// ReadAll reads the node's complete content.
func (n *Node) ReadAll(ctx context.Context) ([]byte, error) {
	r, err := n.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrIO, n.Path(), err)
	}
	return data, nil
}

// OpenOutput opens a write stream replacing the node's content. l must be a
// live lock for this node. The content is persisted to the writable tree on
// Close, which reports any persistence failure; the previous content stays
// readable until then and after a failed Close.
func (n *Node) OpenOutput(ctx context.Context, l *lock.Lock) (io.WriteCloser, error) {
	st, res, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if res.entry.IsFolder() {
		return nil, vfs.NewError(vfs.ErrIsFolder, res.path, "cannot write a folder")
	}
	if _, err := st.target(res.path); err != nil {
		return nil, err
	}
	return n.fs.coord.OpenOutput(ctx, n.id, res.path, l, n.commit)
}

// WriteAll replaces the node's content in one step. held may be nil, in which
// case a lock is taken for the duration of the write.
func (n *Node) WriteAll(ctx context.Context, held *lock.Lock, data []byte) error {
	l := held
	if l == nil {
		var err error
		if l, err = n.Lock(ctx); err != nil {
			return err
		}
		defer func() {
			if err := l.Release(); err != nil {
				logger.Warn("Releasing write lock on %s failed: %v", n.Path(), err)
			}
		}()
	}

	w, err := n.OpenOutput(ctx, l)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return vfs.WrapError(vfs.ErrIO, n.Path(), err)
	}
	return w.Close()
}

// commit persists a closed output stream. A node provided by a lower tree is
// shadowed in the writable tree together with its attributes.
func (n *Node) commit(ctx context.Context, data []byte) (err error) {
	var ev *vfs.Event
	start := time.Now()
	defer func() { n.fs.done("write", start, err, ev) }()

	st, res, err := n.resolve(ctx)
	if err != nil {
		return err
	}
	w, err := st.target(res.path)
	if err != nil {
		return err
	}
	p := res.path

	unlock := n.fs.lockPaths(p)
	defer unlock()

	if res.layer == 0 {
		if err := w.WriteFile(ctx, p, data); err != nil {
			return err
		}
	} else {
		attrs, err := st.layers[res.layer].Attributes().All(ctx, p)
		if err != nil {
			return err
		}
		if err := w.MkdirAll(ctx, vfs.Parent(p)); err != nil {
			return err
		}
		if err := w.WriteFile(ctx, p, data); err != nil {
			return err
		}
		if len(attrs) > 0 {
			if err := w.Attributes().Replace(ctx, p, attrs); err != nil {
				if rmErr := w.Remove(ctx, p); rmErr != nil {
					logger.Warn("Cleanup of %s failed: %v", p, rmErr)
				}
				return err
			}
		}
	}

	n.touch()
	ev = &vfs.Event{Type: vfs.EventChanged, Path: p, Kind: n.kind}
	return nil
}
