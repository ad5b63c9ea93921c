package union

import (
	"context"
	"slices"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/marmos91/layerfs/pkg/workers"
)

// Watch forwards external modifications reported by trees implementing
// vfs.Watcher to the overlay's listeners until ctx is done.
//
// Backend events are translated to the union view: changes hidden by a higher
// tree are dropped, a removal that uncovers a lower node becomes a change, and
// affected nodes get a new stamp so cached MIME results are recomputed. Mask
// entries themselves are never reported.
func (fs *FS) Watch(ctx context.Context) error {
	st := fs.current.Load()

	var handles []*workers.Handle
	for _, b := range st.layers {
		w, ok := b.(vfs.Watcher)
		if !ok {
			continue
		}
		ch, err := w.Watch(ctx)
		if err != nil {
			logger.Warn("Overlay %s: cannot watch tree %s: %v", fs.name, b.Name(), err)
			continue
		}

		h, err := fs.pool.Post(func(context.Context) error {
			for ev := range ch {
				fs.onBackendEvent(ctx, b, ev)
			}
			return nil
		})
		if err != nil {
			return err
		}
		handles = append(handles, h)
		logger.Debug("Overlay %s: watching tree %s", fs.name, b.Name())
	}

	for _, h := range handles {
		if err := h.Wait(); err != nil {
			logger.Warn("Overlay %s: watch pump failed: %v", fs.name, err)
		}
	}
	return nil
}

func (fs *FS) onBackendEvent(ctx context.Context, src vfs.Backend, ev vfs.Event) {
	p := vfs.Clean(ev.Path)
	if vfs.IsReservedName(vfs.Base(p)) {
		return
	}

	st := fs.current.Load()
	res, err := fs.resolve(ctx, st, p)
	visible := err == nil
	if err != nil && !vfs.IsNotFound(err) {
		logger.Debug("Overlay %s: ignoring event for %s: %v", fs.name, p, err)
		return
	}

	out := vfs.Event{Type: ev.Type, Path: p, OldPath: ev.OldPath, Kind: ev.Kind}
	switch {
	case !visible && ev.Type == vfs.EventDeleted:
		fs.forget(p)
	case !visible:
		return
	case ev.Type != vfs.EventDeleted && !res.contributes(slices.Index(st.layers, src)):
		return
	case ev.Type == vfs.EventDeleted:
		out.Type = vfs.EventChanged
		out.Kind = res.entry.Kind
	default:
		out.Kind = res.entry.Kind
	}

	if n := fs.cached(p); n != nil && visible {
		if n.kind != res.entry.Kind {
			fs.drop(n)
		} else {
			n.touch()
		}
	}
	fs.publish(out)
}
