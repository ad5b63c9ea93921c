package union

import (
	"context"
	"slices"
	"strings"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Delta is the visible effect of replacing the read-only trees.
type Delta struct {
	Created []string
	Deleted []string
	Changed []string
}

// Empty reports whether nothing visible changed.
func (d Delta) Empty() bool {
	return len(d.Created) == 0 && len(d.Deleted) == 0 && len(d.Changed) == 0
}

// SwapLayers atomically replaces the read-only trees (the writable tree is
// kept) and reports how the view changed at the candidate paths, which the
// caller derives from what it knows changed between the old and new trees.
//
// Nodes at unaffected paths keep their identity. Nodes that disappeared are
// invalidated, changed ones get a new stamp. One event per delta path is
// published before SwapLayers returns: deletions deepest first, then
// creations shallowest first, then changes.
func (fs *FS) SwapLayers(ctx context.Context, layers []vfs.Backend, candidates []string) (Delta, error) {
	fs.swapMu.Lock()
	defer fs.swapMu.Unlock()

	old := fs.current.Load()
	next := &stack{writable: old.writable}
	if old.writable {
		next.layers = append(next.layers, old.layers[0])
	}
	next.layers = append(next.layers, layers...)

	paths := make([]string, 0, len(candidates))
	for _, p := range candidates {
		paths = append(paths, vfs.Clean(p))
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)

	before := make(map[string]*resolution, len(paths))
	for _, p := range paths {
		res, err := fs.resolve(ctx, old, p)
		if err != nil {
			if vfs.IsNotFound(err) {
				continue
			}
			return Delta{}, err
		}
		before[p] = res
	}

	fs.current.Store(next)

	var delta Delta
	kinds := make(map[string]vfs.Kind)
	for _, p := range paths {
		after, err := fs.resolve(ctx, next, p)
		if err != nil && !vfs.IsNotFound(err) {
			logger.Warn("Overlay %s: resolving %s after swap failed: %v", fs.name, p, err)
			continue
		}
		prev := before[p]

		switch {
		case prev == nil && after != nil:
			delta.Created = append(delta.Created, p)
			kinds[p] = after.entry.Kind
		case prev != nil && after == nil:
			delta.Deleted = append(delta.Deleted, p)
			kinds[p] = prev.entry.Kind
			fs.forget(p)
		case prev != nil && after != nil:
			if !changed(old, next, prev, after) {
				continue
			}
			delta.Changed = append(delta.Changed, p)
			kinds[p] = after.entry.Kind
			if n := fs.cached(p); n != nil {
				if n.kind != after.entry.Kind {
					fs.drop(n)
				} else {
					n.touch()
				}
			}
		}
	}

	byDepth := func(a, b string) int { return strings.Count(a, "/") - strings.Count(b, "/") }
	slices.SortStableFunc(delta.Deleted, func(a, b string) int { return byDepth(b, a) })
	slices.SortStableFunc(delta.Created, byDepth)

	for _, p := range delta.Deleted {
		fs.publish(vfs.Event{Type: vfs.EventDeleted, Path: p, Kind: kinds[p]})
	}
	for _, p := range delta.Created {
		fs.publish(vfs.Event{Type: vfs.EventCreated, Path: p, Kind: kinds[p]})
	}
	for _, p := range delta.Changed {
		fs.publish(vfs.Event{Type: vfs.EventChanged, Path: p, Kind: kinds[p]})
	}

	logger.Debug("Overlay %s: swapped %d read-only tree(s): +%d -%d ~%d",
		fs.name, len(layers), len(delta.Created), len(delta.Deleted), len(delta.Changed))
	return delta, nil
}

// changed reports whether the node a path resolves to differs between two
// stacks.
func changed(old, next *stack, prev, after *resolution) bool {
	if prev.entry.Kind != after.entry.Kind {
		return true
	}
	if prev.layer == 0 && after.layer == 0 && old.writable {
		// the writable tree shadows both versions
		return false
	}
	a, b := old.layers[prev.layer], next.layers[after.layer]
	if a == b {
		return false
	}
	fa, okA := a.(vfs.Fingerprinter)
	fb, okB := b.(vfs.Fingerprinter)
	if !okA || !okB {
		return true
	}
	pa, okA := fa.Fingerprint(prev.path)
	pb, okB := fb.Fingerprint(after.path)
	return !okA || !okB || pa != pb
}
