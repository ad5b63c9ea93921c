package union

import (
	"context"
	"slices"
	"strings"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// resolution is the outcome of looking a path up across the stack.
type resolution struct {
	path  string
	entry vfs.Entry

	// layer is the index of the winning tree
	layer int

	// layers lists the trees contributing to the node: the winner and, for
	// folders, every lower tree whose same-named folder is merged below it
	layers []int
}

func (r *resolution) contributes(i int) bool {
	return slices.Contains(r.layers, i)
}

func notFound(p string) error {
	return vfs.NewError(vfs.ErrNotFound, p, "no such node")
}

// resolve looks p up component by component. Lower trees are consulted below
// a folder only if they hold the same folder and nothing above cut them off.
func (fs *FS) resolve(ctx context.Context, st *stack, p string) (*resolution, error) {
	p = vfs.Clean(p)

	all := make([]int, len(st.layers))
	for i := range all {
		all[i] = i
	}
	res, err := fs.resolveAt(ctx, st, vfs.Root, all)
	if err != nil {
		return nil, err
	}

	for _, name := range vfs.Components(p) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !res.entry.IsFolder() || vfs.IsReservedName(name) {
			return nil, notFound(p)
		}
		res, err = fs.resolveAt(ctx, st, vfs.Join(res.path, name), res.layers)
		if err != nil {
			if vfs.IsNotFound(err) {
				return nil, notFound(p)
			}
			return nil, err
		}
	}
	return res, nil
}

// resolveChild resolves one child of an already resolved folder.
func (fs *FS) resolveChild(ctx context.Context, st *stack, parent *resolution, name string) (*resolution, error) {
	if vfs.IsReservedName(name) {
		return nil, notFound(vfs.Join(parent.path, name))
	}
	return fs.resolveAt(ctx, st, vfs.Join(parent.path, name), parent.layers)
}

// resolveAt resolves p among the candidate trees (in precedence order).
//
// A mask for p in a tree hides p in that tree and every tree below it. A data
// entry wins outright; a folder keeps merging lower folders until a data
// entry, a mask or an opaque marker stops it.
func (fs *FS) resolveAt(ctx context.Context, st *stack, p string, candidates []int) (*resolution, error) {
	res := &resolution{path: p, layer: -1}

	for _, i := range candidates {
		b := st.layers[i]

		if p != vfs.Root {
			masked, err := exists(ctx, b, vfs.WhiteoutPath(p))
			if err != nil {
				return nil, err
			}
			if masked {
				break
			}
		}

		entry, err := b.Stat(ctx, p)
		if err != nil {
			if vfs.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		if res.layer < 0 {
			res.layer = i
			res.entry = *entry
			res.entry.Path = p
		} else if !entry.IsFolder() {
			break
		}
		res.layers = append(res.layers, i)

		if !entry.IsFolder() {
			break
		}
		opaque, err := exists(ctx, b, vfs.OpaquePath(p))
		if err != nil {
			return nil, err
		}
		if opaque {
			break
		}
	}

	if res.layer < 0 {
		return nil, notFound(p)
	}
	return res, nil
}

// list merges the children of a resolved folder: upper trees win, masks hide
// names in their own tree and below, reserved entries are never shown.
func (fs *FS) list(ctx context.Context, st *stack, res *resolution) ([]vfs.Entry, error) {
	seen := make(map[string]bool)
	masked := make(map[string]bool)
	var out []vfs.Entry

	for _, i := range res.layers {
		entries, err := st.layers[i].List(ctx, res.path)
		if err != nil {
			if vfs.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		for _, e := range entries {
			if name, ok := vfs.MaskedName(e.Name()); ok {
				masked[name] = true
			}
		}
		for _, e := range entries {
			name := e.Name()
			if vfs.IsReservedName(name) || seen[name] || masked[name] {
				continue
			}
			seen[name] = true
			e.Path = vfs.Join(res.path, name)
			out = append(out, e)
		}
	}

	slices.SortFunc(out, func(a, b vfs.Entry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out, nil
}

// lowerHas reports whether any read-only tree holds an entry at p, reachable
// or not. It decides whether removing p from the writable tree needs a mask.
func (fs *FS) lowerHas(ctx context.Context, st *stack, p string) (bool, error) {
	for _, b := range st.layers[st.lowest():] {
		ok, err := exists(ctx, b, p)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func exists(ctx context.Context, b vfs.Backend, p string) (bool, error) {
	_, err := b.Stat(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case vfs.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}
