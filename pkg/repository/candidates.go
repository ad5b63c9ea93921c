package repository

import (
	"slices"

	"github.com/marmos91/layerfs/pkg/layer"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// candidates returns the paths whose visible state may differ when a
// provider's layers change from before to after.
//
// A path is a candidate if the fingerprints the provider declares for it
// changed. Everything below a changed path, in any provider, is a candidate
// too: a mask or a data node appearing there hides lower subtrees, and their
// disappearance uncovers them. The overlay filters out candidates whose
// resolution did not actually change. Caller holds r.mu.
func (r *Repository) candidates(before, after []*layer.Layer) []string {
	changed := make(map[string]struct{})
	for _, p := range paths(before, after) {
		if !slices.Equal(signature(before, p), signature(after, p)) {
			changed[target(p)] = struct{}{}
		}
	}
	if len(changed) == 0 {
		return nil
	}

	all := slices.Clone(before)
	all = append(all, after...)
	for _, c := range r.contributions {
		all = append(all, c.layers...)
	}

	out := make([]string, 0, len(changed))
	for p := range changed {
		out = append(out, p)
	}
	for _, p := range paths(all) {
		p = target(p)
		if _, ok := changed[p]; ok {
			continue
		}
		for q := vfs.Parent(p); ; q = vfs.Parent(q) {
			if _, ok := changed[q]; ok {
				out = append(out, p)
				break
			}
			if q == vfs.Root {
				break
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// paths returns every node path of the given layer sets, whiteouts included.
func paths(sets ...[]*layer.Layer) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, l := range set {
			for _, p := range l.Paths() {
				seen[p] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// signature lists the fingerprints of p in the layers declaring it, in order.
func signature(layers []*layer.Layer, p string) []uint64 {
	var out []uint64
	for _, l := range layers {
		if fp, ok := l.Fingerprint(p); ok {
			out = append(out, fp)
		}
	}
	return out
}

// target maps a whiteout entry to the path it hides.
func target(p string) string {
	if name, ok := vfs.MaskedName(vfs.Base(p)); ok {
		return vfs.Join(vfs.Parent(p), name)
	}
	return p
}
