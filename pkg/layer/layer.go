package layer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/marmos91/layerfs/pkg/store/attr/memory"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Layer is an immutable tree built from declarative records. It implements a
// read-only vfs.Backend; mask records appear as whiteout entries in listings.
//
// Thread Safety:
// A Layer is never modified after Build returns and is safe for concurrent use.
type Layer struct {
	name  string
	nodes map[string]*node
	attrs *memory.MemoryAttributeStore
	masks []string
}

type node struct {
	entry    vfs.Entry
	content  []byte
	attrs    map[string]any
	children map[string]struct{}
	print    uint64
}

// Build parses src and folds its records into a Layer.
func Build(ctx context.Context, src Source) (*Layer, error) {
	records, err := src.Records(ctx)
	if err != nil {
		return nil, err
	}
	return New(src.ID(), records)
}

// New folds records into a Layer. Parents are created implicitly; a later record
// for the same path replaces the earlier one's content and attributes.
func New(name string, records []Record) (*Layer, error) {
	l := &Layer{
		name:  name,
		nodes: make(map[string]*node),
		attrs: memory.NewMemoryAttributeStore(memory.MemoryAttributeStoreConfig{ReadOnly: true}),
	}
	l.nodes[vfs.Root] = newFolder(vfs.Root)

	for _, r := range records {
		if err := l.apply(r); err != nil {
			return nil, err
		}
	}

	for p, n := range l.nodes {
		n.print = fingerprint(n)
		l.attrs.Seed(p, n.attrs)
	}
	sort.Strings(l.masks)
	return l, nil
}

func newFolder(p string) *node {
	return &node{
		entry:    vfs.Entry{Path: p, Kind: vfs.KindFolder},
		children: make(map[string]struct{}),
	}
}

func (l *Layer) apply(r Record) error {
	p := vfs.Clean(r.Path)

	if r.Kind == RecordMask {
		if p == vfs.Root {
			return vfs.NewError(vfs.ErrInvalidArgument, p, "cannot mask the root")
		}
		wh := vfs.WhiteoutPath(p)
		if err := l.ensureParent(wh); err != nil {
			return err
		}
		if _, ok := l.nodes[wh]; !ok {
			l.nodes[wh] = &node{entry: vfs.Entry{Path: wh, Kind: vfs.KindData}}
			l.link(wh)
			l.masks = append(l.masks, p)
		}
		return nil
	}

	if err := l.ensureParent(p); err != nil {
		return err
	}

	existing, ok := l.nodes[p]
	switch r.Kind {
	case RecordFolder:
		if ok && existing.entry.Kind != vfs.KindFolder {
			return vfs.NewError(vfs.ErrNotFolder, p, "record declares a folder over a data node")
		}
		if !ok {
			existing = newFolder(p)
			l.nodes[p] = existing
			l.link(p)
		}
		if len(r.Attributes) > 0 {
			if existing.attrs == nil {
				existing.attrs = make(map[string]any, len(r.Attributes))
			}
			maps.Copy(existing.attrs, r.Attributes)
		}
	default:
		if ok && existing.entry.Kind == vfs.KindFolder {
			return vfs.NewError(vfs.ErrIsFolder, p, "record declares data over a folder")
		}
		content := bytes.Clone(r.Content)
		l.nodes[p] = &node{
			entry:   vfs.Entry{Path: p, Kind: vfs.KindData, Size: int64(len(content))},
			content: content,
			attrs:   maps.Clone(r.Attributes),
		}
		if !ok {
			l.link(p)
		}
	}
	return nil
}

// ensureParent creates the folders above p, failing if a data node is in the way.
func (l *Layer) ensureParent(p string) error {
	cur := vfs.Root
	for _, c := range vfs.Components(vfs.Parent(p)) {
		cur = vfs.Join(cur, c)
		n, ok := l.nodes[cur]
		if !ok {
			l.nodes[cur] = newFolder(cur)
			l.link(cur)
			continue
		}
		if n.entry.Kind != vfs.KindFolder {
			return vfs.NewError(vfs.ErrNotFolder, cur, "parent of %s is a data node", p)
		}
	}
	return nil
}

func (l *Layer) link(p string) {
	l.nodes[vfs.Parent(p)].children[vfs.Base(p)] = struct{}{}
}

// fingerprint hashes everything observable about a node: kind, content and attributes.
func fingerprint(n *node) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(n.entry.Kind.String())
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(n.content)
	_, _ = d.Write([]byte{0})
	if len(n.attrs) > 0 {
		// encoding/json sorts map keys, so equal maps hash equally
		if data, err := json.Marshal(n.attrs); err == nil {
			_, _ = d.Write(data)
		}
	}
	return d.Sum64()
}

// Fingerprint returns the content/attribute hash of p. ok is false if p is absent.
func (l *Layer) Fingerprint(p string) (uint64, bool) {
	n, ok := l.nodes[vfs.Clean(p)]
	if !ok {
		return 0, false
	}
	return n.print, true
}

// Paths lists every node path of the layer (whiteout entries included), sorted.
func (l *Layer) Paths() []string {
	out := make([]string, 0, len(l.nodes))
	for p := range l.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Masks lists the paths hidden by this layer, sorted.
func (l *Layer) Masks() []string {
	return slices.Clone(l.masks)
}

func (l *Layer) Name() string                   { return l.name }
func (l *Layer) ReadOnly() bool                 { return true }
func (l *Layer) Attributes() vfs.AttributeStore { return l.attrs }

func (l *Layer) Stat(ctx context.Context, p string) (*vfs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, ok := l.nodes[vfs.Clean(p)]
	if !ok {
		return nil, vfs.NewError(vfs.ErrNotFound, vfs.Clean(p), "no such node")
	}
	e := n.entry
	return &e, nil
}

func (l *Layer) List(ctx context.Context, p string) ([]vfs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)
	n, ok := l.nodes[p]
	if !ok {
		return nil, vfs.NewError(vfs.ErrNotFound, p, "no such node")
	}
	if n.entry.Kind != vfs.KindFolder {
		return nil, vfs.NewError(vfs.ErrNotFolder, p, "not a folder")
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]vfs.Entry, 0, len(names))
	for _, name := range names {
		out = append(out, l.nodes[vfs.Join(p, name)].entry)
	}
	return out, nil
}

func (l *Layer) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)
	n, ok := l.nodes[p]
	if !ok {
		return nil, vfs.NewError(vfs.ErrNotFound, p, "no such node")
	}
	if n.entry.Kind == vfs.KindFolder {
		return nil, vfs.NewError(vfs.ErrIsFolder, p, "cannot read a folder")
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

func (l *Layer) readOnly(p string) error {
	return vfs.NewError(vfs.ErrReadOnly, vfs.Clean(p), "layer %s is read-only", l.name)
}

func (l *Layer) WriteFile(_ context.Context, p string, _ []byte) error { return l.readOnly(p) }
func (l *Layer) MkdirAll(_ context.Context, p string) error            { return l.readOnly(p) }
func (l *Layer) Remove(_ context.Context, p string) error              { return l.readOnly(p) }
func (l *Layer) Rename(_ context.Context, p, _ string) error           { return l.readOnly(p) }

var _ vfs.Backend = (*Layer)(nil)
var _ vfs.Fingerprinter = (*Layer)(nil)
