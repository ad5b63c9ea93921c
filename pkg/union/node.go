package union

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/marmos91/layerfs/pkg/mime"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Node is a path-addressable entity of the overlay.
//
// Nodes are canonical: while a Node is referenced, every lookup of its path
// returns the same *Node, and it keeps its identity across renames and moves.
// A deleted or masked node becomes invalid and every further structural
// operation on it fails with ErrInvalidNode.
type Node struct {
	fs   *FS
	id   uint64
	kind vfs.Kind

	stamp atomic.Uint64

	mu    sync.RWMutex
	path  string
	valid bool
}

// Path returns the node's current absolute path.
func (n *Node) Path() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.path
}

// Name returns the last path element.
func (n *Node) Name() string { return vfs.Base(n.Path()) }

// Ext returns the name's extension without the dot.
func (n *Node) Ext() string {
	_, ext := vfs.SplitExt(n.Name())
	return ext
}

// Identity is unique among the nodes of the process.
func (n *Node) Identity() uint64 { return n.id }

// Stamp changes whenever the node's content or attributes change.
func (n *Node) Stamp() uint64 { return n.stamp.Load() }

func (n *Node) Kind() vfs.Kind { return n.kind }

func (n *Node) IsFolder() bool { return n.kind == vfs.KindFolder }

func (n *Node) IsData() bool { return n.kind == vfs.KindData }

// Valid reports whether the node still exists in the overlay.
func (n *Node) Valid() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.valid
}

// FS returns the owning overlay.
func (n *Node) FS() *FS { return n.fs }

// URL returns the node's locator.
func (n *Node) URL() string { return vfs.FormatURL(n.fs.name, n.Path()) }

func (n *Node) String() string {
	return fmt.Sprintf("%s[%s#%d]", n.Path(), n.kind, n.id)
}

func (n *Node) setPath(p string) {
	n.mu.Lock()
	n.path = p
	n.mu.Unlock()
}

func (n *Node) invalidate() {
	n.mu.Lock()
	n.valid = false
	n.mu.Unlock()
}

func (n *Node) touch() {
	n.stamp.Add(1)
	n.fs.chain.Invalidate(n.id)
}

// resolve re-resolves the node against the current stack, invalidating it if
// it no longer exists or changed kind.
func (n *Node) resolve(ctx context.Context) (*stack, *resolution, error) {
	p := n.Path()
	if !n.Valid() {
		return nil, nil, vfs.NewError(vfs.ErrInvalidNode, p, "node is no longer valid")
	}

	st := n.fs.current.Load()
	res, err := n.fs.resolve(ctx, st, p)
	if err != nil {
		if vfs.IsNotFound(err) {
			n.fs.forget(p)
			return nil, nil, vfs.NewError(vfs.ErrInvalidNode, p, "node is no longer valid")
		}
		return nil, nil, err
	}
	if res.entry.Kind != n.kind {
		n.fs.drop(n)
		return nil, nil, vfs.NewError(vfs.ErrInvalidNode, p, "node was replaced by a %s", res.entry.Kind)
	}
	return st, res, nil
}

// Stat returns the entry of the winning tree.
func (n *Node) Stat(ctx context.Context) (*vfs.Entry, error) {
	_, res, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}
	entry := res.entry
	return &entry, nil
}

// Tree returns the name of the tree currently providing the node.
func (n *Node) Tree(ctx context.Context) (string, error) {
	st, res, err := n.resolve(ctx)
	if err != nil {
		return "", err
	}
	return st.layers[res.layer].Name(), nil
}

// Parent returns the containing folder, or nil for the root.
func (n *Node) Parent(ctx context.Context) (*Node, error) {
	p := n.Path()
	if p == vfs.Root {
		return nil, nil
	}
	return n.fs.Find(ctx, vfs.Parent(p))
}

// Children returns the merged children of a folder, sorted by name.
func (n *Node) Children(ctx context.Context) ([]*Node, error) {
	st, res, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !res.entry.IsFolder() {
		return nil, vfs.NewError(vfs.ErrNotFolder, res.path, "not a folder")
	}

	entries, err := n.fs.list(ctx, st, res)
	if err != nil {
		return nil, err
	}
	children := make([]*Node, len(entries))
	for i, e := range entries {
		children[i] = n.fs.nodeFor(e.Path, e.Kind)
	}
	return children, nil
}

// Child returns the named child of a folder.
func (n *Node) Child(ctx context.Context, name string) (*Node, error) {
	st, res, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if !res.entry.IsFolder() {
		return nil, vfs.NewError(vfs.ErrNotFolder, res.path, "not a folder")
	}
	child, err := n.fs.resolveChild(ctx, st, res, name)
	if err != nil {
		return nil, err
	}
	return n.fs.nodeFor(child.path, child.entry.Kind), nil
}

// Attribute returns one attribute from the winning tree.
func (n *Node) Attribute(ctx context.Context, key string) (any, bool, error) {
	st, res, err := n.resolve(ctx)
	if err != nil {
		return nil, false, err
	}
	return st.layers[res.layer].Attributes().Get(ctx, res.path, key)
}

// Attributes returns all attributes from the winning tree. Attributes of
// lower trees holding the same path are not merged in.
func (n *Node) Attributes(ctx context.Context) (map[string]any, error) {
	st, res, err := n.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return st.layers[res.layer].Attributes().All(ctx, res.path)
}

// MimeType resolves the node's MIME type through the overlay's chain.
func (n *Node) MimeType(ctx context.Context) string {
	if !n.Valid() {
		return mime.Default
	}
	return n.fs.chain.Resolve(ctx, n)
}

var _ mime.Subject = (*Node)(nil)

// Root returns the overlay root.
func (fs *FS) Root(ctx context.Context) (*Node, error) {
	return fs.Find(ctx, vfs.Root)
}

// Find returns the node at p. A path that is absent, or hidden by a mask,
// yields ErrNotFound.
func (fs *FS) Find(ctx context.Context, p string) (*Node, error) {
	res, err := fs.resolve(ctx, fs.current.Load(), p)
	if err != nil {
		return nil, err
	}
	return fs.nodeFor(res.path, res.entry.Kind), nil
}

// nodeFor returns the canonical node for p, replacing a cached one of another
// kind.
func (fs *FS) nodeFor(p string, kind vfs.Kind) *Node {
	fs.nodesMu.Lock()
	defer fs.nodesMu.Unlock()

	if ref, ok := fs.nodes[p]; ok {
		if n := ref.Value(); n != nil {
			if n.kind == kind && n.Valid() {
				return n
			}
			n.invalidate()
		}
	}

	n := &Node{fs: fs, id: fs.nextID.Add(1), kind: kind, path: p, valid: true}
	fs.nodes[p] = weak.Make(n)

	if len(fs.nodes) >= fs.sweepAt {
		fs.sweepLocked()
	}
	return n
}

// sweepLocked drops entries of collected nodes.
func (fs *FS) sweepLocked() {
	for p, ref := range fs.nodes {
		if ref.Value() == nil {
			delete(fs.nodes, p)
		}
	}
	fs.sweepAt = max(1024, 2*len(fs.nodes))
}

// forget invalidates the cached nodes at and below root.
func (fs *FS) forget(root string) {
	fs.nodesMu.Lock()
	defer fs.nodesMu.Unlock()

	for p, ref := range fs.nodes {
		if vfs.IsWithin(p, root) {
			if n := ref.Value(); n != nil {
				n.invalidate()
			}
			delete(fs.nodes, p)
		}
	}
}

// drop invalidates a single node whose path now holds a node of another kind.
func (fs *FS) drop(n *Node) {
	n.invalidate()

	fs.nodesMu.Lock()
	defer fs.nodesMu.Unlock()

	p := n.Path()
	if ref, ok := fs.nodes[p]; ok && ref.Value() == n {
		delete(fs.nodes, p)
	}
}

// rebase re-keys the cached nodes of a moved subtree, keeping their identity.
func (fs *FS) rebase(oldRoot, newRoot string) {
	fs.nodesMu.Lock()
	defer fs.nodesMu.Unlock()

	moved := make(map[string]weak.Pointer[Node])
	for p, ref := range fs.nodes {
		if vfs.IsWithin(p, oldRoot) {
			moved[p] = ref
			delete(fs.nodes, p)
		}
	}
	for p, ref := range moved {
		n := ref.Value()
		if n == nil {
			continue
		}
		np := vfs.Rebase(p, oldRoot, newRoot)
		n.setPath(np)
		n.touch()
		fs.nodes[np] = ref
	}
}

// cached returns the live cached node at p, if any.
func (fs *FS) cached(p string) *Node {
	fs.nodesMu.Lock()
	defer fs.nodesMu.Unlock()

	if ref, ok := fs.nodes[p]; ok {
		return ref.Value()
	}
	return nil
}

// pathLock is a path mutex shared by the mutations holding or awaiting it.
type pathLock struct {
	mu   sync.Mutex
	refs int
}

// lockPaths serializes structural mutations touching the given paths. Paths
// are locked in sorted order; a path's entry is dropped once no mutation holds
// or awaits it.
func (fs *FS) lockPaths(paths ...string) func() {
	sorted := make([]string, 0, len(paths))
	for _, p := range paths {
		sorted = append(sorted, vfs.Clean(p))
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for _, p := range sorted {
		fs.acquirePath(p).mu.Lock()
	}
	return func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			fs.releasePath(sorted[i])
		}
	}
}

func (fs *FS) acquirePath(p string) *pathLock {
	fs.pathLocksMu.Lock()
	defer fs.pathLocksMu.Unlock()

	if fs.pathLocks == nil {
		fs.pathLocks = make(map[string]*pathLock)
	}
	l, ok := fs.pathLocks[p]
	if !ok {
		l = &pathLock{}
		fs.pathLocks[p] = l
	}
	l.refs++
	return l
}

func (fs *FS) releasePath(p string) {
	fs.pathLocksMu.Lock()
	defer fs.pathLocksMu.Unlock()

	l := fs.pathLocks[p]
	l.mu.Unlock()
	if l.refs--; l.refs == 0 {
		delete(fs.pathLocks, p)
	}
}
