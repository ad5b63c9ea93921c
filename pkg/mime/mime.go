// Package mime determines the MIME type of overlay nodes.
//
// A Chain consults an ordered list of Resolvers and returns the first answer,
// falling back to Default. Results are cached per node identity and stay
// valid while the node's stamp and the chain's resolver set are unchanged.
//
// Resolution is reentrancy safe: a resolver that resolves the same node again
// on the same logical call (same context lineage) gets Default back instead of
// recursing. A resolver that hands work to another goroutine with an unrelated
// context starts an independent pass. No chain-wide lock is held while
// resolvers run.
package mime

import (
	"context"
	"io"
)

// Default is returned when no resolver recognizes a node.
const Default = "content/unknown"

// Subject is the view of a node the chain and its resolvers work with.
type Subject interface {
	// Path is the node's absolute path in its tree.
	Path() string

	// Identity is stable for the node's lifetime and keys the cache.
	Identity() uint64

	// Stamp changes whenever the node's content or attributes change.
	Stamp() uint64

	IsFolder() bool

	// Open returns the node's content. Folders fail.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Resolver determines a MIME type for a subject, or reports that it has no
// opinion. ID names the resolver in passes and descriptor files.
type Resolver interface {
	ID() string
	Resolve(ctx context.Context, s Subject) (string, bool)
}

type funcResolver struct {
	id string
	fn func(ctx context.Context, s Subject) (string, bool)
}

// ResolverFunc registers fn programmatically under id.
func ResolverFunc(id string, fn func(ctx context.Context, s Subject) (string, bool)) Resolver {
	return &funcResolver{id: id, fn: fn}
}

func (r *funcResolver) ID() string { return r.id }

func (r *funcResolver) Resolve(ctx context.Context, s Subject) (string, bool) {
	return r.fn(ctx, s)
}
