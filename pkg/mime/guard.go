package mime

import "context"

type guardKey struct{}

// guard is an immutable list of identities being resolved on one call chain.
type guard struct {
	identity uint64
	parent   *guard
}

func (g *guard) contains(identity uint64) bool {
	for ; g != nil; g = g.parent {
		if g.identity == identity {
			return true
		}
	}
	return false
}

func inProgress(ctx context.Context, identity uint64) bool {
	g, _ := ctx.Value(guardKey{}).(*guard)
	return g.contains(identity)
}

func withGuard(ctx context.Context, identity uint64) context.Context {
	parent, _ := ctx.Value(guardKey{}).(*guard)
	return context.WithValue(ctx, guardKey{}, &guard{identity: identity, parent: parent})
}
