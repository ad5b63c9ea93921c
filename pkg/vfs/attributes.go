package vfs

import "context"

// AttributeStore persists the user attributes of a tree's nodes.
//
// Attribute values are opaque to the core but must be serializable by the
// concrete store (JSON for persistent stores). A nil value passed to Set removes
// the key.
//
// Rename/move contract:
// Attributes follow their node. Backends implement Rename as
//
//	mv := attrs.BeginMove(ctx, from, to)   // stage the intent
//	err := medium.Rename(from, to)         // move the content
//	if err != nil { mv.Abort(ctx) } else { mv.Commit(ctx) }
//
// Commit re-keys the attributes of from and all its descendants in one atomic
// step, so a crash leaves either the pre-move or the post-move attribute set.
// Intents left behind by a crash are resolved by Recover. Intents whose Move
// handle is still open belong to a rename in progress: Recover skips them and
// Prune never deletes attributes at their endpoints.
type AttributeStore interface {
	// Get returns a single attribute value.
	Get(ctx context.Context, p, key string) (any, bool, error)

	// All returns a copy of every attribute of p (empty map if none).
	All(ctx context.Context, p string) (map[string]any, error)

	// Set writes (or, with a nil value, removes) one attribute.
	Set(ctx context.Context, p, key string, value any) error

	// Replace atomically substitutes the complete attribute map of p.
	Replace(ctx context.Context, p string, attrs map[string]any) error

	// Delete removes the attributes of p and of all its descendants.
	Delete(ctx context.Context, p string) error

	// BeginMove stages a move of p's (and its descendants') attributes to newPath.
	BeginMove(ctx context.Context, p, newPath string) (Move, error)

	// Recover resolves move intents left by an interrupted process. exists reports
	// whether a path is present in the owning medium.
	Recover(ctx context.Context, exists func(p string) (bool, error)) error

	// Prune deletes the attributes of p and its descendants if exists reports p
	// gone and no open move touches p. It reports whether anything was deleted.
	Prune(ctx context.Context, p string, exists func(p string) (bool, error)) (bool, error)

	// Paths lists every path that currently has attributes.
	Paths(ctx context.Context) ([]string, error)

	// ReadOnly reports whether writes are refused with ErrAttribute.
	ReadOnly() bool

	// Close releases resources held by the store.
	Close() error
}

// Move is a staged attribute move. The handle stays open until Commit
// succeeds, Abort is called, or Detach hands the intent over to Recover.
// A failed Commit keeps the handle open.
type Move interface {
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error

	// Detach closes the handle without resolving the intent, as a crash would.
	Detach()
}
