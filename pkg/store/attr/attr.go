// Package attr holds the pieces shared by attribute store implementations:
// key validation, map copying and the recovery rule for interrupted moves.
//
// Concrete stores live in the memory and badger subpackages; both satisfy
// vfs.AttributeStore and are checked by the conformance suite in testing.
package attr

import (
	"context"
	"maps"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// Intent is a staged move recorded by BeginMove and removed by Commit/Abort.
type Intent struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Resolution is the outcome chosen by Recover for a leftover intent.
type Resolution int

const (
	// ResolveCommit re-keys attributes to the destination.
	ResolveCommit Resolution = iota

	// ResolveAbort drops the intent, keeping attributes at the source.
	ResolveAbort

	// ResolveConflict leaves the intent in place and reports ErrIO.
	ResolveConflict
)

// Decide picks the recovery outcome for an intent given which endpoints exist in
// the owning medium.
//
// Only the destination present means the medium move happened: commit.
// Only the source present means it never happened: abort.
// Both or neither is ambiguous and must be inspected.
func Decide(ctx context.Context, in Intent, exists func(string) (bool, error)) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return ResolveConflict, err
	}
	oldExists, err := exists(in.From)
	if err != nil {
		return ResolveConflict, vfs.WrapError(vfs.ErrIO, in.From, err)
	}
	newExists, err := exists(in.To)
	if err != nil {
		return ResolveConflict, vfs.WrapError(vfs.ErrIO, in.To, err)
	}

	switch {
	case newExists && !oldExists:
		return ResolveCommit, nil
	case oldExists && !newExists:
		return ResolveAbort, nil
	default:
		return ResolveConflict, vfs.NewError(vfs.ErrIO, in.From,
			"interrupted attribute move to %s cannot be resolved (source exists: %t, destination exists: %t)",
			in.To, oldExists, newExists)
	}
}

// ValidateMove checks the endpoints passed to BeginMove.
func ValidateMove(from, to string) error {
	from, to = vfs.Clean(from), vfs.Clean(to)
	if from == vfs.Root {
		return vfs.NewError(vfs.ErrInvalidArgument, from, "cannot move the root")
	}
	if from == to {
		return vfs.NewError(vfs.ErrInvalidArgument, from, "source and destination are the same")
	}
	if vfs.IsDescendant(to, from) {
		return vfs.NewError(vfs.ErrInvalidArgument, to, "cannot move %s below itself", from)
	}
	return nil
}

// ValidateKey rejects empty attribute names.
func ValidateKey(p, key string) error {
	if key == "" {
		return vfs.NewError(vfs.ErrInvalidArgument, p, "empty attribute name")
	}
	return nil
}

// Clone returns a shallow copy of m, never nil.
func Clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	return out
}

// ErrReadOnly builds the failure returned by writes on a read-only store.
func ErrReadOnly(p string) error {
	return vfs.NewError(vfs.ErrAttribute, p, "attribute store is read-only")
}
