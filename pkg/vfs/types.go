// Package vfs defines the data model shared by every tree in the overlay:
// node kinds and entries, the backend adapter and attribute store contracts,
// change events, the error taxonomy and path/locator helpers.
package vfs

import (
	"context"
	"io"
	"time"
)

// Kind distinguishes folders from data nodes.
type Kind int

const (
	KindData Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "data"
}

// Entry describes a node as reported by one backend tree.
type Entry struct {
	Path    string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// Name returns the last path element of the entry.
func (e Entry) Name() string {
	return Base(e.Path)
}

// IsFolder reports whether the entry is a folder.
func (e Entry) IsFolder() bool {
	return e.Kind == KindFolder
}

// Backend is the adapter contract for one physical medium (disk directory,
// archive, object store, declarative layer, in-memory tree).
//
// Paths are absolute and slash-separated. Listings include mask entries
// (names with WhiteoutPrefix) so the union can interpret them; backends do not
// filter them.
//
// Error contract:
//   - missing paths return an FSError with ErrNotFound
//   - mutations on read-only trees return ErrReadOnly
//   - medium-level exclusive locks on read return ErrFileAlreadyLocked
//   - everything else is wrapped as ErrIO
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type Backend interface {
	// Name identifies the tree (used in logs, metrics and locators).
	Name() string

	// ReadOnly reports whether mutations are refused.
	ReadOnly() bool

	// Stat returns the entry at p.
	Stat(ctx context.Context, p string) (*Entry, error)

	// List returns the direct children of folder p, including mask entries.
	List(ctx context.Context, p string) ([]Entry, error)

	// Open returns a reader over the content of data node p.
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// WriteFile replaces the content of p atomically, creating the node if needed.
	// On failure the previous content must remain readable.
	WriteFile(ctx context.Context, p string, data []byte) error

	// MkdirAll creates folder p and any missing parents.
	MkdirAll(ctx context.Context, p string) error

	// Remove deletes p (recursively for folders) together with its attributes.
	Remove(ctx context.Context, p string) error

	// Rename moves p to newPath, carrying attributes along (see AttributeStore.BeginMove).
	Rename(ctx context.Context, p, newPath string) error

	// Attributes returns the store persisting this tree's node attributes.
	Attributes() AttributeStore
}

// Watcher is implemented by backends able to report external modifications.
type Watcher interface {
	// Watch streams change events until ctx is done; the channel is then closed.
	Watch(ctx context.Context) (<-chan Event, error)
}

// Fingerprinter is implemented by immutable backends that can hash everything
// observable about a node (kind, content, attributes). Equal fingerprints mean
// the node did not change between two versions of a tree.
type Fingerprinter interface {
	Fingerprint(p string) (uint64, bool)
}
