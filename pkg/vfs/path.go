package vfs

import (
	"path"
	"strings"
)

const (
	// Root is the path of every tree's root folder.
	Root = "/"

	// WhiteoutPrefix marks a mask entry: ".wh.<name>" hides <name> in the same
	// layer and in every lower layer.
	WhiteoutPrefix = ".wh."

	// OpaqueMarker inside a folder hides all lower-layer children of that folder.
	OpaqueMarker = ".wh..wh..opq"
)

// Clean normalizes p into an absolute, slash-separated path without trailing slash.
func Clean(p string) string {
	if p == "" {
		return Root
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Join joins elements onto a parent path and cleans the result.
func Join(parent string, elem ...string) string {
	return Clean(path.Join(append([]string{Clean(parent)}, elem...)...))
}

// Parent returns the parent folder of p. The parent of Root is Root.
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// Base returns the last element of p ("/" for the root).
func Base(p string) string {
	return path.Base(Clean(p))
}

// SplitExt splits a node name into name and extension ("a.tar.gz" → "a.tar", "gz").
// Names without a dot, or starting with their only dot, have no extension.
func SplitExt(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// Components returns the path elements of p, excluding the root.
func Components(p string) []string {
	p = Clean(p)
	if p == Root {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// IsDescendant reports whether p lies strictly below ancestor.
func IsDescendant(p, ancestor string) bool {
	p, ancestor = Clean(p), Clean(ancestor)
	if p == ancestor {
		return false
	}
	if ancestor == Root {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// IsWithin reports whether p equals root or lies below it.
func IsWithin(p, root string) bool {
	return Clean(p) == Clean(root) || IsDescendant(p, root)
}

// Rebase moves p from below oldRoot to below newRoot. p must be within oldRoot.
func Rebase(p, oldRoot, newRoot string) string {
	p, oldRoot = Clean(p), Clean(oldRoot)
	if p == oldRoot {
		return Clean(newRoot)
	}
	rel := strings.TrimPrefix(p, oldRoot)
	if oldRoot == Root {
		rel = p
	}
	return Join(newRoot, rel)
}

// WhiteoutPath returns the mask entry path hiding p.
func WhiteoutPath(p string) string {
	return Join(Parent(p), WhiteoutPrefix+Base(p))
}

// OpaquePath returns the opaque marker path for folder p.
func OpaquePath(p string) string {
	return Join(p, OpaqueMarker)
}

// IsReservedName reports whether name is used internally for masking.
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, WhiteoutPrefix)
}

// MaskedName returns the name hidden by a whiteout entry name.
func MaskedName(whiteout string) (string, bool) {
	if whiteout == OpaqueMarker || !strings.HasPrefix(whiteout, WhiteoutPrefix) {
		return "", false
	}
	return strings.TrimPrefix(whiteout, WhiteoutPrefix), true
}

// ValidateName checks a single node name supplied by a caller.
func ValidateName(name string) error {
	switch {
	case name == "" || name == "." || name == "..":
		return NewError(ErrInvalidArgument, name, "invalid node name")
	case strings.ContainsRune(name, '/'):
		return NewError(ErrInvalidArgument, name, "node name must not contain '/'")
	case IsReservedName(name):
		return NewError(ErrInvalidArgument, name, "node name uses reserved prefix %q", WhiteoutPrefix)
	}
	return nil
}
