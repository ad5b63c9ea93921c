// Package afero implements vfs.Backend over spf13/afero filesystems.
//
// One adapter covers three media: a host directory (BasePathFs over OsFs), an
// in-memory tree (MemMapFs) and a read-only zip archive (zipfs). Attributes are
// kept in an injected vfs.AttributeStore, since none of these media can carry
// arbitrary typed attributes themselves.
package afero

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/spf13/afero"
)

// tempPrefix marks in-flight writes; such entries never show up in listings.
const tempPrefix = ".layerfs-tmp-"

// Backend implements vfs.Backend over an afero.Fs.
//
// Thread Safety:
// afero filesystems are safe for concurrent use; the adapter adds no state of
// its own beyond immutable configuration.
type Backend struct {
	name     string
	fs       afero.Fs
	attrs    vfs.AttributeStore
	readOnly bool
}

// New wraps an arbitrary afero filesystem. A read-only fs should be paired with
// readOnly=true so mutations fail with ErrReadOnly instead of medium errors.
func New(name string, fsys afero.Fs, attrs vfs.AttributeStore, readOnly bool) *Backend {
	return &Backend{
		name:     name,
		fs:       fsys,
		attrs:    attrs,
		readOnly: readOnly,
	}
}

// NewMemory creates a writable in-memory tree.
func NewMemory(name string, attrs vfs.AttributeStore) *Backend {
	return New(name, afero.NewMemMapFs(), attrs, false)
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) ReadOnly() bool {
	return b.readOnly
}

func (b *Backend) Attributes() vfs.AttributeStore {
	return b.attrs
}

// Fs exposes the underlying filesystem.
func (b *Backend) Fs() afero.Fs {
	return b.fs
}

func (b *Backend) Stat(ctx context.Context, p string) (*vfs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)

	info, err := b.fs.Stat(p)
	if err != nil {
		return nil, mapError(p, err)
	}
	return toEntry(p, info), nil
}

func (b *Backend) List(ctx context.Context, p string) ([]vfs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)

	info, err := b.fs.Stat(p)
	if err != nil {
		return nil, mapError(p, err)
	}
	if !info.IsDir() {
		return nil, vfs.NewError(vfs.ErrNotFolder, p, "not a folder")
	}

	infos, err := afero.ReadDir(b.fs, p)
	if err != nil {
		return nil, mapError(p, err)
	}

	entries := make([]vfs.Entry, 0, len(infos))
	for _, fi := range infos {
		if strings.HasPrefix(fi.Name(), tempPrefix) {
			continue
		}
		entries = append(entries, *toEntry(vfs.Join(p, fi.Name()), fi))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (b *Backend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)

	f, err := b.fs.Open(p)
	if err != nil {
		return nil, mapReadError(p, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, mapError(p, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, vfs.NewError(vfs.ErrIsFolder, p, "cannot read a folder")
	}
	return f, nil
}

// WriteFile replaces p with data using temp file, sync and rename, so a failed
// write never disturbs the previous content.
func (b *Backend) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if b.readOnly {
		return vfs.NewError(vfs.ErrReadOnly, p, "tree %s is read-only", b.name)
	}

	if info, err := b.fs.Stat(p); err == nil && info.IsDir() {
		return vfs.NewError(vfs.ErrIsFolder, p, "cannot write a folder")
	}
	if err := b.fs.MkdirAll(vfs.Parent(p), 0755); err != nil {
		return mapError(p, err)
	}
	if err := safeWrite(b.fs, p, data); err != nil {
		return vfs.WrapError(vfs.ErrIO, p, err)
	}
	return nil
}

func (b *Backend) MkdirAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if b.readOnly {
		return vfs.NewError(vfs.ErrReadOnly, p, "tree %s is read-only", b.name)
	}
	if info, err := b.fs.Stat(p); err == nil && !info.IsDir() {
		return vfs.NewError(vfs.ErrAlreadyExists, p, "a data node exists at this path")
	}
	if err := b.fs.MkdirAll(p, 0755); err != nil {
		return mapError(p, err)
	}
	return nil
}

// Remove deletes p recursively, then its attributes. Once the content is gone
// the removal has happened: attributes that cannot be dropped are logged and
// left for the GC.
func (b *Backend) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if b.readOnly {
		return vfs.NewError(vfs.ErrReadOnly, p, "tree %s is read-only", b.name)
	}
	if p == vfs.Root {
		return vfs.NewError(vfs.ErrInvalidArgument, p, "cannot remove the root")
	}
	if _, err := b.fs.Stat(p); err != nil {
		return mapError(p, err)
	}
	if err := b.fs.RemoveAll(p); err != nil {
		return mapError(p, err)
	}
	// The node is gone; leftover attributes are orphans the GC prunes.
	if err := b.attrs.Delete(ctx, p); err != nil {
		logger.Warn("tree %s: attributes of removed %s left for GC: %v", b.name, p, err)
	}
	return nil
}

// Rename moves p to newPath with a staged attribute move around the medium rename.
func (b *Backend) Rename(ctx context.Context, p, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, newPath = vfs.Clean(p), vfs.Clean(newPath)
	if b.readOnly {
		return vfs.NewError(vfs.ErrReadOnly, p, "tree %s is read-only", b.name)
	}
	if _, err := b.fs.Stat(p); err != nil {
		return mapError(p, err)
	}
	if _, err := b.fs.Stat(newPath); err == nil {
		return vfs.NewError(vfs.ErrAlreadyExists, newPath, "rename target exists")
	}
	if err := b.fs.MkdirAll(vfs.Parent(newPath), 0755); err != nil {
		return mapError(newPath, err)
	}

	mv, err := b.attrs.BeginMove(ctx, p, newPath)
	if err != nil {
		return err
	}
	if err := b.fs.Rename(p, newPath); err != nil {
		if abortErr := mv.Abort(ctx); abortErr != nil {
			logger.Warn("tree %s: abort attribute move %s -> %s: %v", b.name, p, newPath, abortErr)
		}
		return mapError(p, err)
	}
	if err := mv.Commit(ctx); err != nil {
		// Content moved but attributes did not: put the content back so the
		// caller observes the pre-rename state.
		if backErr := b.fs.Rename(newPath, p); backErr != nil {
			// content stays at newPath: the intent is left for Recover to commit
			mv.Detach()
			return vfs.NewError(vfs.ErrIO, p,
				"rename to %s left attributes behind and could not be undone: %v", newPath, backErr)
		}
		_ = mv.Abort(ctx)
		return vfs.WrapError(vfs.ErrIO, p, err)
	}
	return nil
}

// Exists reports whether p is present on the medium; used for move recovery.
func (b *Backend) Exists(p string) (bool, error) {
	_, err := b.fs.Stat(vfs.Clean(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func toEntry(p string, info os.FileInfo) *vfs.Entry {
	e := &vfs.Entry{
		Path:    p,
		Kind:    vfs.KindData,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if info.IsDir() {
		e.Kind = vfs.KindFolder
		e.Size = 0
	}
	return e
}

func mapError(p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return vfs.NewError(vfs.ErrNotFound, p, "no such node")
	case errors.Is(err, fs.ErrExist):
		return vfs.NewError(vfs.ErrAlreadyExists, p, "node exists")
	case errors.Is(err, fs.ErrPermission):
		return vfs.NewError(vfs.ErrReadOnly, p, "permission denied")
	default:
		return vfs.WrapError(vfs.ErrIO, p, err)
	}
}

// mapReadError treats a permission failure on open as the medium holding the
// content exclusively.
func mapReadError(p string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return &vfs.FSError{Code: vfs.ErrFileAlreadyLocked, Message: "content is locked by the medium", Path: p, Err: err}
	}
	return mapError(p, err)
}

var _ vfs.Backend = (*Backend)(nil)
