package afero

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/spf13/afero"
)

// DiskBackend is a Backend rooted at a host directory. It additionally
// implements vfs.Watcher so external edits reach the overlay.
type DiskBackend struct {
	*Backend
	root string
}

// DiskBackendConfig contains configuration for a host directory tree.
type DiskBackendConfig struct {
	// Path is the host directory backing the tree
	Path string `mapstructure:"path" validate:"required"`

	// ReadOnly refuses all mutations
	ReadOnly bool `mapstructure:"read_only"`
}

// NewDisk creates a tree over a host directory, creating the directory if needed.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: Tree name
//   - config: Host path and access mode
//   - attrs: Attribute store for the tree's nodes
//
// Returns:
//   - *DiskBackend: Tree ready for use
//   - error: Error if the directory cannot be created or ctx is cancelled
func NewDisk(ctx context.Context, name string, config DiskBackendConfig, attrs vfs.AttributeStore) (*DiskBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, fmt.Errorf("disk tree %s: path is required", name)
	}

	root, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("disk tree %s: resolve path: %w", name, err)
	}
	if !config.ReadOnly {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create tree directory: %w", err)
		}
	}

	var fsys afero.Fs = afero.NewBasePathFs(afero.NewOsFs(), root)
	if config.ReadOnly {
		fsys = afero.NewReadOnlyFs(fsys)
	}

	return &DiskBackend{
		Backend: New(name, fsys, attrs, config.ReadOnly),
		root:    root,
	}, nil
}

// Root returns the host directory backing the tree.
func (d *DiskBackend) Root() string {
	return d.root
}

// Watch reports external modifications below the root until ctx is done.
//
// fsnotify watches are per directory, so every existing folder is registered up
// front and new folders are added as they appear. Temp files from WriteFile are
// filtered out; their final rename shows up as a Created event.
func (d *DiskBackend) Watch(ctx context.Context) (<-chan vfs.Event, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrIO, vfs.Root, err)
	}
	if err := d.addRecursive(w, d.root); err != nil {
		_ = w.Close()
		return nil, vfs.WrapError(vfs.ErrIO, vfs.Root, err)
	}

	out := make(chan vfs.Event, 64)
	go func() {
		defer close(out)
		defer func() { _ = w.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("tree %s: watch error: %v", d.name, err)
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				vev, ok := d.translate(w, ev)
				if !ok {
					continue
				}
				select {
				case out <- vev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (d *DiskBackend) addRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

func (d *DiskBackend) translate(w *fsnotify.Watcher, ev fsnotify.Event) (vfs.Event, bool) {
	rel, err := filepath.Rel(d.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return vfs.Event{}, false
	}
	p := vfs.Clean(filepath.ToSlash(rel))
	if strings.HasPrefix(vfs.Base(p), tempPrefix) {
		return vfs.Event{}, false
	}

	out := vfs.Event{Tree: d.name, Path: p}
	switch {
	case ev.Has(fsnotify.Create):
		out.Type = vfs.EventCreated
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			out.Kind = vfs.KindFolder
			if err := d.addRecursive(w, ev.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("tree %s: watch %s: %v", d.name, p, err)
			}
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		out.Type = vfs.EventDeleted
	case ev.Has(fsnotify.Write):
		out.Type = vfs.EventChanged
	default:
		return vfs.Event{}, false
	}
	return out, true
}

var _ vfs.Watcher = (*DiskBackend)(nil)
