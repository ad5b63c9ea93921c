package repository

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/layer"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Provider contributes an ordered sequence of layers to a Repository. Later
// layers take precedence over earlier ones.
type Provider interface {
	// Name identifies the provider; it must be unique within a repository.
	Name() string

	// Layers lists the provider's layer sources. It is called lazily, on the
	// first access to the merged tree and on every refresh of the provider.
	// Returning no sources is valid and contributes nothing.
	Layers(ctx context.Context) ([]layer.Source, error)
}

// WatchingProvider is implemented by providers that can tell when their
// contribution changed. Watch blocks until ctx is done, calling changed after
// each modification.
type WatchingProvider interface {
	Provider
	Watch(ctx context.Context, changed func()) error
}

// StaticProvider serves a fixed set of sources that can be replaced with Set.
type StaticProvider struct {
	name    string
	mu      sync.RWMutex
	sources []layer.Source
}

// NewStaticProvider creates a provider over sources.
func NewStaticProvider(name string, sources ...layer.Source) *StaticProvider {
	return &StaticProvider{name: name, sources: slices.Clone(sources)}
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) Layers(ctx context.Context) ([]layer.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.sources), nil
}

// Set replaces the sources. The merged tree changes on the next Refresh.
func (p *StaticProvider) Set(sources ...layer.Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = slices.Clone(sources)
}

// FileProvider contributes one layer per descriptor file (XML or YAML, chosen
// by extension). Files are re-read on every refresh.
type FileProvider struct {
	name  string
	paths []string
}

// NewFileProvider creates a provider over descriptor files, in precedence
// order.
func NewFileProvider(name string, paths ...string) *FileProvider {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		if a, err := filepath.Abs(p); err == nil {
			p = a
		}
		abs = append(abs, filepath.Clean(p))
	}
	return &FileProvider{name: name, paths: abs}
}

func (p *FileProvider) Name() string { return p.name }

// Paths returns the descriptor files.
func (p *FileProvider) Paths() []string { return slices.Clone(p.paths) }

func (p *FileProvider) Layers(ctx context.Context) ([]layer.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]layer.Source, len(p.paths))
	for i, path := range p.paths {
		out[i] = layer.FileSource{Path: path}
	}
	return out, nil
}

// Watch calls changed whenever one of the descriptor files is written,
// replaced or removed.
//
// The parent directories are watched rather than the files: editors commonly
// save by renaming a new file over the old one, which drops a per-file watch.
func (p *FileProvider) Watch(ctx context.Context, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return vfs.WrapError(vfs.ErrIO, "", err)
	}
	defer func() { _ = w.Close() }()

	files := make(map[string]struct{}, len(p.paths))
	dirs := make(map[string]struct{})
	for _, path := range p.paths {
		files[path] = struct{}{}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			return vfs.WrapError(vfs.ErrIO, dir, err)
		}
	}
	logger.Debug("provider %s: watching %d file(s)", p.name, len(files))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("provider %s: watch error: %v", p.name, err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if _, ours := files[filepath.Clean(ev.Name)]; !ours {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				changed()
			}
		}
	}
}

var (
	_ Provider         = (*StaticProvider)(nil)
	_ WatchingProvider = (*FileProvider)(nil)
)
