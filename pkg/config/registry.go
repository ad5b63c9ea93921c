package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/gc"
	"github.com/marmos91/layerfs/pkg/metrics"
	"github.com/marmos91/layerfs/pkg/registry"
	"github.com/marmos91/layerfs/pkg/repository"
	"github.com/marmos91/layerfs/pkg/union"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Runtime holds everything built from a configuration.
type Runtime struct {
	// Registry resolves tree names: the overlay, its writable tree, archives and S3 trees
	Registry *registry.Registry

	// Repository owns the overlay
	Repository *repository.Repository

	// Collector removes orphaned attributes from the writable tree and S3 trees
	Collector *gc.Collector

	// Metrics holds the metrics server (nil when disabled) and collectors
	Metrics *MetricsResult

	closers []io.Closer
	gcTrees []vfs.Backend
	gc      gc.Config

	mu      sync.Mutex
	overlay *union.FS
}

// WritableTreeName returns the registry name of the overlay's writable tree.
func WritableTreeName(cfg *Config) string {
	return cfg.Repository.Name + "-writable"
}

// InitializeRuntime creates every tree, attribute store and provider declared
// in cfg and wires them into a repository and a registry.
//
// The repository is not merged yet; Overlay builds it on first use.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	rt, err := config.InitializeRuntime(ctx, cfg, config.InitializeMetrics(cfg))
//	if err != nil {
//	    log.Fatalf("Failed to initialize: %v", err)
//	}
//	defer rt.Close()
func InitializeRuntime(ctx context.Context, cfg *Config, m *MetricsResult) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if m == nil {
		m = &MetricsResult{}
	}
	if m.Overlay == nil {
		m.Overlay = metrics.NewNoopOverlayMetrics()
	}

	rt := &Runtime{
		Registry: registry.NewRegistry(),
		Metrics:  m,
	}

	if err := rt.build(ctx, cfg); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, cfg *Config) error {
	repoCfg := cfg.Repository
	var collected []vfs.Backend

	// Writable tree
	writableName := WritableTreeName(cfg)
	var writable vfs.Backend
	if repoCfg.Writable.Type != "none" {
		attrs, err := rt.attributeStore(ctx, cfg, writableName)
		if err != nil {
			return err
		}
		writable, err = CreateWritable(ctx, writableName, repoCfg.Writable, attrs)
		if err != nil {
			return fmt.Errorf("failed to create writable tree: %w", err)
		}
		if err := rt.Registry.RegisterTree(writable); err != nil {
			return err
		}
		recoverMoves(ctx, writable)
		collected = append(collected, writable)
		logger.Debug("Writable tree %s (type: %s) registered", writableName, repoCfg.Writable.Type)
	}

	for _, a := range repoCfg.Archives {
		attrs, err := rt.attributeStore(ctx, cfg, a.Name)
		if err != nil {
			return err
		}
		tree, err := CreateArchiveTree(ctx, a, attrs)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, tree)
		if err := rt.Registry.RegisterTree(tree); err != nil {
			return err
		}
	}

	for _, s := range repoCfg.S3 {
		attrs, err := rt.attributeStore(ctx, cfg, s.Name)
		if err != nil {
			return err
		}
		tree, err := CreateS3Tree(ctx, s, attrs)
		if err != nil {
			return err
		}
		if err := rt.Registry.RegisterTree(tree); err != nil {
			return err
		}
		recoverMoves(ctx, tree)
		collected = append(collected, tree)
	}

	chain, err := CreateMIMEChain(cfg.MIME, rt.Metrics.Overlay)
	if err != nil {
		return fmt.Errorf("failed to create MIME chain: %w", err)
	}

	repo, err := repository.New(repository.Config{
		Name:     repoCfg.Name,
		Writable: writable,
		Options: []union.Option{
			union.WithCoordinator(CreateCoordinator(cfg.Locks, rt.Metrics.Overlay)),
			union.WithMIME(chain),
		},
		Metrics: rt.Metrics.Overlay,
	}, CreateProviders(repoCfg.Providers)...)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	rt.Repository = repo

	rt.gcTrees = collected
	rt.gc = cfg.GC
	rt.Collector = gc.NewCollector(collected, cfg.GC)

	logger.Debug("Runtime initialized: %d tree(s), %d provider(s)",
		len(rt.Registry.Trees()), len(repoCfg.Providers))
	return nil
}

// recoverMoves finishes the moves a previous process left half done. Conflicts
// stay in place for the collector.
func recoverMoves(ctx context.Context, tree vfs.Backend) {
	if err := gc.RecoverTree(ctx, tree); err != nil {
		logger.Warn("Tree %s: move recovery at startup: %v", tree.Name(), err)
	}
}

// DryRunCollector returns a collector over the same trees that only reports
// what it would delete.
func (rt *Runtime) DryRunCollector() *gc.Collector {
	cfg := rt.gc
	cfg.DryRun = true
	return gc.NewCollector(rt.gcTrees, cfg)
}

// attributeStore creates and registers the attribute store of one tree.
func (rt *Runtime) attributeStore(ctx context.Context, cfg *Config, tree string) (vfs.AttributeStore, error) {
	store, err := CreateAttributeStore(ctx, cfg.Repository.Attributes, tree)
	if err != nil {
		return nil, fmt.Errorf("failed to create attribute store for %s: %w", tree, err)
	}
	if err := rt.Registry.RegisterAttributeStore(tree, store); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Overlay merges the repository on first use and registers the overlay so its
// locators resolve.
func (rt *Runtime) Overlay(ctx context.Context) (*union.FS, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.overlay != nil {
		return rt.overlay, nil
	}

	fs, err := rt.Repository.FS(ctx)
	if err != nil {
		return nil, err
	}
	if err := rt.Registry.RegisterOverlay(fs); err != nil {
		return nil, err
	}
	rt.overlay = fs
	return fs, nil
}

// Close stops the collector, releases the overlay and closes every archive
// and attribute store.
func (rt *Runtime) Close() error {
	var errs []error

	if rt.Collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		errs = append(errs, rt.Collector.Stop(ctx))
		cancel()
	}
	if rt.Repository != nil {
		errs = append(errs, rt.Repository.Close())
	}
	for _, c := range rt.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, rt.Registry.Close())

	return errors.Join(errs...)
}
