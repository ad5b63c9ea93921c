// Package gc provides garbage collection for orphaned node attributes.
//
// Attribute stores are keyed by path and live beside the medium they
// describe, so their entries can outlive the nodes. This can occur due to:
//   - Process crashes between removing content and deleting its attributes
//   - Nodes removed from a disk tree by external tools
//   - Moves interrupted between staging and commit
//
// The collector first resolves interrupted moves (AttributeStore.Recover),
// then deletes attribute entries whose node no longer exists in the owning
// tree. Trees with read-only attribute stores are skipped.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Collector performs periodic garbage collection on the attribute stores of
// a set of trees.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	trees  []vfs.Backend
	config Config

	runMu     sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether periodic collection is active
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often to run garbage collection (default: 1h)
	Interval time.Duration `mapstructure:"interval" validate:"omitempty,gt=0"`

	// BatchSize is how many orphaned entries are deleted before checking for
	// cancellation (default: 256)
	BatchSize int `mapstructure:"batch_size" validate:"omitempty,gte=1"`

	// DryRun mode logs what would be deleted without deleting anything
	DryRun bool `mapstructure:"dry_run"`
}

// NewCollector creates a new garbage collector over trees.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
func NewCollector(trees []vfs.Backend, config Config) *Collector {
	if config.Interval == 0 {
		config.Interval = time.Hour
	}
	if config.BatchSize == 0 {
		config.BatchSize = 256
	}

	return &Collector{
		trees:  trees,
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins background garbage collection.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.startOnce.Do(func() {
		logger.Info("Starting garbage collector: interval=%s trees=%d dry_run=%v",
			c.config.Interval, len(c.trees), c.config.DryRun)
		c.started = true
		go c.worker()
	})
}

// Stop stops the garbage collector and waits for it to finish, or for ctx to
// expire. Safe to call multiple times, and without a prior Start.
func (c *Collector) Stop(ctx context.Context) error {
	c.startOnce.Do(func() {})
	if !c.started {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate garbage collection run and blocks until it
// completes or ctx is cancelled.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)")
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run over every tree:
//  1. Resolve interrupted moves
//  2. List the paths holding attributes
//  3. Keep the ones whose node is gone
//  4. Delete them, in batches
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	for _, tree := range c.trees {
		if err := c.collectTree(ctx, tree, stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// RecoverTree resolves the interrupted moves of tree against its medium. It is
// a no-op for trees without a writable attribute store.
func RecoverTree(ctx context.Context, tree vfs.Backend) error {
	store := tree.Attributes()
	if store == nil || store.ReadOnly() {
		return nil
	}
	return store.Recover(ctx, existsIn(ctx, tree))
}

func existsIn(ctx context.Context, tree vfs.Backend) func(p string) (bool, error) {
	return func(p string) (bool, error) {
		_, err := tree.Stat(ctx, p)
		switch {
		case err == nil:
			return true, nil
		case vfs.IsNotFound(err):
			return false, nil
		default:
			return false, err
		}
	}
}

func (c *Collector) collectTree(ctx context.Context, tree vfs.Backend, stats *Stats) error {
	store := tree.Attributes()
	if store == nil || store.ReadOnly() {
		return nil
	}

	exists := existsIn(ctx, tree)
	if err := store.Recover(ctx, exists); err != nil {
		// unresolved intents stay in place for inspection; keep collecting
		logger.Warn("GC: tree %s: move recovery: %v", tree.Name(), err)
		stats.RecoveryErrors++
	}

	paths, err := store.Paths(ctx)
	if err != nil {
		return fmt.Errorf("tree %s: list attributes: %w", tree.Name(), err)
	}
	stats.ScannedCount += uint64(len(paths))

	var orphaned []string
	for _, p := range paths {
		ok, err := exists(p)
		if err != nil {
			return fmt.Errorf("tree %s: stat %s: %w", tree.Name(), p, err)
		}
		if !ok {
			orphaned = append(orphaned, p)
		}
	}
	stats.OrphanedCount += uint64(len(orphaned))

	if len(orphaned) == 0 {
		return nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - tree %s: would delete attributes of %d path(s)", tree.Name(), len(orphaned))
		for i, p := range orphaned {
			if i == 10 {
				logger.Info("  ... and %d more", len(orphaned)-10)
				break
			}
			logger.Info("  - %s", p)
		}
		return nil
	}

	var removed, skipped uint64
	for i := 0; i < len(orphaned); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(i+c.config.BatchSize, len(orphaned))
		for _, p := range orphaned[i:end] {
			// Prune re-checks the medium and skips paths of renames in flight
			deleted, err := store.Prune(ctx, p, exists)
			if err != nil {
				logger.Debug("GC: tree %s: failed to delete attributes of %s: %v", tree.Name(), p, err)
				stats.FailedCount++
				continue
			}
			if deleted {
				removed++
			} else {
				skipped++
			}
		}
	}
	stats.DeletedCount += removed
	stats.SkippedCount += skipped

	logger.Debug("GC: tree %s: deleted attributes of %d path(s), skipped %d", tree.Name(), removed, skipped)
	return nil
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime      time.Time // When collection started
	EndTime        time.Time // When collection ended
	ScannedCount   uint64    // Number of paths holding attributes
	OrphanedCount  uint64    // Number of paths whose node is gone
	DeletedCount   uint64    // Number of orphaned entries deleted
	FailedCount    uint64    // Number of orphaned entries that failed to delete
	SkippedCount   uint64    // Number of orphaned entries kept (reappeared or being renamed)
	RecoveryErrors uint64    // Number of trees with unresolved move intents
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d orphaned=%d deleted=%d skipped=%d failed=%d recovery_errors=%d duration=%s",
		s.ScannedCount, s.OrphanedCount, s.DeletedCount, s.SkippedCount, s.FailedCount, s.RecoveryErrors, s.Duration())
}
