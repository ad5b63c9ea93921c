//go:build integration

package badger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/layerfs/pkg/config"
	"github.com/marmos91/layerfs/pkg/store/attr/badger"
)

// newConfig builds a runtime configuration with a host-directory writable tree
// whose attributes live in BadgerDB below dir.
func newConfig(t *testing.T, dir string) *config.Config {
	t.Helper()

	descriptor := filepath.Join(dir, "base.yaml")
	content := "entries:\n  - path: /etc\n    kind: folder\n  - path: /etc/motd\n    content: hello\n"
	if err := os.WriteFile(descriptor, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write descriptor: %v", err)
	}

	cfg := config.GetDefaultConfig()
	cfg.Repository.Name = "configs"
	cfg.Repository.Providers = []config.ProviderConfig{{Name: "base", Sources: []string{descriptor}}}
	cfg.Repository.Writable = config.WritableConfig{
		Type:    "filesystem",
		Options: map[string]any{"path": filepath.Join(dir, "upper")},
	}
	cfg.Repository.Attributes = config.AttributesConfig{
		Type:    "badger",
		Options: map[string]any{"db_path": filepath.Join(dir, "attrs")},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Config should be valid: %v", err)
	}
	return cfg
}

// TestBadgerAttributes_Integration runs the overlay on top of a BadgerDB
// attribute store across process restarts.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
//
// These tests verify that:
//   - Attributes set through the overlay survive a restart
//   - A move interrupted between the medium rename and the attribute commit is
//     completed at the next startup, before any GC run
func TestBadgerAttributes_Integration(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := newConfig(t, dir)

	t.Run("AttributesSurviveRestart", func(t *testing.T) {
		rt, err := config.InitializeRuntime(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("InitializeRuntime failed: %v", err)
		}
		fs, err := rt.Overlay(ctx)
		if err != nil {
			t.Fatalf("Overlay failed: %v", err)
		}
		n, err := fs.Find(ctx, "/etc/motd")
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if err := n.SetAttribute(ctx, "owner", "ops"); err != nil {
			t.Fatalf("SetAttribute failed: %v", err)
		}
		if err := rt.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		rt, err = config.InitializeRuntime(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("InitializeRuntime after restart failed: %v", err)
		}
		defer func() { _ = rt.Close() }()

		fs, err = rt.Overlay(ctx)
		if err != nil {
			t.Fatalf("Overlay failed: %v", err)
		}
		n, err = fs.Find(ctx, "/etc/motd")
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		v, ok, err := n.Attribute(ctx, "owner")
		if err != nil || !ok || v != "ops" {
			t.Errorf("Expected owner=ops after restart, got %v %v %v", v, ok, err)
		}
		tree, err := n.Tree(ctx)
		if err != nil || tree != config.WritableTreeName(cfg) {
			t.Errorf("Expected node served by the writable tree, got %q (%v)", tree, err)
		}
	})

	t.Run("InterruptedMoveCompletedAtStartup", func(t *testing.T) {
		// simulate a crash after the medium rename: intent persisted, attributes
		// still keyed by the old path
		store, err := badger.NewBadgerAttributeStore(ctx, badger.BadgerAttributeStoreConfig{
			DBPath: filepath.Join(dir, "attrs", config.WritableTreeName(cfg)),
		})
		if err != nil {
			t.Fatalf("Failed to open attribute store: %v", err)
		}
		if _, err := store.BeginMove(ctx, "/etc/motd", "/etc/motd.bak"); err != nil {
			t.Fatalf("BeginMove failed: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		upper := filepath.Join(dir, "upper", "etc")
		if err := os.Rename(filepath.Join(upper, "motd"), filepath.Join(upper, "motd.bak")); err != nil {
			t.Fatalf("Failed to rename on disk: %v", err)
		}

		rt, err := config.InitializeRuntime(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("InitializeRuntime failed: %v", err)
		}
		defer func() { _ = rt.Close() }()

		fs, err := rt.Overlay(ctx)
		if err != nil {
			t.Fatalf("Overlay failed: %v", err)
		}
		n, err := fs.Find(ctx, "/etc/motd.bak")
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		v, ok, err := n.Attribute(ctx, "owner")
		if err != nil || !ok || v != "ops" {
			t.Errorf("Expected owner=ops on the moved node, got %v %v %v", v, ok, err)
		}

		stats, err := rt.Collector.RunNow(ctx)
		if err != nil {
			t.Fatalf("GC failed: %v", err)
		}
		if stats.RecoveryErrors != 0 || stats.DeletedCount != 0 {
			t.Errorf("Expected nothing left for the collector, got %s", stats.Summary())
		}
	})
}
