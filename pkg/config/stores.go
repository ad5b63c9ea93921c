package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/marmos91/layerfs/pkg/store/attr/badger"
	attrmemory "github.com/marmos91/layerfs/pkg/store/attr/memory"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/mitchellh/mapstructure"
)

// CreateAttributeStore creates the attribute store of the tree named tree.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the options map into the store's own
// configuration type.
//
// Supported types:
//   - "memory": pkg/store/attr/memory (ephemeral)
//   - "badger": pkg/store/attr/badger, one database per tree under db_path
func CreateAttributeStore(ctx context.Context, cfg AttributesConfig, tree string) (vfs.AttributeStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return createMemoryAttributeStore(cfg.Options)
	case "badger":
		return createBadgerAttributeStore(ctx, cfg.Options, tree)
	default:
		return nil, fmt.Errorf("unknown attribute store type: %q", cfg.Type)
	}
}

func createMemoryAttributeStore(options map[string]any) (vfs.AttributeStore, error) {
	var memoryCfg attrmemory.MemoryAttributeStoreConfig
	if err := decodeOptions(options, &memoryCfg); err != nil {
		return nil, fmt.Errorf("invalid memory attribute store config: %w", err)
	}
	return attrmemory.NewMemoryAttributeStore(memoryCfg), nil
}

func createBadgerAttributeStore(ctx context.Context, options map[string]any, tree string) (vfs.AttributeStore, error) {
	var badgerCfg badger.BadgerAttributeStoreConfig
	if err := decodeOptions(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger attribute store config: %w", err)
	}

	if !badgerCfg.InMemory {
		if badgerCfg.DBPath == "" {
			return nil, fmt.Errorf("badger attribute store: db_path is required")
		}
		badgerCfg.DBPath = filepath.Join(badgerCfg.DBPath, tree)
	}

	store, err := badger.NewBadgerAttributeStore(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}

// decodeOptions decodes a type-specific options map, accepting duration
// strings ("30s") and comma-separated lists.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
