package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/layerfs/pkg/store/attr"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// BadgerAttributeStore implements vfs.AttributeStore using BadgerDB for persistence.
//
// Every attribute is its own key (see keys.go), so reading one attribute is a
// point lookup and deleting or moving a subtree is a prefix scan.
//
// Crash Safety:
// BeginMove persists a move intent before the backend touches its medium. Commit
// rewrites all affected keys and deletes the intent in a single transaction,
// so after a crash the store holds either the complete pre-move or the complete
// post-move attribute set. Intents that survive a crash are resolved by Recover.
//
// Thread Safety:
// BadgerDB transactions are serializable; the store itself keeps no mutable state
// beyond the database handle and is safe for concurrent use.
type BadgerAttributeStore struct {
	db       *badger.DB
	readOnly bool

	// live holds the intents whose Move handle is still open
	live attr.Live
}

// BadgerAttributeStoreConfig contains configuration for creating a BadgerDB attribute store.
type BadgerAttributeStoreConfig struct {
	// DBPath is the directory where BadgerDB will store its files
	DBPath string `mapstructure:"db_path"`

	// ReadOnly refuses every write with ErrAttribute
	ReadOnly bool `mapstructure:"read_only"`

	// InMemory keeps the database in memory (DBPath is ignored)
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// BadgerOptions allows full customization of BadgerDB behavior
	// If nil, defaults tuned for small values are used
	BadgerOptions *badger.Options `mapstructure:"-"`
}

// NewBadgerAttributeStore opens (or creates) a BadgerDB attribute store.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Database location and options
//
// Returns:
//   - *BadgerAttributeStore: Store ready for use
//   - error: Error if the database cannot be opened or ctx is cancelled
func NewBadgerAttributeStore(ctx context.Context, config BadgerAttributeStoreConfig) (*BadgerAttributeStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			opts = badger.DefaultOptions(config.DBPath)
		}

		// Attribute values are tiny; compression and big caches are not worth it
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)

		blockCacheMB := config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerAttributeStore{db: db, readOnly: config.ReadOnly}, nil
}

func (s *BadgerAttributeStore) ReadOnly() bool {
	return s.readOnly
}

// Close closes the database. The store must not be used afterwards.
func (s *BadgerAttributeStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func (s *BadgerAttributeStore) Get(ctx context.Context, p, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p = vfs.Clean(p)

	var (
		value any
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyAttr(p, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeValue(val)
			if err != nil {
				return err
			}
			value, found = v, true
			return nil
		})
	})
	if err != nil {
		return nil, false, vfs.WrapError(vfs.ErrAttribute, p, err)
	}
	return value, found, nil
}

func (s *BadgerAttributeStore) All(ctx context.Context, p string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)

	out := make(map[string]any)
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, keyNodePrefix(p), func(key, val []byte) error {
			_, name, _ := splitAttrKey(key)
			v, err := decodeValue(val)
			if err != nil {
				return err
			}
			out[name] = v
			return nil
		})
	})
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrAttribute, p, err)
	}
	return out, nil
}

func (s *BadgerAttributeStore) Set(ctx context.Context, p, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if s.readOnly {
		return attr.ErrReadOnly(p)
	}
	if err := attr.ValidateKey(p, key); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if value == nil {
			return txn.Delete(keyAttr(p, key))
		}
		data, err := encodeValue(value)
		if err != nil {
			return err
		}
		return txn.Set(keyAttr(p, key), data)
	})
	return vfs.WrapError(vfs.ErrAttribute, p, err)
}

func (s *BadgerAttributeStore) Replace(ctx context.Context, p string, attrs map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if s.readOnly {
		return attr.ErrReadOnly(p)
	}

	encoded := make(map[string][]byte, len(attrs))
	for k, v := range attrs {
		if err := attr.ValidateKey(p, k); err != nil {
			return err
		}
		if v == nil {
			continue
		}
		data, err := encodeValue(v)
		if err != nil {
			return vfs.WrapError(vfs.ErrAttribute, p, err)
		}
		encoded[k] = data
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := deletePrefix(txn, keyNodePrefix(p)); err != nil {
			return err
		}
		for k, data := range encoded {
			if err := txn.Set(keyAttr(p, k), data); err != nil {
				return err
			}
		}
		return nil
	})
	return vfs.WrapError(vfs.ErrAttribute, p, err)
}

// Delete removes the attributes of p and all its descendants in one transaction.
func (s *BadgerAttributeStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if s.readOnly {
		return attr.ErrReadOnly(p)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range keySubtreePrefixes(p) {
			if _, err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		return nil
	})
	return vfs.WrapError(vfs.ErrAttribute, p, err)
}

func (s *BadgerAttributeStore) Paths(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixAttr)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if p, _, ok := splitAttrKey(it.Item().Key()); ok {
				seen[p] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrAttribute, "", err)
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// scan calls fn for every key/value under prefix. Values are only valid during fn.
func scan(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if err := item.Value(func(val []byte) error {
			return fn(item.Key(), val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// deletePrefix removes every key under prefix within txn and returns how many.
func deletePrefix(txn *badger.Txn, prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

var _ vfs.AttributeStore = (*BadgerAttributeStore)(nil)
