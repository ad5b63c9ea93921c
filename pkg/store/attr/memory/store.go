package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/layerfs/pkg/store/attr"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// MemoryAttributeStore implements vfs.AttributeStore using in-memory maps.
//
// Suitable for tests, the in-memory writable layer and read-only declarative
// layers whose attributes are loaded once at build time.
//
// Thread Safety:
// All operations are protected by a single read-write mutex, making the
// store safe for concurrent access from multiple goroutines.
type MemoryAttributeStore struct {
	mu sync.RWMutex

	// attrs maps a node path to its attribute map
	attrs map[string]map[string]any

	// intents holds staged moves by intent ID
	intents map[string]attr.Intent

	// live holds the intents whose Move handle is still open
	live attr.Live

	readOnly bool
}

// MemoryAttributeStoreConfig contains configuration for the in-memory store.
type MemoryAttributeStoreConfig struct {
	// ReadOnly refuses every write with ErrAttribute
	ReadOnly bool `mapstructure:"read_only"`
}

// NewMemoryAttributeStore creates an empty store.
func NewMemoryAttributeStore(config MemoryAttributeStoreConfig) *MemoryAttributeStore {
	return &MemoryAttributeStore{
		attrs:    make(map[string]map[string]any),
		intents:  make(map[string]attr.Intent),
		readOnly: config.ReadOnly,
	}
}

// NewMemoryAttributeStoreWithDefaults creates an empty writable store.
func NewMemoryAttributeStoreWithDefaults() *MemoryAttributeStore {
	return NewMemoryAttributeStore(MemoryAttributeStoreConfig{})
}

// Seed installs attributes without going through the read-only check. Used when
// a read-only layer is built from declarative records.
func (s *MemoryAttributeStore) Seed(p string, attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[vfs.Clean(p)] = attr.Clone(attrs)
}

func (s *MemoryAttributeStore) ReadOnly() bool {
	return s.readOnly
}

func (s *MemoryAttributeStore) Get(ctx context.Context, p, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.attrs[vfs.Clean(p)][key]
	return v, ok, nil
}

func (s *MemoryAttributeStore) All(ctx context.Context, p string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return attr.Clone(s.attrs[vfs.Clean(p)]), nil
}

func (s *MemoryAttributeStore) Set(ctx context.Context, p, key string, value any) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.attrs[p]
	if value == nil {
		delete(m, key)
		if len(m) == 0 {
			delete(s.attrs, p)
		}
		return nil
	}
	if m == nil {
		m = make(map[string]any)
		s.attrs[p] = m
	}
	m[key] = value
	return nil
}

func (s *MemoryAttributeStore) Replace(ctx context.Context, p string, attrs map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if s.readOnly {
		return attr.ErrReadOnly(p)
	}
	for k := range attrs {
		if err := attr.ValidateKey(p, k); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(attrs) == 0 {
		delete(s.attrs, p)
		return nil
	}
	s.attrs[p] = attr.Clone(attrs)
	return nil
}

func (s *MemoryAttributeStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if s.readOnly {
		return attr.ErrReadOnly(p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.attrs {
		if vfs.IsWithin(k, p) {
			delete(s.attrs, k)
		}
	}
	return nil
}

func (s *MemoryAttributeStore) Paths(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *MemoryAttributeStore) Close() error {
	return nil
}

// BeginMove records a move intent. Attributes stay at the source until Commit.
func (s *MemoryAttributeStore) BeginMove(ctx context.Context, p, newPath string) (vfs.Move, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, newPath = vfs.Clean(p), vfs.Clean(newPath)
	if s.readOnly {
		return nil, attr.ErrReadOnly(p)
	}
	if err := attr.ValidateMove(p, newPath); err != nil {
		return nil, err
	}

	in := attr.Intent{ID: uuid.NewString(), From: p, To: newPath}

	s.live.Add(in)
	s.mu.Lock()
	s.intents[in.ID] = in
	s.mu.Unlock()

	return &move{store: s, intent: in}, nil
}

// Recover resolves intents left by an interrupted move. Intents of open
// handles are skipped.
func (s *MemoryAttributeStore) Recover(ctx context.Context, exists func(string) (bool, error)) error {
	s.mu.RLock()
	pending := make([]attr.Intent, 0, len(s.intents))
	for _, in := range s.intents {
		if !s.live.Has(in.ID) {
			pending = append(pending, in)
		}
	}
	s.mu.RUnlock()

	var firstErr error
	for _, in := range pending {
		res, err := attr.Decide(ctx, in, exists)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case res == attr.ResolveCommit:
			s.commit(in)
		case res == attr.ResolveAbort:
			s.abort(in)
		}
	}
	return firstErr
}

// Prune deletes the attributes of p's subtree once p is gone from the medium.
func (s *MemoryAttributeStore) Prune(ctx context.Context, p string, exists func(string) (bool, error)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p = vfs.Clean(p)
	if s.readOnly {
		return false, attr.ErrReadOnly(p)
	}
	ok, err := exists(p)
	if err != nil {
		return false, vfs.WrapError(vfs.ErrIO, p, err)
	}
	if ok {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live.Covers(p) {
		return false, nil
	}
	deleted := false
	for k := range s.attrs {
		if vfs.IsWithin(k, p) {
			delete(s.attrs, k)
			deleted = true
		}
	}
	return deleted, nil
}

// commit re-keys the subtree under one lock acquisition so readers never see a mix.
func (s *MemoryAttributeStore) commit(in attr.Intent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[in.ID]; !ok {
		return false
	}

	moved := make(map[string]map[string]any)
	for k, m := range s.attrs {
		if vfs.IsWithin(k, in.From) {
			moved[vfs.Rebase(k, in.From, in.To)] = m
			delete(s.attrs, k)
		}
	}
	for k := range s.attrs {
		if vfs.IsWithin(k, in.To) {
			delete(s.attrs, k)
		}
	}
	for k, m := range moved {
		s.attrs[k] = m
	}
	delete(s.intents, in.ID)
	return true
}

func (s *MemoryAttributeStore) abort(in attr.Intent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[in.ID]; !ok {
		return false
	}
	delete(s.intents, in.ID)
	return true
}

// move is the staged handle returned by BeginMove.
type move struct {
	store  *MemoryAttributeStore
	intent attr.Intent
}

func (m *move) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.store.commit(m.intent) {
		return vfs.NewError(vfs.ErrIO, m.intent.From, "attribute move already finished")
	}
	m.store.live.Remove(m.intent.ID)
	return nil
}

func (m *move) Abort(ctx context.Context) error {
	defer m.store.live.Remove(m.intent.ID)
	if !m.store.abort(m.intent) {
		return vfs.NewError(vfs.ErrIO, m.intent.From, "attribute move already finished")
	}
	return nil
}

func (m *move) Detach() {
	m.store.live.Remove(m.intent.ID)
}

var _ vfs.AttributeStore = (*MemoryAttributeStore)(nil)
