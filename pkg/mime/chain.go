package mime

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/metrics"
)

// DefaultCacheSize bounds the number of cached passes when Config leaves it unset.
const DefaultCacheSize = 4096

// Config configures a Chain.
type Config struct {
	// CacheSize is the maximum number of nodes whose result is cached.
	CacheSize int `mapstructure:"cache_size" validate:"omitempty,gte=1"`

	Metrics metrics.OverlayMetrics `mapstructure:"-"`
}

// Pass describes one resolution.
type Pass struct {
	// MimeType is the result, Default if no resolver answered.
	MimeType string

	// Resolver is the ID of the resolver that answered, empty for Default.
	Resolver string

	// Consulted lists the IDs of the resolvers invoked, in order.
	Consulted []string

	// Visible is the number of resolvers registered when the pass started.
	Visible int

	// Cached is set when the pass was served from the cache.
	Cached bool

	// Recursive is set when the pass was cut short by the recursion guard.
	Recursive bool
}

// registration is an immutable published resolver set.
type registration struct {
	resolvers  []Resolver
	generation uint64
}

// RegistrationObserver is told about a resolver before it becomes visible.
type RegistrationObserver func(r Resolver)

// Chain is an ordered, cached MIME resolver chain.
type Chain struct {
	current atomic.Pointer[registration]

	// regMu serializes publication; it is never held while observers or
	// resolvers run.
	regMu     sync.Mutex
	observers map[uint64]RegistrationObserver
	nextObs   uint64

	cache   *cache
	metrics metrics.OverlayMetrics
}

// NewChain creates a chain consulting resolvers in the given order.
func NewChain(config Config, resolvers ...Resolver) *Chain {
	c := &Chain{
		observers: make(map[uint64]RegistrationObserver),
		cache:     newCache(config.CacheSize),
		metrics:   metrics.OrNoop(config.Metrics),
	}
	c.current.Store(&registration{resolvers: slices.Clone(resolvers)})
	return c
}

// Resolvers returns the currently visible resolvers.
func (c *Chain) Resolvers() []Resolver {
	return slices.Clone(c.current.Load().resolvers)
}

// Generation increases every time the resolver set changes.
func (c *Chain) Generation() uint64 {
	return c.current.Load().generation
}

// OnRegistration subscribes fn to resolver additions and returns a function
// removing the subscription. fn runs before the new resolver is published, so
// resolutions made from inside fn see the previous set.
func (c *Chain) OnRegistration(fn RegistrationObserver) func() {
	c.regMu.Lock()
	c.nextObs++
	id := c.nextObs
	c.observers[id] = fn
	c.regMu.Unlock()

	return func() {
		c.regMu.Lock()
		delete(c.observers, id)
		c.regMu.Unlock()
	}
}

// AddResolver appends r at the lowest precedence. Registration observers are
// notified first, then the new set is published and every cached result
// becomes stale.
func (c *Chain) AddResolver(r Resolver) {
	c.regMu.Lock()
	observers := make([]RegistrationObserver, 0, len(c.observers))
	ids := make([]uint64, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		observers = append(observers, c.observers[id])
	}
	c.regMu.Unlock()

	for _, fn := range observers {
		fn(r)
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	prev := c.current.Load()
	next := &registration{
		resolvers:  append(slices.Clone(prev.resolvers), r),
		generation: prev.generation + 1,
	}
	c.current.Store(next)

	logger.Debug("MIME resolver %q registered (%d total)", r.ID(), len(next.resolvers))
}

// Resolve returns the MIME type of s, or Default.
func (c *Chain) Resolve(ctx context.Context, s Subject) string {
	pass, err := c.ResolvePass(ctx, s)
	if err != nil {
		return Default
	}
	return pass.MimeType
}

// ResolvePass runs (or serves from cache) one resolution of s and reports how
// it was obtained. The only error is a wrapped context error when ctx ends
// before a resolver answers; such passes are not cached.
func (c *Chain) ResolvePass(ctx context.Context, s Subject) (Pass, error) {
	identity := s.Identity()

	if inProgress(ctx, identity) {
		c.metrics.RecordMIMERecursion()
		logger.Debug("MIME resolution of %s re-entered, using default", s.Path())
		return Pass{MimeType: Default, Recursive: true}, nil
	}

	reg := c.current.Load()
	stamp := s.Stamp()

	if pass, ok := c.cache.get(identity, stamp, reg.generation); ok {
		c.metrics.RecordMIMELookup(true)
		pass.Cached = true
		pass.Consulted = slices.Clone(pass.Consulted)
		return pass, nil
	}
	c.metrics.RecordMIMELookup(false)

	ctx = withGuard(ctx, identity)
	pass := Pass{MimeType: Default, Visible: len(reg.resolvers)}

	for _, r := range reg.resolvers {
		if err := ctx.Err(); err != nil {
			return pass, fmt.Errorf("resolve mime type of %s: %w", s.Path(), err)
		}

		pass.Consulted = append(pass.Consulted, r.ID())
		if mimeType, ok := r.Resolve(ctx, s); ok && mimeType != "" {
			pass.MimeType = mimeType
			pass.Resolver = r.ID()
			break
		}
	}

	c.cache.put(identity, stamp, reg.generation, pass)
	return pass, nil
}

// Invalidate drops the cached result for one node.
func (c *Chain) Invalidate(identity uint64) {
	c.cache.remove(identity)
}

// Purge drops every cached result.
func (c *Chain) Purge() {
	c.cache.purge()
}

// CacheLen returns the number of cached results.
func (c *Chain) CacheLen() int {
	return c.cache.len()
}
