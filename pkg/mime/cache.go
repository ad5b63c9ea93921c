package mime

import (
	"container/list"
	"slices"
	"sync"
)

// cache is an LRU of finished passes keyed by node identity.
type cache struct {
	maxSize int
	mu      sync.Mutex
	entries map[uint64]*list.Element
	lru     *list.List
}

type cacheEntry struct {
	identity   uint64
	stamp      uint64
	generation uint64
	pass       Pass
}

func newCache(maxSize int) *cache {
	if maxSize < 1 {
		maxSize = DefaultCacheSize
	}
	return &cache{
		maxSize: maxSize,
		entries: make(map[uint64]*list.Element),
		lru:     list.New(),
	}
}

// get returns the pass cached for identity if it was computed at the same
// stamp and resolver generation.
func (c *cache) get(identity, stamp, generation uint64) (Pass, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[identity]
	if !ok {
		return Pass{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if entry.stamp != stamp || entry.generation != generation {
		return Pass{}, false
	}
	c.lru.MoveToFront(elem)
	return entry.pass, true
}

func (c *cache) put(identity, stamp, generation uint64, pass Pass) {
	pass.Consulted = slices.Clone(pass.Consulted)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[identity]; ok {
		entry := elem.Value.(*cacheEntry)
		// never replace a result computed against a newer resolver set
		if entry.generation > generation {
			return
		}
		entry.stamp, entry.generation, entry.pass = stamp, generation, pass
		c.lru.MoveToFront(elem)
		return
	}

	if c.lru.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.entries[identity] = c.lru.PushFront(&cacheEntry{
		identity:   identity,
		stamp:      stamp,
		generation: generation,
		pass:       pass,
	})
}

func (c *cache) remove(identity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[identity]; ok {
		c.lru.Remove(elem)
		delete(c.entries, identity)
	}
}

func (c *cache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*list.Element)
	c.lru.Init()
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *cache) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	c.lru.Remove(elem)
	delete(c.entries, elem.Value.(*cacheEntry).identity)
}
