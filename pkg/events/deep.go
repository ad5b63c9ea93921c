package events

import (
	"cmp"
	"slices"
	"sync"
	"weak"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Observer receives the events of a deep subscription.
type Observer interface {
	OnEvent(ev vfs.Event)
}

// Key identifies a deep subscription by its registration parameters only.
type Key struct {
	Root       string
	Recognizer string
}

// Handle refers to one Attach call. It never references the observer, so it
// stays comparable and detachable after the observer has been collected.
type Handle struct {
	Key Key
	seq uint64
}

type deepEntry struct {
	handle     Handle
	recognizer Recognizer
	observer   func() Observer
}

// Registry holds deep subscriptions over subtrees.
//
// Observers are referenced weakly: once the caller drops its last reference to
// an observer and the garbage collector reclaims it, delivery to that
// subscription becomes a no-op and the entry is pruned.
type Registry struct {
	mu      sync.RWMutex
	entries map[Handle]*deepEntry
	seq     uint64
}

// NewRegistry creates an empty registry. Feed it events with OnEvent, usually
// by subscribing it to a Bus.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Handle]*deepEntry)}
}

// Attach registers obs for every event touching root or anything below it that
// rec recognizes. A nil rec accepts all events.
//
// The registry keeps only a weak reference to obs.
func Attach[T any, PT interface {
	*T
	Observer
}](r *Registry, obs PT, root string, rec Recognizer) Handle {
	if rec == nil {
		rec = AllEvents
	}

	ref := weak.Make((*T)(obs))
	resolve := func() Observer {
		p := ref.Value()
		if p == nil {
			return nil
		}
		return PT(p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	h := Handle{Key: Key{Root: vfs.Clean(root), Recognizer: rec.ID()}, seq: r.seq}
	r.entries[h] = &deepEntry{handle: h, recognizer: rec, observer: resolve}
	return h
}

// Detach removes the subscription. Detaching twice, or detaching a handle
// whose observer was already pruned, is a no-op.
func (r *Registry) Detach(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, h)
}

// Len returns the number of registered subscriptions, including ones whose
// observer is gone but which have not been pruned yet.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handles returns the handles registered under key.
func (r *Registry) Handles(key Key) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Handle
	for h := range r.entries {
		if h.Key == key {
			out = append(out, h)
		}
	}
	return out
}

// OnEvent dispatches ev to every subscription whose subtree it touches.
// Subscriptions are notified in attach order.
func (r *Registry) OnEvent(ev vfs.Event) {
	r.mu.RLock()
	matched := make([]*deepEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if ev.Touches(e.handle.Key.Root) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *deepEntry) int {
		return cmp.Compare(a.handle.seq, b.handle.seq)
	})

	var dead []Handle
	for _, e := range matched {
		obs := e.observer()
		if obs == nil {
			dead = append(dead, e.handle)
			continue
		}
		if e.recognizer.Recognize(ev) {
			obs.OnEvent(ev)
		}
	}

	if len(dead) > 0 {
		r.prune(dead)
	}
}

// Prune drops every subscription whose observer has been collected and
// returns how many were removed.
func (r *Registry) Prune() int {
	r.mu.RLock()
	var dead []Handle
	for h, e := range r.entries {
		if e.observer() == nil {
			dead = append(dead, h)
		}
	}
	r.mu.RUnlock()

	r.prune(dead)
	return len(dead)
}

func (r *Registry) prune(dead []Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range dead {
		delete(r.entries, h)
	}
	logger.Debug("Pruned %d deep listener(s) with collected observers", len(dead))
}
