// Package events delivers change notifications for overlay trees.
//
// Bus fans events out synchronously to its subscribers, in publish order, before
// Publish returns. Registry builds subtree ("deep") subscriptions on top of a Bus
// and holds its observers weakly, so an observer that is no longer referenced
// anywhere else stops receiving events and is pruned.
package events

import (
	"sync"

	"github.com/marmos91/layerfs/pkg/metrics"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Bus is a synchronous, ordered event dispatcher.
//
// Subscribers are invoked on the publishing goroutine without any bus lock held,
// so a listener may subscribe, unsubscribe or publish from inside OnEvent.
type Bus struct {
	mu        sync.RWMutex
	listeners []subscription
	nextID    uint64
	metrics   metrics.OverlayMetrics
}

type subscription struct {
	id       uint64
	listener vfs.Listener
}

// NewBus creates an empty bus. A nil m disables event metrics.
func NewBus(m metrics.OverlayMetrics) *Bus {
	return &Bus{metrics: metrics.OrNoop(m)}
}

// Subscribe registers l and returns a function removing it again.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(l vfs.Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.listeners {
		if s.id == id {
			// copy so snapshots handed to in-flight publishes stay intact
			next := make([]subscription, 0, len(b.listeners)-1)
			next = append(next, b.listeners[:i]...)
			b.listeners = append(next, b.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every current subscriber and returns once all of
// them have run.
func (b *Bus) Publish(ev vfs.Event) {
	b.mu.RLock()
	snapshot := b.listeners
	b.mu.RUnlock()

	for _, s := range snapshot {
		s.listener.OnEvent(ev)
	}
	b.metrics.RecordEvent(ev.Type.String())
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
