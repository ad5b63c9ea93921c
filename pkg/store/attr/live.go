package attr

import (
	"sync"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// Live tracks the intents of Move handles that are still open.
//
// An open intent belongs to a rename in progress, not to a crashed process, so
// Recover must leave it alone and the orphan sweep must not touch its
// endpoints. The zero value is ready to use.
type Live struct {
	mu      sync.Mutex
	intents map[string]Intent
}

// Add marks in as owned by an open handle.
func (l *Live) Add(in Intent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.intents == nil {
		l.intents = make(map[string]Intent)
	}
	l.intents[in.ID] = in
}

// Remove forgets the handle of intent id.
func (l *Live) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.intents, id)
}

// Has reports whether intent id has an open handle.
func (l *Live) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.intents[id]
	return ok
}

// Covers reports whether p overlaps an endpoint of an open move: p is the
// source or destination, lies below one, or contains one.
func (l *Live) Covers(p string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, in := range l.intents {
		if overlaps(p, in.From) || overlaps(p, in.To) {
			return true
		}
	}
	return false
}

func overlaps(p, endpoint string) bool {
	return vfs.IsWithin(p, endpoint) || vfs.IsWithin(endpoint, p)
}
