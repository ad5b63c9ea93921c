package events

import (
	"slices"
	"strings"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// Recognizer filters the events a deep subscription is interested in.
//
// ID must be stable for the lifetime of the process: together with the root
// path it forms the subscription's identity.
type Recognizer interface {
	ID() string
	Recognize(ev vfs.Event) bool
}

type allEvents struct{}

func (allEvents) ID() string               { return "all" }
func (allEvents) Recognize(vfs.Event) bool { return true }

// AllEvents accepts every event.
var AllEvents Recognizer = allEvents{}

type typeRecognizer struct {
	id    string
	types []vfs.EventType
}

// Types accepts only events of the given types.
func Types(types ...vfs.EventType) Recognizer {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return typeRecognizer{id: "types:" + strings.Join(names, ","), types: types}
}

func (r typeRecognizer) ID() string { return r.id }

func (r typeRecognizer) Recognize(ev vfs.Event) bool {
	return slices.Contains(r.types, ev.Type)
}

type funcRecognizer struct {
	id string
	fn func(vfs.Event) bool
}

// RecognizerFunc wraps fn under the given identity.
func RecognizerFunc(id string, fn func(vfs.Event) bool) Recognizer {
	return funcRecognizer{id: id, fn: fn}
}

func (r funcRecognizer) ID() string                  { return r.id }
func (r funcRecognizer) Recognize(ev vfs.Event) bool { return r.fn(ev) }
