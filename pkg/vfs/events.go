package vfs

// EventType enumerates structural and content mutations.
type EventType int

const (
	EventCreated EventType = iota
	EventDeleted
	EventChanged
	EventRenamed
	EventAttributeChanged
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventChanged:
		return "changed"
	case EventRenamed:
		return "renamed"
	case EventAttributeChanged:
		return "attribute_changed"
	default:
		return "unknown"
	}
}

// Event describes one mutation. Path is the node's current path; for renames
// OldPath holds the previous one. Attribute is set for EventAttributeChanged.
type Event struct {
	Type      EventType
	Tree      string
	Path      string
	OldPath   string
	Attribute string
	Kind      Kind
}

// Touches reports whether the event concerns root or anything below it.
// Renames count for both their old and new location.
func (e Event) Touches(root string) bool {
	if IsWithin(e.Path, root) {
		return true
	}
	return e.OldPath != "" && IsWithin(e.OldPath, root)
}

// Listener receives events synchronously, in mutation order.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }
