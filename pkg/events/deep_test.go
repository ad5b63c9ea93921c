package events

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	name   string
	hits   *atomic.Int32
	events []vfs.Event
}

func (o *recordingObserver) OnEvent(ev vfs.Event) {
	o.hits.Add(1)
	o.events = append(o.events, ev)
}

func newObserver(name string) *recordingObserver {
	return &recordingObserver{name: name, hits: new(atomic.Int32)}
}

func TestDeepListenerSeesDescendants(t *testing.T) {
	reg := NewRegistry()
	obs := newObserver("root")
	Attach(reg, obs, "/config", nil)

	reg.OnEvent(vfs.Event{Type: vfs.EventCreated, Path: "/config/editors/text"})
	reg.OnEvent(vfs.Event{Type: vfs.EventCreated, Path: "/other/file"})
	reg.OnEvent(vfs.Event{Type: vfs.EventChanged, Path: "/config"})

	require.Len(t, obs.events, 2)
	assert.Equal(t, "/config/editors/text", obs.events[0].Path)
	assert.Equal(t, "/config", obs.events[1].Path)
}

func TestDeepListenerRenameOutOfSubtree(t *testing.T) {
	reg := NewRegistry()
	obs := newObserver("root")
	Attach(reg, obs, "/a", nil)

	reg.OnEvent(vfs.Event{Type: vfs.EventRenamed, Path: "/b/x", OldPath: "/a/x"})
	assert.Equal(t, int32(1), obs.hits.Load())
}

func TestDeepListenerRecognizer(t *testing.T) {
	reg := NewRegistry()
	obs := newObserver("creations")
	Attach(reg, obs, "/", Types(vfs.EventCreated))

	reg.OnEvent(vfs.Event{Type: vfs.EventCreated, Path: "/a"})
	reg.OnEvent(vfs.Event{Type: vfs.EventDeleted, Path: "/a"})

	assert.Equal(t, int32(1), obs.hits.Load())
}

func TestHandleIdentityAndDetach(t *testing.T) {
	reg := NewRegistry()
	obs := newObserver("x")

	h := Attach(reg, obs, "/a/", AllEvents)
	assert.Equal(t, Key{Root: "/a", Recognizer: "all"}, h.Key)
	assert.Equal(t, []Handle{h}, reg.Handles(h.Key))

	set := map[Handle]bool{h: true}
	assert.True(t, set[h])

	reg.Detach(h)
	reg.Detach(h)
	assert.Equal(t, 0, reg.Len())

	reg.OnEvent(vfs.Event{Type: vfs.EventCreated, Path: "/a/b"})
	assert.Equal(t, int32(0), obs.hits.Load())
}

func TestDeepListenerExactlyOneEventPerMutation(t *testing.T) {
	bus := NewBus(nil)
	reg := NewRegistry()
	bus.Subscribe(reg)

	obs := newObserver("one")
	Attach(reg, obs, "/r", nil)

	bus.Publish(vfs.Event{Type: vfs.EventChanged, Path: "/r/deep/child"})
	assert.Equal(t, int32(1), obs.hits.Load())
}

// attachTransient attaches an observer that is unreachable once this
// function returns.
func attachTransient(reg *Registry, hits *atomic.Int32) Handle {
	obs := &recordingObserver{name: "transient", hits: hits}
	return Attach(reg, obs, "/r", nil)
}

func TestCollectedObserverIsPruned(t *testing.T) {
	reg := NewRegistry()
	hits := new(atomic.Int32)
	h := attachTransient(reg, hits)

	keep := newObserver("kept")
	Attach(reg, keep, "/r", nil)
	require.Equal(t, 2, reg.Len())

	require.Eventually(t, func() bool {
		runtime.GC()
		reg.OnEvent(vfs.Event{Type: vfs.EventChanged, Path: "/r/x"})
		return reg.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	delivered := hits.Load()
	reg.OnEvent(vfs.Event{Type: vfs.EventChanged, Path: "/r/y"})
	assert.Equal(t, delivered, hits.Load())

	// the handle outlives its observer
	reg.Detach(h)
	assert.Equal(t, 1, reg.Len())
	assert.Positive(t, keep.hits.Load())
	runtime.KeepAlive(keep)
}

func TestPrune(t *testing.T) {
	reg := NewRegistry()
	attachTransient(reg, new(atomic.Int32))

	require.Eventually(t, func() bool {
		runtime.GC()
		reg.Prune()
		return reg.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
