package lock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/internal/ratelimiter"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// StreamKind distinguishes readers from writers.
type StreamKind int

const (
	StreamInput StreamKind = iota
	StreamOutput
)

func (k StreamKind) String() string {
	if k == StreamOutput {
		return "output"
	}
	return "input"
}

// Stream describes one open stream.
type Stream struct {
	ID     uint64
	Node   uint64
	Path   string
	Kind   StreamKind
	Opened time.Time
}

// OpenFunc opens the content of a node for reading.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// CommitFunc persists the complete buffered content of an output stream.
type CommitFunc func(ctx context.Context, data []byte) error

// OpenInput opens node for reading through open and registers the stream until
// the returned reader is closed.
//
// A read refused with ErrFileAlreadyLocked (the medium holds the content
// exclusively) is retried up to Config.ReadRetries times, paced by
// Config.RetryInterval. If ctx is cancelled while waiting, the returned error
// wraps ctx.Err(), nothing is registered and nothing is logged.
func (c *Coordinator) OpenInput(ctx context.Context, node uint64, path string, open OpenFunc) (io.ReadCloser, error) {
	pacer := ratelimiter.New(c.config.RetryInterval, 1)
	pacer.Allow()

	var (
		rc  io.ReadCloser
		err error
	)
	for attempt := 0; ; attempt++ {
		rc, err = open(ctx)
		if err == nil || !vfs.IsCode(err, vfs.ErrFileAlreadyLocked) || attempt >= c.config.ReadRetries {
			break
		}
		c.metrics.RecordReadRetry()
		if waitErr := pacer.Wait(ctx); waitErr != nil {
			return nil, fmt.Errorf("open %s: %w", path, waitErr)
		}
	}
	if err != nil {
		return nil, err
	}

	s := c.register(node, path, StreamInput)
	return &inputStream{ReadCloser: rc, coord: c, stream: s}, nil
}

// OpenOutput opens a buffered write stream on node. lock must be a live lock for
// node. Nothing reaches the medium until Close, which hands the whole buffer to
// commit and returns its error; a failed commit leaves the previous content in
// place. Closing ends the stream but does not release the lock.
func (c *Coordinator) OpenOutput(ctx context.Context, node uint64, path string, l *Lock, commit CommitFunc) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Validate(l, node); err != nil {
		return nil, err
	}

	s := c.register(node, path, StreamOutput)
	return &outputStream{ctx: ctx, coord: c, stream: s, lock: l, commit: commit}, nil
}

// Streams returns the open streams of node.
func (c *Coordinator) Streams(node uint64) []Stream {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Stream, 0, len(c.streams[node]))
	for _, s := range c.streams[node] {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasOpenStreams reports whether node has any open stream.
func (c *Coordinator) HasOpenStreams(node uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams[node]) > 0
}

// BusyWithin reports whether root or any node below it has an open stream.
func (c *Coordinator) BusyWithin(root string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, byID := range c.streams {
		for _, s := range byID {
			if vfs.IsWithin(s.Path, root) {
				return true
			}
		}
	}
	return false
}

// OpenStreams returns the number of open streams without taking the
// coordinator's mutex, so it is safe from inside stream callbacks.
func (c *Coordinator) OpenStreams() int64 {
	return c.inputs.Load() + c.outputs.Load()
}

func (c *Coordinator) counter(kind StreamKind) *atomic.Int64 {
	if kind == StreamOutput {
		return &c.outputs
	}
	return &c.inputs
}

func (c *Coordinator) register(node uint64, path string, kind StreamKind) *Stream {
	s := &Stream{
		ID:     c.nextStream.Add(1),
		Node:   node,
		Path:   vfs.Clean(path),
		Kind:   kind,
		Opened: time.Now(),
	}

	c.mu.Lock()
	byID := c.streams[node]
	if byID == nil {
		byID = make(map[uint64]*Stream)
		c.streams[node] = byID
	}
	byID[s.ID] = s
	c.mu.Unlock()

	n := c.counter(kind).Add(1)
	c.metrics.SetOpenStreams(kind.String(), n)
	logger.Debug("%s stream %d opened: %s", kind, s.ID, s.Path)
	return s
}

func (c *Coordinator) unregister(s *Stream) {
	c.mu.Lock()
	byID := c.streams[s.Node]
	delete(byID, s.ID)
	if len(byID) == 0 {
		delete(c.streams, s.Node)
	}
	c.mu.Unlock()

	n := c.counter(s.Kind).Add(-1)
	c.metrics.SetOpenStreams(s.Kind.String(), n)
	logger.Debug("%s stream %d closed: %s", s.Kind, s.ID, s.Path)
}

type inputStream struct {
	io.ReadCloser
	coord  *Coordinator
	stream *Stream
	once   sync.Once
}

func (r *inputStream) Close() error {
	err := r.ReadCloser.Close()
	r.once.Do(func() { r.coord.unregister(r.stream) })
	return err
}

type outputStream struct {
	ctx    context.Context
	coord  *Coordinator
	stream *Stream
	lock   *Lock
	commit CommitFunc

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *outputStream) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, vfs.NewError(vfs.ErrIO, w.stream.Path, "write on closed stream")
	}
	return w.buf.Write(p)
}

// Close persists the buffer. The stream is unregistered whatever the outcome.
func (w *outputStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.coord.unregister(w.stream)

	if err := w.coord.Validate(w.lock, w.stream.Node); err != nil {
		return err
	}
	if err := w.commit(w.ctx, w.buf.Bytes()); err != nil {
		return vfs.WrapError(vfs.ErrIO, w.stream.Path, err)
	}
	return nil
}
