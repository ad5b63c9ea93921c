// Package workers runs posted tasks on background goroutines.
//
// It is the dispatcher the overlay core uses for deferred work: tasks may be
// posted from inside other tasks or from inside stream and resolver callbacks,
// and callers wait on the returned Handle. The pool never runs a task on the
// posting goroutine.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/metrics"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Task is a unit of work. ctx is the pool's context, cancelled by Close; it is
// never derived from the poster's context.
type Task func(ctx context.Context) error

// Pool is an unbounded goroutine pool.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	wg     conc.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	metrics metrics.OverlayMetrics
}

// NewPool creates a running pool. A nil m disables task metrics.
func NewPool(m metrics.OverlayMetrics) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.OrNoop(m),
	}
}

// Post schedules task and returns immediately.
//
// Returns:
//   - *Handle: Used to wait for the task's completion and result
//   - error: ErrIO if the pool has been closed
func (p *Pool) Post(task Task) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, vfs.NewError(vfs.ErrIO, "", "worker pool closed")
	}

	h := &Handle{ID: uuid.New(), done: make(chan struct{})}
	p.wg.Go(func() { p.run(h, task) })
	return h, nil
}

func (p *Pool) run(h *Handle, task Task) {
	start := time.Now()

	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = task(p.ctx) })
	if r := catcher.Recovered(); r != nil {
		err = fmt.Errorf("task %s panicked: %w", h.ID, r.AsError())
		logger.Error("Worker task %s panicked: %v", h.ID, r.Value)
	}

	p.metrics.RecordWorkerTask(time.Since(start), err)
	h.finish(err)
}

// Close cancels the pool context and waits for all running tasks. Posting
// after Close fails. Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Handle tracks one posted task.
type Handle struct {
	ID uuid.UUID

	done chan struct{}
	err  error
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Done is closed once the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task has finished and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// WaitContext is Wait bounded by ctx. When ctx ends first the task keeps
// running and the context error is returned.
func (h *Handle) WaitContext(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return fmt.Errorf("wait for task %s: %w", h.ID, ctx.Err())
	}
}
