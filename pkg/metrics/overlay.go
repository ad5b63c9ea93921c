package metrics

import "time"

// OverlayMetrics provides observability for the overlay core: union operations,
// the lock and stream coordinator, the MIME chain, repository refreshes and the
// worker pool.
//
// This interface is optional - components given nil fall back to the no-op
// implementation with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewOverlayMetrics()
//	fs := union.New(union.WithMetrics(m))
//
//	// Without metrics (no-op)
//	fs := union.New()
type OverlayMetrics interface {
	// ObserveOperation records a completed union operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "create", "delete", "rename", "open_output")
	//   - duration: Time taken
	//   - err: Error if the operation failed, nil if successful
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordLockConflict counts AcquireLock calls refused because the node is locked.
	RecordLockConflict()

	// RecordReadRetry counts read attempts retried after transient medium locking.
	RecordReadRetry()

	// SetOpenStreams updates the number of currently open streams.
	//
	// Parameters:
	//   - kind: "input" or "output"
	//   - count: Current number of open streams of that kind
	SetOpenStreams(kind string, count int64)

	// RecordMIMELookup records a MIME resolution and whether it was served from cache.
	RecordMIMELookup(hit bool)

	// RecordMIMERecursion counts resolutions short-circuited by the recursion guard.
	RecordMIMERecursion()

	// RecordEvent counts a delivered change event by type.
	RecordEvent(eventType string)

	// RecordRefresh records the delta produced by a provider refresh.
	RecordRefresh(provider string, created, deleted, changed int)

	// RecordWorkerTask records a finished worker task.
	//
	// Parameters:
	//   - duration: Task run time
	//   - err: Task error (panics are reported as errors)
	RecordWorkerTask(duration time.Duration, err error)
}

// NewNoopOverlayMetrics returns an OverlayMetrics that discards everything.
func NewNoopOverlayMetrics() OverlayMetrics {
	return noopOverlayMetrics{}
}

// OrNoop returns m, or the no-op implementation when m is nil.
func OrNoop(m OverlayMetrics) OverlayMetrics {
	if m == nil {
		return noopOverlayMetrics{}
	}
	return m
}

type noopOverlayMetrics struct{}

func (noopOverlayMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopOverlayMetrics) RecordLockConflict()                                                  {}
func (noopOverlayMetrics) RecordReadRetry()                                                     {}
func (noopOverlayMetrics) SetOpenStreams(kind string, count int64)                              {}
func (noopOverlayMetrics) RecordMIMELookup(hit bool)                                            {}
func (noopOverlayMetrics) RecordMIMERecursion()                                                 {}
func (noopOverlayMetrics) RecordEvent(eventType string)                                         {}
func (noopOverlayMetrics) RecordRefresh(provider string, created, deleted, changed int)         {}
func (noopOverlayMetrics) RecordWorkerTask(duration time.Duration, err error)                   {}
