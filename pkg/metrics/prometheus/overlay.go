// Package prometheus provides Prometheus implementations of the metrics
// interfaces declared by the core packages.
package prometheus

import (
	"time"

	"github.com/marmos91/layerfs/pkg/metrics"
	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// overlayMetrics is the Prometheus implementation of metrics.OverlayMetrics.
type overlayMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	lockConflicts     prometheus.Counter
	readRetries       prometheus.Counter
	openStreams       *prometheus.GaugeVec
	mimeLookups       *prometheus.CounterVec
	mimeRecursions    prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	refreshDelta      *prometheus.CounterVec
	workerTasks       *prometheus.CounterVec
	workerDuration    prometheus.Histogram
}

// NewOverlayMetrics creates a new Prometheus-backed OverlayMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewOverlayMetrics() metrics.OverlayMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopOverlayMetrics()
	}

	reg := metrics.GetRegistry()

	return &overlayMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "layerfs_operations_total",
				Help: "Total number of overlay operations by operation, status and error code",
			},
			[]string{"operation", "status", "error_code"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "layerfs_operation_duration_milliseconds",
				Help: "Duration of overlay operations in milliseconds",
				Buckets: []float64{
					0.1,  // 100us
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"operation"},
		),
		lockConflicts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "layerfs_lock_conflicts_total",
				Help: "Total number of lock acquisitions refused because the node was locked",
			},
		),
		readRetries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "layerfs_read_retries_total",
				Help: "Total number of reads retried after transient medium locking",
			},
		),
		openStreams: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "layerfs_open_streams",
				Help: "Current number of open streams by kind",
			},
			[]string{"kind"},
		),
		mimeLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "layerfs_mime_lookups_total",
				Help: "Total number of MIME resolutions by cache result",
			},
			[]string{"result"},
		),
		mimeRecursions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "layerfs_mime_recursions_total",
				Help: "Total number of MIME resolutions short-circuited by the recursion guard",
			},
		),
		eventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "layerfs_events_total",
				Help: "Total number of change events published by type",
			},
			[]string{"type"},
		),
		refreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "layerfs_refreshes_total",
				Help: "Total number of provider refreshes",
			},
			[]string{"provider"},
		),
		refreshDelta: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "layerfs_refresh_delta_paths_total",
				Help: "Paths created, deleted or changed by provider refreshes",
			},
			[]string{"provider", "change"},
		),
		workerTasks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "layerfs_worker_tasks_total",
				Help: "Total number of worker tasks by status",
			},
			[]string{"status"},
		),
		workerDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "layerfs_worker_task_duration_seconds",
				Help:    "Run time of worker tasks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 10, 6),
			},
		),
	}
}

func (m *overlayMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status, code := "success", ""
	if err != nil {
		status = "error"
		if c, ok := vfs.CodeOf(err); ok {
			code = c.String()
		}
	}

	m.operationsTotal.WithLabelValues(operation, status, code).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *overlayMetrics) RecordLockConflict() {
	m.lockConflicts.Inc()
}

func (m *overlayMetrics) RecordReadRetry() {
	m.readRetries.Inc()
}

func (m *overlayMetrics) SetOpenStreams(kind string, count int64) {
	m.openStreams.WithLabelValues(kind).Set(float64(count))
}

func (m *overlayMetrics) RecordMIMELookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.mimeLookups.WithLabelValues(result).Inc()
}

func (m *overlayMetrics) RecordMIMERecursion() {
	m.mimeRecursions.Inc()
}

func (m *overlayMetrics) RecordEvent(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

func (m *overlayMetrics) RecordRefresh(provider string, created, deleted, changed int) {
	m.refreshes.WithLabelValues(provider).Inc()
	m.refreshDelta.WithLabelValues(provider, "created").Add(float64(created))
	m.refreshDelta.WithLabelValues(provider, "deleted").Add(float64(deleted))
	m.refreshDelta.WithLabelValues(provider, "changed").Add(float64(changed))
}

func (m *overlayMetrics) RecordWorkerTask(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.workerTasks.WithLabelValues(status).Inc()
	m.workerDuration.Observe(duration.Seconds())
}
