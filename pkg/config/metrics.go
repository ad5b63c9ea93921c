package config

import (
	"github.com/marmos91/layerfs/pkg/metrics"
	promMetrics "github.com/marmos91/layerfs/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Overlay is the collector shared by the overlay, its coordinator, bus,
	// MIME chain and worker pool (never nil, uses noop if disabled)
	Overlay metrics.OverlayMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed overlay metrics
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// S3 trees create their own collectors with metrics.NewS3Metrics once the
// registry exists.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:  nil,
			Overlay: metrics.NewNoopOverlayMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:  server,
		Overlay: promMetrics.NewOverlayMetrics(),
	}
}
