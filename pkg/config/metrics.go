package config

import (
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/metrics"
	"github.com/marmos91/dittodsu/pkg/resolver"
	"github.com/marmos91/dittodsu/pkg/server"
	"github.com/marmos91/dittodsu/pkg/store/object"
	"github.com/marmos91/dittodsu/pkg/transport"
)

// MetricsResult contains all metrics-related components created from configuration.
//
// Every collector is nil when metrics are disabled; consumers fall back to
// no-op implementations.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	Anchoring anchoring.Metrics
	Store     object.Metrics
	Transport transport.Metrics
	Resolver  resolver.Metrics
	Endpoint  server.Metrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled, every field is nil (zero overhead).
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port:            cfg.Server.Metrics.Port,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}),
		Anchoring: metrics.NewAnchoringMetrics(),
		Store:     metrics.NewStoreMetrics(),
		Transport: metrics.NewTransportMetrics(),
		Resolver:  metrics.NewResolverMetrics(),
		Endpoint:  metrics.NewEndpointMetrics(),
	}
}
