// Package metrics provides Prometheus metrics collection for dittodsu components.
//
// All metrics are optional - if not initialized, components use no-op implementations
// that have zero overhead. Each constructor returns the interface declared by the
// consuming package, or nil when metrics are disabled.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create metrics instances for components
//	behaviour := anchoring.New(persistence, anchoring.Options{
//	    Metrics: metrics.NewAnchoringMetrics(),
//	})
//
//	// Or use nil for no-op behavior
//	client := transport.NewClient(cfg, nil)
package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dittodsu"

var (
	// registry is the global Prometheus registry for all dittodsu metrics
	// Protected by registryOnce for write-once, read-many pattern
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times - subsequent calls are ignored. Go runtime and process
// collectors are registered alongside the dittodsu metrics.
//
// If not called, GetRegistry() will return nil and all metrics constructors
// will return nil, which components treat as no-op metrics.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// statusLabel turns an operation error into a bounded label value.
func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return string(fault.RootCauseOf(err))
}

// durationBuckets covers local store calls (sub-millisecond) up to slow
// remote quorum writes.
var durationBuckets = []float64{
	0.0005, // 500us
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
	30.0,   // 30s
}
