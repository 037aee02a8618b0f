package metrics

import (
	"time"

	"github.com/marmos91/dittodsu/pkg/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// resolverMetrics is the Prometheus implementation of resolver.Metrics.
//
// This implementation collects:
//   - Create/load operation counts and latencies
//   - Instance cache hits and misses
type resolverMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
}

// NewResolverMetrics creates a Prometheus-backed resolver.Metrics.
//
// Returns nil if metrics are not enabled, which causes the resolver to use
// its no-op implementation.
func NewResolverMetrics() resolver.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &resolverMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "operations_total",
				Help:      "Total number of resolver operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "operation_duration_seconds",
				Help:      "Duration of resolver operations in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"operation"},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "resolver",
				Name:      "cache_lookups_total",
				Help:      "Instance cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

func (m *resolverMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *resolverMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
