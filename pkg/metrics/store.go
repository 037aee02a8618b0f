package metrics

import (
	"time"

	"github.com/marmos91/dittodsu/pkg/store/object"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics is the Prometheus implementation of object.Metrics.
//
// It collects, per store name (bricks, versionless) and operation:
//   - Operation counts by status
//   - Operation latency
//   - Bytes read and written
type storeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewStoreMetrics creates a Prometheus-backed object.Metrics.
//
// Returns nil if metrics are not enabled.
func NewStoreMetrics() object.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &storeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of object store operations by store, operation and status",
			},
			[]string{"store", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of object store operations in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"store", "operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "bytes_total",
				Help:      "Total bytes read from or written to object stores",
			},
			[]string{"store", "operation"},
		),
	}
}

func (m *storeMetrics) RecordOperation(store, operation string, duration time.Duration, bytes int, err error) {
	m.operationsTotal.WithLabelValues(store, operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
	if err == nil && bytes > 0 {
		m.bytesTransferred.WithLabelValues(store, operation).Add(float64(bytes))
	}
}
