package metrics

import (
	"time"

	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// anchoringMetrics is the Prometheus implementation of anchoring.Metrics.
//
// Rejections by the chain rules are counted separately from failures so that
// 409/428 churn from concurrent writers stands out from outages.
type anchoringMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	conflictsTotal    *prometheus.CounterVec
}

// NewAnchoringMetrics creates a Prometheus-backed anchoring.Metrics.
//
// Returns nil if metrics are not enabled, which makes the anchoring
// behaviour use its no-op implementation.
func NewAnchoringMetrics() anchoring.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &anchoringMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "anchoring",
				Name:      "operations_total",
				Help:      "Total number of anchoring operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "anchoring",
				Name:      "operation_duration_seconds",
				Help:      "Duration of anchoring operations in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"operation"},
		),
		conflictsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "anchoring",
				Name:      "conflicts_total",
				Help:      "Appends rejected by the chain rules, by status code",
			},
			[]string{"code"},
		),
	}
}

func (m *anchoringMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())

	switch code := anchoring.StatusOf(err); code {
	case 409:
		m.conflictsTotal.WithLabelValues("409").Inc()
	case 428:
		m.conflictsTotal.WithLabelValues("428").Inc()
	}
}
