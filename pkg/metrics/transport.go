package metrics

import (
	"strconv"
	"time"

	"github.com/marmos91/dittodsu/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// transportMetrics is the Prometheus implementation of transport.Metrics.
type transportMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewTransportMetrics creates a Prometheus-backed transport.Metrics.
//
// Returns nil if metrics are not enabled.
func NewTransportMetrics() transport.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &transportMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "requests_total",
				Help:      "Outgoing HTTP requests by method and status code (0 = transport failure)",
			},
			[]string{"method", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "request_duration_seconds",
				Help:      "Duration of outgoing HTTP requests in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"method"},
		),
	}
}

func (m *transportMetrics) RecordRequest(method string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
