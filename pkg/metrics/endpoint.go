package metrics

import (
	"strconv"
	"time"

	"github.com/marmos91/dittodsu/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// endpointMetrics is the Prometheus implementation of server.Metrics.
type endpointMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewEndpointMetrics creates a Prometheus-backed server.Metrics for the
// anchoring, bricking and versionless endpoints.
//
// Returns nil if metrics are not enabled.
func NewEndpointMetrics() server.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &endpointMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "endpoint",
				Name:      "requests_total",
				Help:      "Served requests by route and status code",
			},
			[]string{"route", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "endpoint",
				Name:      "request_duration_seconds",
				Help:      "Duration of served requests in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"route"},
		),
	}
}

func (m *endpointMetrics) RecordRequest(route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
