package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Proxy metrics for production monitoring
var (
	// HTTP surface metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openbridge_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"path", "method", "status"},
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "openbridge_request_latency_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"path", "method"},
	)

	// Upstream metrics
	UpstreamRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openbridge_upstream_retries_total",
			Help: "Total number of upstream retries",
		},
		[]string{"reason"}, // reason: transport/status/degrade/empty
	)

	// Streaming metrics
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openbridge_streams_active",
			Help: "Number of SSE response streams currently open",
		},
	)
)
