// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEventsTotal counts ingestion outcomes per path (message, status, batch).
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook ingestion outcomes",
		},
		[]string{"path", "outcome"},
	)

	// FanoutEventsTotal counts realtime events emitted, by event name and scope.
	FanoutEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_events_total",
			Help: "Realtime events emitted",
		},
		[]string{"event", "scope"},
	)

	// FanoutDroppedTotal counts deliveries dropped because a subscriber buffer was full.
	FanoutDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_dropped_total",
			Help: "Realtime deliveries dropped on full subscriber buffers",
		},
	)

	// WSConnectionsActive tracks open websocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// BackfillFilesTotal counts files handled by the offline backfill.
	BackfillFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backfill_files_total",
			Help: "Envelope files processed by backfill",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordWebhook records one ingestion outcome.
func RecordWebhook(path, outcome string) {
	WebhookEventsTotal.WithLabelValues(path, outcome).Inc()
}

// RecordFanout records one emitted realtime event.
func RecordFanout(event, scope string) {
	FanoutEventsTotal.WithLabelValues(event, scope).Inc()
}

// IncrementWSConnections increments the active websocket connection count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active websocket connection count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}
