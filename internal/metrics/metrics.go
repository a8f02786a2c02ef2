// ABOUTME: Prometheus collectors for relay-gateway
// ABOUTME: HTTP traffic, conversation turns, completion outcomes, and event bus fan-out

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Conversation metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total conversation turns appended",
		},
		[]string{"author"}, // "user" or "bot"
	)

	CompletionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_completion_outcomes_total",
			Help: "Completion calls by outcome",
		},
		[]string{"outcome"},
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_completion_duration_seconds",
			Help:    "Completion call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 15, 30},
		},
	)

	// Event bus metrics
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_publish_total",
			Help: "Event deliveries attempted per subscriber",
		},
		[]string{"channel", "result"}, // "delivered", "dropped", or "error"
	)

	BusSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_bus_subscribers",
			Help: "Current event bus subscribers",
		},
		[]string{"channel"},
	)
)
