// Package worker contains the background delivery loop that drains the issue
// delivery queue. This file exposes its Prometheus instrumentation: outcome
// counters and an attempt-duration histogram, labeled only by outcome to keep
// cardinality bounded.
package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveryAttempts counts resolved send attempts by outcome:
	// delivered, retried, failed_permanently.
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_attempts_total",
			Help: "Total number of resolved newsletter delivery attempts.",
		},
		[]string{"outcome"},
	)

	// deliveryDuration records the wall time of a single send attempt.
	deliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_attempt_duration_seconds",
			Help:    "Duration of individual newsletter send attempts in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// queueClaimed gauges the size of the most recent claimed batch.
	queueClaimed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsletter_delivery_claimed_batch_size",
			Help: "Number of tasks claimed by the most recent worker poll.",
		},
	)
)

func init() {
	prometheus.MustRegister(deliveryAttempts, deliveryDuration, queueClaimed)
}

const (
	outcomeDelivered = "delivered"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed_permanently"
)
