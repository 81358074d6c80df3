// Package metrics holds the Prometheus collectors for the delivery and
// retention pipeline. Collectors register on the default registry and are
// served by the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_attempts_total",
			Help: "Delivery attempts per channel and outcome",
		},
		[]string{"channel", "outcome"}, // outcome: success, transient, terminal
	)

	SubscriptionsDeactivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_subscriptions_deactivated_total",
			Help: "Subscriptions moved to inactive, by reason",
		},
		[]string{"reason"},
	)

	ProviderBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_provider_batch_duration_seconds",
			Help:    "Duration of provider batch sends",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	BulkRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notification_bulk_recipients",
			Help:    "Number of user IDs per bulk send",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	SegmentQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_queries_total",
			Help: "Segment store queries by logic and result",
		},
		[]string{"logic", "result"},
	)

	AnalyticsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_analytics_dropped_total",
			Help: "Analytics events dropped because the write queue was full",
		},
	)

	CleanupItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_cleanup_items_total",
			Help: "Documents deleted or updated by retention sweeps",
		},
		[]string{"step", "action"},
	)

	CleanupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_cleanup_runs_total",
			Help: "Retention sweeps by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	CleanupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_cleanup_duration_seconds",
			Help:    "Wall-clock duration of full retention sweeps",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 540},
		},
	)

	CleanupSuccessRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retention_cleanup_success_rate",
			Help: "Success rate over the most recent health-check window",
		},
	)

	ScheduledDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_notifications_dispatched_total",
			Help: "Scheduled notifications processed, by final status",
		},
		[]string{"status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
