// Package metrics exposes ricochet's Prometheus series, registered through
// promauto the way fleetd's own services do.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Injector metrics
	InjectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ricochet_injections_total",
			Help: "Total number of injection attempts",
		},
		[]string{"vector", "dry_run", "outcome"},
	)

	InjectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ricochet_injection_duration_seconds",
			Help:    "Time to substitute, mutate, record, and transmit a single injection",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"vector"},
	)

	RateLimiterWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ricochet_rate_limiter_wait_seconds",
			Help:    "Time spent blocked acquiring a rate limiter token",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"limiter"},
	)

	// Callback server metrics
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ricochet_callbacks_total",
			Help: "Total number of callbacks received, by protocol and whether the correlation id was known",
		},
		[]string{"protocol", "known"},
	)

	CallbackHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ricochet_callback_handle_duration_seconds",
			Help:    "Time to extract the correlation id and record a callback",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	// Store metrics
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ricochet_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "outcome"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ricochet_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ricochet_store_connections_active",
			Help: "Number of active store connections",
		},
	)

	// Correlator / poller metrics
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ricochet_findings_total",
			Help: "Total number of findings surfaced, by severity",
		},
		[]string{"severity"},
	)

	PollIntervalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ricochet_poll_interval_seconds",
			Help: "Current adaptive polling interval",
		},
	)

	PollQuietStreak = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ricochet_poll_quiet_streak",
			Help: "Number of consecutive poll iterations with no new findings",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ricochet_errors_total",
			Help: "Total number of errors by component and code",
		},
		[]string{"component", "code"},
	)
)

// RecordInjection records an injection attempt's outcome and latency.
func RecordInjection(vector string, dryRun bool, outcome string, duration float64) {
	InjectionsTotal.WithLabelValues(vector, boolLabel(dryRun), outcome).Inc()
	InjectionDuration.WithLabelValues(vector).Observe(duration)
}

// RecordCallback records a received callback, known or not.
func RecordCallback(protocol string, known bool, duration float64) {
	CallbacksTotal.WithLabelValues(protocol, boolLabel(known)).Inc()
	CallbackHandleDuration.WithLabelValues(protocol).Observe(duration)
}

// RecordStoreOperation records a store call's outcome and latency.
func RecordStoreOperation(operation, outcome string, duration float64) {
	StoreOperationsTotal.WithLabelValues(operation, outcome).Inc()
	StoreOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records an error by owning component and ferrors code.
func RecordError(component, code string) {
	ErrorsTotal.WithLabelValues(component, code).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
