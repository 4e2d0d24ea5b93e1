// Package metrics provides Prometheus metrics for the acquisition pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jellyfetch"

var (
	// QueueSize tracks the number of items per state.
	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Number of media items currently in each state",
		},
		[]string{"state"},
	)

	// TransitionsTotal counts state transitions.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of media item state transitions",
		},
		[]string{"from", "to"},
	)

	// ScraperResults counts raw results returned per adapter.
	ScraperResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraper_results_total",
			Help:      "Total number of results returned by each scraper adapter",
		},
		[]string{"scraper"},
	)

	// ScraperFailures counts adapter errors and timeouts.
	ScraperFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scraper_failures_total",
			Help:      "Total number of failed or timed out scraper calls",
		},
		[]string{"scraper"},
	)

	// DebridOperations counts provider calls by operation and result.
	DebridOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debrid_operations_total",
			Help:      "Total number of debrid provider operations",
		},
		[]string{"operation", "result"},
	)

	// VerificationOutcomes counts verification results.
	VerificationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_outcomes_total",
			Help:      "Total number of verification outcomes",
		},
		[]string{"kind", "outcome"},
	)

	// TickDuration tracks scheduler tick duration per job.
	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"job"},
	)

	// OverUsage is 1 while the rate limiter reports over-usage.
	OverUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "over_usage",
			Help:      "Rate limiter over-usage flag (1=over usage)",
		},
	)

	// Degraded is 1 while the pipeline refuses to issue work.
	Degraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "Pipeline degraded status (1=degraded)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		TransitionsTotal,
		ScraperResults,
		ScraperFailures,
		DebridOperations,
		VerificationOutcomes,
		TickDuration,
		OverUsage,
		Degraded,
	)
}

// RecordTransition records a state transition.
func RecordTransition(from, to string) {
	TransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetQueueSize sets the size of one queue.
func SetQueueSize(state string, count int64) {
	QueueSize.WithLabelValues(state).Set(float64(count))
}

// RecordScrape records the outcome of one adapter call.
func RecordScrape(scraper string, results int, err error) {
	if err != nil {
		ScraperFailures.WithLabelValues(scraper).Inc()
		return
	}
	ScraperResults.WithLabelValues(scraper).Add(float64(results))
}

// RecordDebrid records a provider call.
func RecordDebrid(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	DebridOperations.WithLabelValues(operation, result).Inc()
}

// RecordVerification records a verification outcome.
func RecordVerification(kind, outcome string) {
	VerificationOutcomes.WithLabelValues(kind, outcome).Inc()
}

// RecordTick records how long a scheduler job ran.
func RecordTick(job string, seconds float64) {
	TickDuration.WithLabelValues(job).Observe(seconds)
}

// SetOverUsage mirrors the rate limiter flag.
func SetOverUsage(over bool) {
	OverUsage.Set(boolToFloat(over))
}

// SetDegraded mirrors the degraded status.
func SetDegraded(degraded bool) {
	Degraded.Set(boolToFloat(degraded))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
