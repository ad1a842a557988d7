// Package metrics holds the Prometheus collectors shared by the detection
// pipeline. Collectors register on the default registry at init.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheLookups counts cache lookups by cache name and result (hit/miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_cache_lookups_total",
		Help: "Feature cache lookups by cache and result",
	}, []string{"cache", "result"})

	// CacheInvalidations counts explicit invalidations by cache name.
	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_cache_invalidations_total",
		Help: "Explicit cache invalidations by cache",
	}, []string{"cache"})

	// ExtractionDegraded counts feature families that fell back to defaults.
	ExtractionDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_extraction_degraded_total",
		Help: "Feature families degraded to neutral defaults by family",
	}, []string{"family"})

	// Runs counts detection runs by kind (batch, on_demand, realtime) and result.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_runs_total",
		Help: "Detection runs by kind and result",
	}, []string{"kind", "result"})

	// RunDuration tracks detection run latency by kind.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "foresight_run_duration_seconds",
		Help:    "Detection run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
	}, []string{"kind"})

	// Predictions counts persisted predictions by model.
	Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_predictions_total",
		Help: "Persisted struggle predictions by model",
	}, []string{"model"})

	// SkippedUnits counts (learner, objective) units skipped after a failure.
	SkippedUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_skipped_units_total",
		Help: "Work units skipped after a failure by stage",
	}, []string{"stage"})

	// PersistRetries counts persistence retries by outcome.
	PersistRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_persist_retries_total",
		Help: "Persistence write retries by outcome",
	}, []string{"outcome"})

	// Alerts counts emitted alerts by source and severity.
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_alerts_total",
		Help: "Emitted alerts by source and severity",
	}, []string{"source", "severity"})

	// RateLimited counts rejected on-demand runs.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foresight_on_demand_rejected_total",
		Help: "On-demand runs rejected by the daily quota",
	})

	// ModelScore exposes the tracker's latest metrics by name.
	ModelScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "foresight_model_score",
		Help: "Latest accuracy tracker metrics by name",
	}, []string{"metric"})

	// Retrains counts retrain attempts by result (deployed, kept, skipped).
	Retrains = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foresight_retrains_total",
		Help: "Classifier retrain attempts by result",
	}, []string{"result"})

	// Archived counts predictions moved to cold storage.
	Archived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foresight_archived_predictions_total",
		Help: "Predictions moved from the hot store to the archive",
	})
)

// Handler returns the HTTP handler that serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
