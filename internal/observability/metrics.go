package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// monitor pipeline.
type Metrics struct {
	PollCycles         prometheus.Counter
	FetchErrors        prometheus.Counter
	IncidentsProcessed prometheus.Counter
	MonitorRunning     prometheus.Gauge
	CycleDuration      prometheus.Histogram
	TrackedEntities    prometheus.Gauge
	SnapshotsSaved     prometheus.Counter
	ChangesPublished   prometheus.Counter

	// Location resolution metrics.
	ResolveOutcomes *prometheus.CounterVec // labels: strategy={suburb,municipality,parts,geocode,nearest,unknown}
	GeocodeRequests *prometheus.CounterVec // labels: outcome={success,empty,error}
	GeocodeCache    *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeEnabled  prometheus.Gauge

	// Change classification metrics.
	ChangeClassifications *prometheus.CounterVec // labels: change={NEW,ESCALATED,DE-ESCALATED,RESOLVED,NO CHANGE}
}

// NewMetrics creates and registers all monitor metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.PollCycles,
		m.FetchErrors,
		m.IncidentsProcessed,
		m.MonitorRunning,
		m.CycleDuration,
		m.TrackedEntities,
		m.SnapshotsSaved,
		m.ChangesPublished,
		m.ResolveOutcomes,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeEnabled,
		m.ChangeClassifications,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "fetch_errors_total",
			Help:      "Upstream fetch failures that degraded to an empty batch.",
		}),
		IncidentsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "incidents_processed_total",
			Help:      "Incident records resolved and classified.",
		}),
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vicmon",
			Name:      "monitor_running",
			Help:      "1 while the poll loop is active, 0 when shut down.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vicmon",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full fetch-resolve-classify-persist cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		TrackedEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vicmon",
			Name:      "tracked_entities",
			Help:      "Entities currently held in the state store.",
		}),
		SnapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "snapshots_saved_total",
			Help:      "Snapshots appended to the history file.",
		}),
		ChangesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "changes_published_total",
			Help:      "Change records published to the Kafka sink.",
		}),
		ResolveOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "resolve_outcomes_total",
			Help:      "Postcode resolutions by winning strategy.",
		}, []string{"strategy"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "geocode_requests_total",
			Help:      "Reverse geocoding requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "geocode_cache_total",
			Help:      "Reverse geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vicmon",
			Name:      "geocode_enabled",
			Help:      "1 when the reverse geocoding fallback is configured, 0 otherwise.",
		}),
		ChangeClassifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vicmon",
			Name:      "change_classifications_total",
			Help:      "Status change classifications by type.",
		}, []string{"change"}),
	}
}
