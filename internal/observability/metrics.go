package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_alert"

// Metrics holds the Prometheus counters, histograms, and gauges for the dispatch pipeline.
type Metrics struct {
	MessagesConsumed    prometheus.Counter
	DeliveriesPublished prometheus.Counter
	MalformedEvents     prometheus.Counter
	DuplicateEvents     prometheus.Counter
	PassFailures        *prometheus.CounterVec // labels: stage={intake,profiles,dispatch,publish,complete}
	PipelineRunning     prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
	PassDuration            prometheus.Histogram

	// Matching metrics.
	ProfilesEvaluated prometheus.Counter
	ProfilesMatched   prometheus.Counter
	MalformedProfiles *prometheus.CounterVec // labels: reason={sources,magnitude,location}

	// Dispatch metrics.
	DispatchSuppressed  prometheus.Counter
	DispatchClaimErrors prometheus.Counter

	// Dedup cache and store metrics.
	DedupCache    *prometheus.CounterVec   // labels: result={hit,miss}
	StoreDuration *prometheus.HistogramVec // labels: operation
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the seismic event topic.",
		}),
		DeliveriesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_published_total",
			Help:      "Total delivery requests written to the delivery topic.",
		}),
		MalformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Events skipped because a required field was missing or invalid.",
		}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Events skipped because their pass already completed.",
		}),
		PassFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_failures_total",
			Help:      "Dispatch passes that failed closed, by stage.",
		}, []string{"stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of one dispatch pass from intake to publish.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		ProfilesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_evaluated_total",
			Help:      "Active profiles evaluated against events.",
		}),
		ProfilesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_matched_total",
			Help:      "Profiles that matched an event.",
		}),
		MalformedProfiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_profiles_total",
			Help:      "Profiles treated as non-matching because a stored filter was invalid.",
		}, []string{"reason"}),
		DispatchSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_suppressed_total",
			Help:      "Deliveries skipped because a dispatch record already existed.",
		}),
		DispatchClaimErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_claim_errors_total",
			Help:      "Per-user dispatch record claims that failed.",
		}),
		DedupCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_cache_total",
			Help:      "Completed-event cache lookups by result.",
		}, []string{"result"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Profile store and ledger call duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3},
		}, []string{"operation"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesConsumed,
		m.DeliveriesPublished,
		m.MalformedEvents,
		m.DuplicateEvents,
		m.PassFailures,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.PassDuration,
		m.ProfilesEvaluated,
		m.ProfilesMatched,
		m.MalformedProfiles,
		m.DispatchSuppressed,
		m.DispatchClaimErrors,
		m.DedupCache,
		m.StoreDuration,
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered with a fresh registry to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}
