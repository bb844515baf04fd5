package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "odds_aggregator"

// Metrics holds every Prometheus collector the service exports
type Metrics struct {
	RecordsApplied        prometheus.Counter
	NormalizationFailures *prometheus.CounterVec // by field
	StaleWrites           prometheus.Counter
	ExpiredRecords        prometheus.Counter
	Commits               prometheus.Counter
	CommitConflicts       prometheus.Counter
	DiffsPublished        prometheus.Counter
	DiffSize              prometheus.Histogram
	SelectionsExpired     prometheus.Counter
	ActiveSubscribers     prometheus.Gauge
	EvictedSubscribers    prometheus.Counter
	ResolveMisses         prometheus.Counter
	Opportunities         *prometheus.GaugeVec // by feed
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_applied_total",
			Help:      "Raw quote records merged into a snapshot.",
		}),
		NormalizationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalization_failures_total",
			Help:      "Raw quote records dropped as malformed.",
		}, []string{"field"}),
		StaleWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_writes_total",
			Help:      "Raw quote records ignored because a newer quote was stored.",
		}),
		ExpiredRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_records_total",
			Help:      "Raw quote records skipped because their event has started.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_commits_total",
			Help:      "Snapshot versions committed.",
		}),
		CommitConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_commit_conflicts_total",
			Help:      "Commits retried after a concurrent writer won.",
		}),
		DiffsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diffs_published_total",
			Help:      "Non-empty diff messages published.",
		}),
		DiffSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diff_size_sids",
			Help:      "Number of sids carried by a published diff.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		SelectionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_expired_total",
			Help:      "Selections removed by the expiry sweep.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_subscribers",
			Help:      "Connected push channel subscribers.",
		}),
		EvictedSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_evicted_subscribers_total",
			Help:      "Subscribers dropped because their send queue was full.",
		}),
		ResolveMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_misses_total",
			Help:      "Requested sids that no longer exist.",
		}),
		Opportunities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "opportunities_found",
			Help:      "Opportunities found by the last evaluation.",
		}, []string{"feed"}),
	}

	reg.MustRegister(
		m.RecordsApplied,
		m.NormalizationFailures,
		m.StaleWrites,
		m.ExpiredRecords,
		m.Commits,
		m.CommitConflicts,
		m.DiffsPublished,
		m.DiffSize,
		m.SelectionsExpired,
		m.ActiveSubscribers,
		m.EvictedSubscribers,
		m.ResolveMisses,
		m.Opportunities,
	)

	return m
}

// NewNop returns collectors registered nowhere, for tests and tools
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
