package metrics

import (
	// Go Internal Packages
	"time"

	// External Packages
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsIngested     *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
	LedgerCalls        *prometheus.CounterVec
	LedgerLatency      *prometheus.HistogramVec
	SweepDuration      prometheus.Histogram
	SweepResolved      *prometheus.CounterVec
	AggregateConflicts prometheus.Counter
	SnapshotsAnchored  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kirana_events_ingested_total",
			Help: "Events accepted by ingest, by kind and whether they were duplicates",
		}, []string{"kind", "duplicate"}),

		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kirana_event_transitions_total",
			Help: "Event status transitions by target status",
		}, []string{"status"}),

		LedgerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kirana_ledger_calls_total",
			Help: "Ledger calls by operation and outcome",
		}, []string{"op", "outcome"}),

		LedgerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kirana_ledger_call_duration_seconds",
			Help:    "Ledger call latency by operation",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),

		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kirana_sweep_duration_seconds",
			Help:    "Duration of a reconciliation sweep",
			Buckets: prometheus.DefBuckets,
		}),

		SweepResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kirana_sweep_resolutions_total",
			Help: "Events handled by the reconciliation sweep, by outcome",
		}, []string{"outcome"}),

		AggregateConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "kirana_aggregate_version_conflicts_total",
			Help: "Stale aggregate writes rejected by the optimistic version check",
		}),

		SnapshotsAnchored: f.NewCounter(prometheus.CounterOpts{
			Name: "kirana_aggregate_snapshots_anchored_total",
			Help: "Credit score snapshots anchored on the ledger",
		}),
	}
}

func (m *Metrics) IncIngested(kind string, duplicate bool) {
	if m != nil {
		dup := "false"
		if duplicate {
			dup = "true"
		}
		m.EventsIngested.WithLabelValues(kind, dup).Inc()
	}
}

func (m *Metrics) IncTransition(status string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(status).Inc()
	}
}

// ObserveLedgerCall records one ledger call and its outcome ("ok", "not_found", "transient", "permanent").
func (m *Metrics) ObserveLedgerCall(op, outcome string, d time.Duration) {
	if m != nil {
		m.LedgerCalls.WithLabelValues(op, outcome).Inc()
		m.LedgerLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncSweepResolved(outcome string) {
	if m != nil {
		m.SweepResolved.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncAggregateConflict() {
	if m != nil {
		m.AggregateConflicts.Inc()
	}
}

func (m *Metrics) IncSnapshotAnchored() {
	if m != nil {
		m.SnapshotsAnchored.Inc()
	}
}
