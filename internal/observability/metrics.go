// Package observability exposes Prometheus metrics of analysis runs.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Benny93/depgraph/internal/resolve"
)

// Metrics definitions
var (
	EdgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depgraph_call_edges_total",
		Help: "Forward call edges recorded, by call kind.",
	}, []string{"kind"})

	UnresolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depgraph_unresolved_entries_total",
		Help: "Call entries that produced no edge, by reason.",
	}, []string{"reason"})

	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "depgraph_resolution_seconds",
		Help:    "Time spent in the resolution pass.",
		Buckets: prometheus.DefBuckets,
	})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "depgraph_phase_seconds",
		Help:    "Time spent in each analysis phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	GraphEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depgraph_graph_entities",
		Help: "Entities in the last analyzed graph.",
	})

	GraphRelations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depgraph_graph_relations",
		Help: "Relations, inverses included, in the last analyzed graph.",
	})

	UncalledSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depgraph_uncalled_symbols",
		Help: "Functions and methods without callers in the last analyzed graph.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depgraph_watcher_events_total",
		Help: "File system events received by the watcher.",
	})

	RebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depgraph_rebuilds_total",
		Help: "Graph rebuilds triggered by the watcher, by result.",
	}, []string{"result"})
)

// RecordPass adds the outcome of one resolution pass.
func RecordPass(report *resolve.Report) {
	if report == nil {
		return
	}
	for kind, n := range report.Edges {
		EdgesTotal.WithLabelValues(kind.String()).Add(float64(n))
	}
	for reason, n := range report.Unresolved {
		UnresolvedTotal.WithLabelValues(string(reason)).Add(float64(n))
	}
	PassDuration.Observe(report.Duration.Seconds())
}

// RecordGraph sets the size gauges.
func RecordGraph(entities, relations, uncalled int) {
	GraphEntities.Set(float64(entities))
	GraphRelations.Set(float64(relations))
	UncalledSymbols.Set(float64(uncalled))
}
