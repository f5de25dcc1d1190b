package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research run metrics
	ResearchRunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_research_runs_started_total",
			Help: "Total number of deep research runs started",
		},
	)

	ResearchRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_research_runs_completed_total",
			Help: "Total number of deep research runs completed",
		},
		[]string{"status"},
	)

	ResearchIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_research_iterations_per_run",
			Help:    "Explore-exploit iterations executed per run",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// Capability call metrics
	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_capability_calls_total",
			Help: "Total agent service capability calls",
		},
		[]string{"kind", "status"},
	)

	SubTopicsProposed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_subtopics_proposed_total",
			Help: "Total sub-topic candidates returned by exploration",
		},
	)

	SearchGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_search_gaps_total",
			Help: "Total failed search queries recorded as gaps",
		},
	)

	SearchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_search_cache_hits_total",
			Help: "Search results served from the idempotency cache",
		},
	)
)
