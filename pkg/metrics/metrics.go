// Package metrics exposes Prometheus instrumentation for the scheduler,
// accumulator, and composite evaluator, in the promauto.NewXVec style the
// teacher repository uses for its connection/database metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics (§4.1, §5)
var (
	ItemsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_scheduler_items_completed_total",
			Help: "Total number of symbol items reaching a terminal state, by phase and state",
		},
		[]string{"phase", "state"},
	)

	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailscore_scheduler_phase_duration_seconds",
			Help:    "Wall-clock duration of a scheduling phase",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	CallbackPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_scheduler_callback_panics_total",
			Help: "Total number of symbol callbacks that panicked",
		},
		[]string{"symbol"},
	)

	PassthroughTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_scheduler_passthrough_trips_total",
			Help: "Total number of passthrough short-circuits recorded",
		},
		[]string{"action"},
	)

	OutstandingContinuations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailscore_scheduler_outstanding_continuations",
			Help: "Current number of outstanding async continuations, by shard",
		},
		[]string{"shard"},
	)
)

// Accumulator metrics (§4.2)
var (
	AccumulatorScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailscore_accumulator_score",
			Help:    "Final normalized score by selected action",
			Buckets: []float64{-5, 0, 2, 5, 10, 15, 20, 30, 50, 100},
		},
		[]string{"action"},
	)

	SymbolCapRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_accumulator_symbol_cap_rejections_total",
			Help: "Total number of inserts rejected for exceeding the per-symbol absolute score cap",
		},
		[]string{"symbol"},
	)

	GroupClampedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_accumulator_group_clamped_total",
			Help: "Total number of times a group's contribution was clamped by max/min score",
		},
		[]string{"group"},
	)
)

// Composite evaluator metrics (§4.3)
var (
	CompositeFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_composite_fired_total",
			Help: "Total number of times a composite fired",
		},
		[]string{"composite"},
	)

	CompositeIterationsExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_composite_iterations_exceeded_total",
			Help: "Total number of times composite rewriting hit its iteration cap in a phase",
		},
		[]string{"phase"},
	)

	MapReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscore_map_reloads_total",
			Help: "Total number of hot-reload attempts for a map, by outcome",
		},
		[]string{"map", "outcome"},
	)
)
