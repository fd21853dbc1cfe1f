package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// completionsTotal counts resolved logs by final state and source.
	completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_completions_total",
			Help: "Completion logs resolved, by state and source.",
		},
		[]string{"state", "source"},
	)

	// schedulerItems counts per-item outcomes of the seed and close steps.
	schedulerItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_scheduler_items_total",
			Help: "Items processed by the daily scheduler, by step and outcome.",
		},
		[]string{"step", "outcome"},
	)

	// sideEffectFailures counts swallowed collaborator errors.
	sideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_side_effect_failures_total",
			Help: "Gamification and notification calls that failed.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(completionsTotal, schedulerItems, sideEffectFailures)
}
