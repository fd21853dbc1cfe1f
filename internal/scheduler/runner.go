// Package scheduler drives the daily seed and close steps from a polling
// loop. The Runner remembers, per process, the last UTC day each step fired
// so a step runs at most once per day regardless of the polling interval.
//
// Only one Runner should be active per database: the steps are idempotent at
// the row level but concurrent runners would duplicate work and log noise.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/services"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_scheduler_runs_total",
			Help: "Daily scheduler step runs by step and outcome.",
		},
		[]string{"step", "outcome"},
	)
	lastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "habit_scheduler_last_run_timestamp_seconds",
			Help: "Unix time of the last successful run of each step.",
		},
		[]string{"step"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal, lastRun)
}

// Steps is the work the runner schedules.
type Steps interface {
	Seed(ctx context.Context, now time.Time) (services.SeedResult, error)
	Close(ctx context.Context, now time.Time) (services.CloseResult, error)
}

// PurgeFunc removes expired housekeeping rows and reports how many.
type PurgeFunc func(ctx context.Context, now time.Time) (int64, error)

// Runner fires Seed once per UTC day at or after SeedHour and Close once per
// UTC day at or after CloseHour.
type Runner struct {
	Steps     Steps
	Interval  time.Duration
	SeedHour  int
	CloseHour int
	Purge     PurgeFunc
	Now       func() time.Time

	mu        sync.Mutex
	lastSeed  string
	lastClose string
}

// TickResult reports which steps fired during a tick.
type TickResult struct {
	Seeded bool
	Closed bool
}

// Tick runs whichever steps are due at now. A failed step stays due and is
// retried on the next tick.
func (r *Runner) Tick(ctx context.Context, now time.Time) TickResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now = now.UTC()
	day := domain.DayKey(now)
	var out TickResult

	if r.lastSeed != day && now.Hour() >= r.SeedHour {
		if _, err := r.Steps.Seed(ctx, now); err != nil {
			runsTotal.WithLabelValues("seed", "error").Inc()
			log.Error().Err(err).Str("day", day).Msg("scheduler: seed failed")
		} else {
			r.lastSeed = day
			out.Seeded = true
			runsTotal.WithLabelValues("seed", "ok").Inc()
			lastRun.WithLabelValues("seed").Set(float64(now.Unix()))
		}
	}

	if r.lastClose != day && now.Hour() >= r.CloseHour {
		if _, err := r.Steps.Close(ctx, now); err != nil {
			runsTotal.WithLabelValues("close", "error").Inc()
			log.Error().Err(err).Str("day", day).Msg("scheduler: close failed")
		} else {
			r.lastClose = day
			out.Closed = true
			runsTotal.WithLabelValues("close", "ok").Inc()
			lastRun.WithLabelValues("close").Set(float64(now.Unix()))
		}
	}

	if r.Purge != nil {
		if n, err := r.Purge(ctx, now); err != nil {
			log.Warn().Err(err).Msg("scheduler: purge failed")
		} else if n > 0 {
			log.Debug().Int64("rows", n).Msg("scheduler: purged expired rows")
		}
	}
	return out
}

// Run ticks immediately and then every Interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}

	log.Info().
		Dur("interval", interval).
		Int("seed_hour", r.SeedHour).
		Int("close_hour", r.CloseHour).
		Msg("daily scheduler started")

	t := time.NewTicker(interval)
	defer t.Stop()

	r.Tick(ctx, now())
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("daily scheduler stopped")
			return nil
		case <-t.C:
			r.Tick(ctx, now())
		}
	}
}
