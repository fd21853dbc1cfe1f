// Package services – DailyScheduler
//
// This file implements the two daily batch steps. Seed creates a pending log
// for every active routine planned on the day; Close resolves whatever is
// still pending as missed and applies the decay-protection rule to the owning
// routine. Both are pure functions of the supplied time: callers decide when
// to run them. A failing item is logged and counted, never surfaced.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/repo"
)

// SeedResult summarizes a seed run.
type SeedResult struct {
	Day      string `json:"day"`
	Skipped  bool   `json:"skipped"`
	Created  int    `json:"created"`
	Existing int    `json:"existing"`
	Failed   int    `json:"failed"`
}

// CloseResult summarizes a close run.
type CloseResult struct {
	Day      string `json:"day"`
	Missed   int    `json:"missed"`
	Forgiven int    `json:"forgiven"`
	Reset    int    `json:"reset"`
	Failed   int    `json:"failed"`
}

// DailyScheduler runs the seed and close steps.
type DailyScheduler struct {
	DB     *gorm.DB
	Cache  Invalidator
	Policy domain.ProtectionPolicy
}

func (s *DailyScheduler) tracer() trace.Tracer { return otel.Tracer("services/DailyScheduler") }

// Seed creates pending logs for the UTC day of now. The run is skipped when
// the day already carries a system-seeded log. Once started, a run is not
// stopped by cancellation of ctx.
func (s *DailyScheduler) Seed(ctx context.Context, now time.Time) (SeedResult, error) {
	ctx = context.WithoutCancel(ctx)
	day := domain.DayKey(now)
	ctx, span := s.tracer().Start(ctx, "Seed", trace.WithAttributes(attribute.String("day", day)))
	defer span.End()

	res := SeedResult{Day: day}
	seeded, err := repo.HasSystemLogForDay(ctx, s.DB, day)
	if err != nil {
		return res, err
	}
	if seeded {
		res.Skipped = true
		log.Debug().Str("day", day).Msg("seed: day already seeded")
		return res, nil
	}

	routines, err := repo.ListActiveRoutines(ctx, s.DB)
	if err != nil {
		return res, err
	}
	date := domain.StartOfDay(now)
	touched := map[string]struct{}{}
	for _, r := range routines {
		if !r.PlannedOn(date) {
			continue
		}
		l := &domain.CompletionLog{
			UserID:    r.UserID,
			RoutineID: r.ID,
			Day:       day,
			State:     domain.LogPending,
			Source:    domain.SourceSystem,
		}
		switch err := repo.CreateLog(ctx, s.DB, l); {
		case err == nil:
			res.Created++
			touched[r.UserID] = struct{}{}
			schedulerItems.WithLabelValues("seed", "created").Inc()
		case errors.Is(err, repo.ErrDuplicate):
			res.Existing++
			schedulerItems.WithLabelValues("seed", "existing").Inc()
		default:
			res.Failed++
			schedulerItems.WithLabelValues("seed", "failed").Inc()
			log.Error().Err(err).Str("day", day).Str("routine_id", r.ID).Msg("seed: create log")
		}
	}
	for uid := range touched {
		invalidate(s.Cache, uid)
	}
	span.SetAttributes(attribute.Int("created", res.Created), attribute.Int("failed", res.Failed))
	log.Info().
		Str("day", day).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Int("failed", res.Failed).
		Msg("seed complete")
	return res, nil
}

// Close marks every pending log of the UTC day of now as missed, one
// transaction per log, in (user, routine) order. Like Seed, it runs to the
// end once started.
func (s *DailyScheduler) Close(ctx context.Context, now time.Time) (CloseResult, error) {
	ctx = context.WithoutCancel(ctx)
	day := domain.DayKey(now)
	ctx, span := s.tracer().Start(ctx, "Close", trace.WithAttributes(attribute.String("day", day)))
	defer span.End()

	res := CloseResult{Day: day}
	pending, err := repo.ListPendingLogs(ctx, s.DB, day)
	if err != nil {
		return res, err
	}
	resolvedAt := now.UTC()
	for i := range pending {
		l := pending[i]
		var forgiven bool
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			r, err := repo.GetRoutineByID(ctx, tx, l.RoutineID)
			if err != nil {
				return err
			}
			forgiven = s.Policy.ApplyMiss(r)
			l.State = domain.LogMissed
			l.Source = domain.SourceSystem
			l.StreakAfter = r.CurrentStreak
			l.CompletedAt = &resolvedAt
			if err := repo.SaveLog(ctx, tx, &l); err != nil {
				return err
			}
			return repo.SaveRoutine(ctx, tx, r)
		})
		if err != nil {
			res.Failed++
			schedulerItems.WithLabelValues("close", "failed").Inc()
			log.Error().Err(err).Str("day", day).Str("log_id", l.ID).Msg("close: resolve log")
			continue
		}
		res.Missed++
		if forgiven {
			res.Forgiven++
			schedulerItems.WithLabelValues("close", "forgiven").Inc()
		} else {
			res.Reset++
			schedulerItems.WithLabelValues("close", "reset").Inc()
		}
		completionsTotal.WithLabelValues(string(domain.LogMissed), string(domain.SourceSystem)).Inc()
		invalidate(s.Cache, l.UserID)
	}
	span.SetAttributes(attribute.Int("missed", res.Missed), attribute.Int("failed", res.Failed))
	log.Info().
		Str("day", day).
		Int("missed", res.Missed).
		Int("forgiven", res.Forgiven).
		Int("failed", res.Failed).
		Msg("close complete")
	return res, nil
}
