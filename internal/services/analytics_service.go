// Package services – AnalyticsService
//
// This file implements AnalyticsService, which loads a user's routines and
// logs, runs the pure analytics functions and serves results through the
// analytics cache. High-risk routines trigger a notification when a snapshot
// is freshly computed.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/analytics"
	"github.com/tbourn/go-habit-backend/internal/cache"
	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/repo"
)

// Cache operation names.
const (
	opRisk    = "risk"
	opHeatmap = "heatmap"
	opSummary = "summary"
)

// AnalyticsService computes risk, heatmap and summary reads.
type AnalyticsService struct {
	DB       *gorm.DB
	Cache    AnalyticsCache
	Events   Publisher
	Notifier Notifier
	Now      Clock
}

func (s *AnalyticsService) tracer() trace.Tracer { return otel.Tracer("services/AnalyticsService") }

// Risk returns the risk snapshot of the user's active routines.
func (s *AnalyticsService) Risk(ctx context.Context, userID string, window int) (analytics.RiskSnapshot, error) {
	window = analytics.ClampRiskWindow(window)
	ctx, span := s.tracer().Start(ctx, "Risk", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("window", window),
	))
	defer span.End()

	snap, fresh, err := cached(s.Cache, cache.Key(userID, opRisk, window), func() (analytics.RiskSnapshot, error) {
		today := s.Now.now()
		routines, logs, err := s.load(ctx, userID, today, window, domain.StatusActive)
		if err != nil {
			return analytics.RiskSnapshot{}, err
		}
		return analytics.ComputeRisk(routines, logs, today, window), nil
	})
	if err != nil {
		return snap, err
	}
	span.SetAttributes(attribute.Bool("cache.hit", !fresh))
	if fresh {
		s.notifyHighRisk(ctx, userID, snap)
		publish(ctx, s.Events, userID, EventRiskComputed, map[string]any{
			"window":   snap.Window,
			"as_of":    snap.AsOf,
			"routines": len(snap.Routines),
		})
	}
	return snap, nil
}

// Heatmap returns the weekday-by-hour completion heatmap.
func (s *AnalyticsService) Heatmap(ctx context.Context, userID string, window int) (analytics.Heatmap, error) {
	window = analytics.ClampWindow(window)
	ctx, span := s.tracer().Start(ctx, "Heatmap", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("window", window),
	))
	defer span.End()

	hm, fresh, err := cached(s.Cache, cache.Key(userID, opHeatmap, window), func() (analytics.Heatmap, error) {
		today := s.Now.now()
		routines, logs, err := s.load(ctx, userID, today, window)
		if err != nil {
			return analytics.Heatmap{}, err
		}
		return analytics.BuildHeatmap(routines, logs, today, window), nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", !fresh))
	return hm, err
}

// Summary returns per-routine state counts over the window.
func (s *AnalyticsService) Summary(ctx context.Context, userID string, window int) (analytics.Summary, error) {
	window = analytics.ClampWindow(window)
	ctx, span := s.tracer().Start(ctx, "Summary", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("window", window),
	))
	defer span.End()

	sum, fresh, err := cached(s.Cache, cache.Key(userID, opSummary, window), func() (analytics.Summary, error) {
		today := s.Now.now()
		routines, logs, err := s.load(ctx, userID, today, window, domain.StatusActive, domain.StatusPaused)
		if err != nil {
			return analytics.Summary{}, err
		}
		return analytics.Summarize(routines, logs, today, window), nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", !fresh))
	return sum, err
}

// load fetches routines with the given statuses (all when empty) and the
// user's logs inside the window ending today.
func (s *AnalyticsService) load(ctx context.Context, userID string, today time.Time, window int, statuses ...domain.RoutineStatus) ([]domain.Routine, []domain.CompletionLog, error) {
	routines, err := repo.ListRoutines(ctx, s.DB, userID, statuses...)
	if err != nil {
		return nil, nil, err
	}
	from, to := analytics.WindowRange(today, window)
	logs, err := repo.ListLogsInRange(ctx, s.DB, userID, from, to)
	if err != nil {
		return nil, nil, err
	}
	return routines, logs, nil
}

func (s *AnalyticsService) notifyHighRisk(ctx context.Context, userID string, snap analytics.RiskSnapshot) {
	if s.Notifier == nil {
		return
	}
	for _, r := range snap.Routines {
		if r.Level != analytics.RiskHigh {
			continue
		}
		if err := s.Notifier.NotifyHighRisk(ctx, userID, r); err != nil {
			sideEffectFailures.WithLabelValues("notify").Inc()
			log.Warn().Err(err).Str("user_id", userID).Str("routine_id", r.RoutineID).Msg("high risk notification")
		}
	}
}

// cached returns the value under key, computing and storing it on a miss.
// fresh reports whether compute ran. An entry of the wrong type is treated
// as a miss. A result is not stored if the user was invalidated while it was
// being computed.
func cached[T any](c AnalyticsCache, key string, compute func() (T, error)) (v T, fresh bool, err error) {
	var gen uint64
	if c != nil {
		if hit, ok := c.Get(key); ok {
			if tv, ok := hit.(T); ok {
				return tv, false, nil
			}
		}
		gen = c.Generation(key)
	}
	v, err = compute()
	if err != nil {
		return v, true, err
	}
	if c != nil {
		c.SetIfGeneration(key, v, gen)
	}
	return v, true, nil
}
