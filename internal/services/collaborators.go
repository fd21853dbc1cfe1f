// Package services – collaborators
//
// Side effects of the core operations go through small interfaces so that
// gamification, notification and realtime delivery stay outside the engine.
// Every call is fire-and-forget: failures are logged and never fail the
// operation that triggered them.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-habit-backend/internal/analytics"
)

// Realtime event names.
const (
	EventRoutinesRefreshed  = "routines.refreshed"
	EventCompletionRecorded = "completion.recorded"
	EventRiskComputed       = "risk.computed"
)

// Publisher delivers a best-effort event to a user's realtime channel.
type Publisher interface {
	Publish(ctx context.Context, userID, event string, data any)
}

// Gamifier awards experience points and streak achievements.
type Gamifier interface {
	AwardXP(ctx context.Context, userID, routineID string, xp int) error
	StreakReached(ctx context.Context, userID, routineID string, streak int) error
}

// Notifier tells a user that a routine is at high risk of being dropped.
type Notifier interface {
	NotifyHighRisk(ctx context.Context, userID string, risk analytics.RoutineRisk) error
}

// Invalidator drops cached analytics of a user.
type Invalidator interface {
	InvalidateUser(userID string) int
}

// AnalyticsCache is the cache contract used by AnalyticsService.
type AnalyticsCache interface {
	Invalidator
	Get(key string) (any, bool)
	Generation(key string) uint64
	SetIfGeneration(key string, v any, gen uint64) bool
}

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// LogGamifier records awards in the application log.
type LogGamifier struct{}

// AwardXP logs the award.
func (LogGamifier) AwardXP(_ context.Context, userID, routineID string, xp int) error {
	log.Info().Str("user_id", userID).Str("routine_id", routineID).Int("xp", xp).Msg("xp awarded")
	return nil
}

// StreakReached logs the achievement.
func (LogGamifier) StreakReached(_ context.Context, userID, routineID string, streak int) error {
	log.Info().Str("user_id", userID).Str("routine_id", routineID).Int("streak", streak).Msg("streak achievement unlocked")
	return nil
}

// LogNotifier records high-risk notifications in the application log.
type LogNotifier struct{}

// NotifyHighRisk logs the notification.
func (LogNotifier) NotifyHighRisk(_ context.Context, userID string, risk analytics.RoutineRisk) error {
	log.Info().
		Str("user_id", userID).
		Str("routine_id", risk.RoutineID).
		Float64("score", risk.Score).
		Msg("high risk notification")
	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, string, string, any) {}

func publish(ctx context.Context, p Publisher, userID, event string, data any) {
	if p == nil {
		return
	}
	p.Publish(ctx, userID, event, data)
}

func invalidate(c Invalidator, userID string) {
	if c == nil {
		return
	}
	c.InvalidateUser(userID)
}
