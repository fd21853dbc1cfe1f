// Package services – CompletionService
//
// This file implements CompletionService, which resolves a routine's log for a
// day from a user action (done or skip) or from an external session trigger.
// Log and routine are persisted in one transaction; gamification, realtime
// events and cache invalidation follow the commit.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/repo"
)

// Action is a user completion action.
type Action string

const (
	ActionDone Action = "done"
	ActionSkip Action = "skip"
)

// streakMilestones are the streak lengths that unlock an achievement.
var streakMilestones = map[int]struct{}{3: {}, 7: {}, 14: {}, 30: {}, 60: {}, 100: {}}

// CompletionResult is the outcome of a resolved log.
type CompletionResult struct {
	Log     domain.CompletionLog `json:"log"`
	Routine domain.Routine       `json:"routine"`
	XP      int                  `json:"xp"`

	// advanced is set when the completion moved the routine's live streak.
	advanced bool
}

// CompletionService resolves daily logs.
type CompletionService struct {
	DB       *gorm.DB
	Cache    Invalidator
	Events   Publisher
	Gamifier Gamifier
	Policy   domain.ProtectionPolicy
	XPBase   int
	Now      Clock
}

func (s *CompletionService) tracer() trace.Tracer {
	return otel.Tracer("services/CompletionService")
}

// Mark resolves routineID's log on date (today when empty) with action.
func (s *CompletionService) Mark(ctx context.Context, userID, routineID, date string, action Action) (*CompletionResult, error) {
	ctx, span := s.tracer().Start(ctx, "Mark", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("routine.id", routineID),
		attribute.String("action", string(action)),
	))
	defer span.End()

	if action != ActionDone && action != ActionSkip {
		return nil, ErrInvalidAction
	}
	now := s.Now.now()
	day, err := s.resolveDay(date, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("day", day))

	var res *CompletionResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, l, err := s.openLog(ctx, tx, userID, routineID, day, domain.SourceUser)
		if err != nil {
			return err
		}
		l.Source = domain.SourceUser
		l.CompletedAt = &now

		if action == ActionSkip {
			l.State = domain.LogSkipped
			l.StreakAfter = r.CurrentStreak
			if err := repo.SaveLog(ctx, tx, l); err != nil {
				return err
			}
			res = &CompletionResult{Log: *l, Routine: *r}
			return nil
		}

		lateness, err := domain.LatenessMinutes(*r, day, now)
		if err != nil {
			return err
		}
		l.LatenessMinutes = lateness
		l.State = domain.CompletionState(lateness, r.ToleranceMinutes)
		advanced, err := s.resolveSuccess(ctx, tx, r, l)
		if err != nil {
			return err
		}
		res = &CompletionResult{Log: *l, Routine: *r, advanced: advanced}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, userID, res)
	return res, nil
}

// RecordSession auto-completes routineID for the day of at when the routine
// opts in and minutes reaches its minimum.
func (s *CompletionService) RecordSession(ctx context.Context, userID, routineID string, minutes int, at time.Time) (*CompletionResult, error) {
	ctx, span := s.tracer().Start(ctx, "RecordSession", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("routine.id", routineID),
		attribute.Int("minutes", minutes),
	))
	defer span.End()

	now := s.Now.now()
	if at.IsZero() {
		at = now
	}
	at = at.UTC()
	if at.After(now) {
		return nil, fmt.Errorf("%w: session ends in the future", ErrInvalidDate)
	}
	day := domain.DayKey(at)

	var res *CompletionResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.activeRoutine(ctx, tx, userID, routineID)
		if err != nil {
			return err
		}
		if !r.AutoCompleteOnSession || minutes < r.MinSessionMinutes || minutes <= 0 {
			return ErrSessionNotEligible
		}
		_, l, err := s.openLog(ctx, tx, userID, routineID, day, domain.SourceSessionHook)
		if err != nil {
			return err
		}
		lateness, err := domain.LatenessMinutes(*r, day, at)
		if err != nil {
			return err
		}
		l.State = domain.LogAuto
		l.AutoCaptured = true
		l.Source = domain.SourceSessionHook
		l.SessionMinutes = minutes
		l.LatenessMinutes = lateness
		l.CompletedAt = &at
		advanced, err := s.resolveSuccess(ctx, tx, r, l)
		if err != nil {
			return err
		}
		res = &CompletionResult{Log: *l, Routine: *r, advanced: advanced}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, userID, res)
	return res, nil
}

func (s *CompletionService) resolveDay(date string, now time.Time) (string, error) {
	today := domain.DayKey(now)
	if date == "" {
		return today, nil
	}
	d, err := domain.ParseDay(date)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	day := domain.DayKey(d)
	if day > today {
		return "", fmt.Errorf("%w: %s is in the future", ErrInvalidDate, day)
	}
	return day, nil
}

func (s *CompletionService) activeRoutine(ctx context.Context, tx *gorm.DB, userID, routineID string) (*domain.Routine, error) {
	r, err := repo.GetRoutine(ctx, tx, routineID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRoutineNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Status != domain.StatusActive {
		return nil, ErrRoutineInactive
	}
	return r, nil
}

// openLog loads the active routine and its open log for day.
func (s *CompletionService) openLog(ctx context.Context, tx *gorm.DB, userID, routineID, day string, src domain.LogSource) (*domain.Routine, *domain.CompletionLog, error) {
	r, err := s.activeRoutine(ctx, tx, userID, routineID)
	if err != nil {
		return nil, nil, err
	}
	l, err := repo.FindOrCreateLog(ctx, tx, userID, routineID, day, src)
	if err != nil {
		return nil, nil, err
	}
	if l.State.Terminal() {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrLogResolved, day, l.State)
	}
	return r, l, nil
}

// resolveSuccess advances the streak from yesterday's log, snapshots the
// resistance on l and saves both rows. A day older than the routine's last
// logged day is a backfill: the log gets its own streak snapshot and the
// routine's live metrics are left untouched.
func (s *CompletionService) resolveSuccess(ctx context.Context, tx *gorm.DB, r *domain.Routine, l *domain.CompletionLog) (advanced bool, err error) {
	prev, err := domain.PrevDay(l.Day)
	if err != nil {
		return false, err
	}
	prevSucceeded, prevStreak := false, 0
	yl, err := repo.GetLog(ctx, tx, r.UserID, r.ID, prev)
	switch {
	case err == nil:
		prevSucceeded, prevStreak = yl.State.Success(), yl.StreakAfter
	case !errors.Is(err, repo.ErrNotFound):
		return false, err
	}

	advanced = r.LastLoggedDate == nil || l.Day >= *r.LastLoggedDate
	if advanced {
		s.Policy.ApplySuccess(r, prevSucceeded)
		l.StreakAfter = r.CurrentStreak
		day := l.Day
		r.LastLoggedDate = &day
	} else {
		l.StreakAfter = domain.NextStreak(prevStreak, prevSucceeded)
	}
	l.ResistanceScore = domain.ResistanceScore(r.Difficulty, l.StreakAfter)

	if err := repo.SaveLog(ctx, tx, l); err != nil {
		return false, err
	}
	if !advanced {
		return false, nil
	}
	return true, repo.SaveRoutine(ctx, tx, r)
}

// XPFor returns the experience awarded for a completion with the given
// lateness: round(base * max(0.25, 1 - lateness/120)).
func XPFor(base, lateness int) int {
	f := math.Max(0.25, 1-float64(lateness)/120)
	return int(math.Round(float64(base) * f))
}

func (s *CompletionService) afterCommit(ctx context.Context, userID string, res *CompletionResult) {
	invalidate(s.Cache, userID)
	completionsTotal.WithLabelValues(string(res.Log.State), string(res.Log.Source)).Inc()

	if res.Log.State.Success() {
		res.XP = XPFor(s.XPBase, res.Log.LatenessMinutes)
		if s.Gamifier != nil {
			if err := s.Gamifier.AwardXP(ctx, userID, res.Routine.ID, res.XP); err != nil {
				sideEffectFailures.WithLabelValues("xp").Inc()
				log.Warn().Err(err).Str("user_id", userID).Str("routine_id", res.Routine.ID).Msg("award xp")
			}
			if _, ok := streakMilestones[res.Routine.CurrentStreak]; ok && res.advanced {
				if err := s.Gamifier.StreakReached(ctx, userID, res.Routine.ID, res.Routine.CurrentStreak); err != nil {
					sideEffectFailures.WithLabelValues("achievement").Inc()
					log.Warn().Err(err).Str("user_id", userID).Str("routine_id", res.Routine.ID).Msg("streak achievement")
				}
			}
		}
	}

	publish(ctx, s.Events, userID, EventCompletionRecorded, map[string]any{
		"routine_id":   res.Routine.ID,
		"day":          res.Log.Day,
		"state":        res.Log.State,
		"streak_after": res.Log.StreakAfter,
		"xp":           res.XP,
	})
}
