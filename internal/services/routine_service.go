// Package services – RoutineService
//
// This file implements RoutineService, which owns the routine registry:
// validation and normalization of routine payloads, the schedule-overlap
// conflict check, status lifecycle, and listing with today's log. Every
// mutation invalidates the owner's analytics cache.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the user and routine identifiers.
package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/repo"
)

// RoutineInput is the payload of a new routine.
type RoutineInput struct {
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	Recurrence            string  `json:"recurrence"`
	CustomDays            []int   `json:"custom_days"`
	TimeStart             string  `json:"time_start"`
	TimeEnd               *string `json:"time_end"`
	Timezone              string  `json:"timezone"`
	ToleranceMinutes      int     `json:"tolerance_minutes"`
	AutoCompleteOnSession bool    `json:"auto_complete_on_session"`
	MinSessionMinutes     int     `json:"min_session_minutes"`
	DecayProtection       bool    `json:"decay_protection"`
	Difficulty            int     `json:"difficulty"`
}

// RoutinePatch is a partial update; nil fields are left unchanged.
type RoutinePatch struct {
	Title                 *string `json:"title"`
	Description           *string `json:"description"`
	Recurrence            *string `json:"recurrence"`
	CustomDays            *[]int  `json:"custom_days"`
	TimeStart             *string `json:"time_start"`
	TimeEnd               *string `json:"time_end"`
	ClearTimeEnd          bool    `json:"clear_time_end"`
	Timezone              *string `json:"timezone"`
	ToleranceMinutes      *int    `json:"tolerance_minutes"`
	AutoCompleteOnSession *bool   `json:"auto_complete_on_session"`
	MinSessionMinutes     *int    `json:"min_session_minutes"`
	DecayProtection       *bool   `json:"decay_protection"`
	Difficulty            *int    `json:"difficulty"`
}

// RoutineWithLog pairs a routine with its log for the current day, if any.
type RoutineWithLog struct {
	domain.Routine
	TodayLog *domain.CompletionLog `json:"today_log"`
}

// RoutineService manages routine definitions.
type RoutineService struct {
	DB     *gorm.DB
	Cache  Invalidator
	Events Publisher
	Now    Clock
}

// NewRoutineService wires a RoutineService.
func NewRoutineService(db *gorm.DB, c Invalidator, p Publisher) *RoutineService {
	if p == nil {
		p = NopPublisher{}
	}
	return &RoutineService{DB: db, Cache: c, Events: p}
}

func (s *RoutineService) tracer() trace.Tracer { return otel.Tracer("services/RoutineService") }

// List returns the user's routines with today's log. Archived routines are
// excluded unless requested through statuses.
func (s *RoutineService) List(ctx context.Context, userID string, statuses ...domain.RoutineStatus) ([]RoutineWithLog, error) {
	ctx, span := s.tracer().Start(ctx, "List", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	for _, st := range statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, st)
		}
	}
	if len(statuses) == 0 {
		statuses = []domain.RoutineStatus{domain.StatusActive, domain.StatusPaused}
	}
	routines, err := repo.ListRoutines(ctx, s.DB, userID, statuses...)
	if err != nil {
		return nil, err
	}
	today := domain.DayKey(s.Now.now())
	logs, err := repo.ListLogsForDay(ctx, s.DB, userID, today)
	if err != nil {
		return nil, err
	}
	byRoutine := make(map[string]domain.CompletionLog, len(logs))
	for _, l := range logs {
		byRoutine[l.RoutineID] = l
	}

	out := make([]RoutineWithLog, 0, len(routines))
	for _, r := range routines {
		item := RoutineWithLog{Routine: r}
		if l, ok := byRoutine[r.ID]; ok {
			item.TodayLog = &l
		}
		out = append(out, item)
	}
	publish(ctx, s.Events, userID, EventRoutinesRefreshed, map[string]any{"count": len(out), "day": today})
	return out, nil
}

// Get returns one routine owned by userID.
func (s *RoutineService) Get(ctx context.Context, userID, id string) (*domain.Routine, error) {
	r, err := repo.GetRoutine(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRoutineNotFound
	}
	return r, err
}

// Create validates in, checks for schedule conflicts and stores an active
// routine.
func (s *RoutineService) Create(ctx context.Context, userID string, in RoutineInput) (*domain.Routine, error) {
	ctx, span := s.tracer().Start(ctx, "Create", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	r := &domain.Routine{
		UserID:                userID,
		Title:                 normalizeText(in.Title),
		Description:           normalizeText(in.Description),
		Recurrence:            in.Recurrence,
		CustomDays:            in.CustomDays,
		TimeStart:             in.TimeStart,
		TimeEnd:               in.TimeEnd,
		Timezone:              in.Timezone,
		ToleranceMinutes:      in.ToleranceMinutes,
		AutoCompleteOnSession: in.AutoCompleteOnSession,
		MinSessionMinutes:     in.MinSessionMinutes,
		DecayProtection:       in.DecayProtection,
		Difficulty:            in.Difficulty,
		Status:                domain.StatusActive,
	}
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.Difficulty == 0 {
		r.Difficulty = 3
	}
	if err := validateRoutine(r); err != nil {
		return nil, err
	}
	if err := s.checkConflict(ctx, r); err != nil {
		return nil, err
	}
	if err := repo.CreateRoutine(ctx, s.DB, r); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("routine.id", r.ID))
	invalidate(s.Cache, userID)
	return r, nil
}

// Update applies patch to a non-archived routine, re-validating the result
// and re-checking conflicts against every other active routine.
func (s *RoutineService) Update(ctx context.Context, userID, id string, patch RoutinePatch) (*domain.Routine, error) {
	ctx, span := s.tracer().Start(ctx, "Update", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("routine.id", id),
	))
	defer span.End()

	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if r.Status == domain.StatusArchived {
		return nil, ErrRoutineArchived
	}
	applyPatch(r, patch)
	if err := validateRoutine(r); err != nil {
		return nil, err
	}
	if err := s.checkConflict(ctx, r); err != nil {
		return nil, err
	}
	if err := repo.SaveRoutine(ctx, s.DB, r); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRoutineNotFound
		}
		return nil, err
	}
	invalidate(s.Cache, userID)
	return r, nil
}

// SetStatus moves a routine between active and paused, or archives it.
// Archived routines cannot change status; reactivation re-checks conflicts.
func (s *RoutineService) SetStatus(ctx context.Context, userID, id string, status domain.RoutineStatus) (*domain.Routine, error) {
	ctx, span := s.tracer().Start(ctx, "SetStatus", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("routine.id", id),
		attribute.String("status", string(status)),
	))
	defer span.End()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	r, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !r.Status.CanTransition(status) {
		return nil, ErrRoutineArchived
	}
	if r.Status == status {
		return r, nil
	}
	r.Status = status
	if status == domain.StatusActive {
		if err := s.checkConflict(ctx, r); err != nil {
			return nil, err
		}
	}
	if err := repo.SaveRoutine(ctx, s.DB, r); err != nil {
		return nil, err
	}
	invalidate(s.Cache, userID)
	return r, nil
}

// ListLogs returns a page of the user's logs and the total matching count.
func (s *RoutineService) ListLogs(ctx context.Context, userID string, f repo.LogFilter, page, pageSize int) ([]domain.CompletionLog, int64, error) {
	ctx, span := s.tracer().Start(ctx, "ListLogs", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	if f.State != "" && !f.State.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown state %q", ErrInvalidFilter, f.State)
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := domain.ParseDay(d); err != nil {
			return nil, 0, fmt.Errorf("%w: bad day %q", ErrInvalidFilter, d)
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountLogs(ctx, s.DB, userID, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.CompletionLog{}, 0, nil
	}
	items, err := repo.ListLogsPage(ctx, s.DB, userID, f, (page-1)*pageSize, pageSize)
	return items, total, err
}

// checkConflict rejects r when it is active and shares a start time and a
// weekday with another active routine of the same user.
func (s *RoutineService) checkConflict(ctx context.Context, r *domain.Routine) error {
	if r.Status != domain.StatusActive {
		return nil
	}
	active, err := repo.ListRoutines(ctx, s.DB, r.UserID, domain.StatusActive)
	if err != nil {
		return err
	}
	for _, o := range active {
		if o.ID == r.ID {
			continue
		}
		if r.Overlaps(o) {
			return fmt.Errorf("%w: %q at %s", ErrScheduleConflict, o.Title, o.TimeStart)
		}
	}
	return nil
}

func applyPatch(r *domain.Routine, p RoutinePatch) {
	if p.Title != nil {
		r.Title = normalizeText(*p.Title)
	}
	if p.Description != nil {
		r.Description = normalizeText(*p.Description)
	}
	if p.Recurrence != nil {
		r.Recurrence = *p.Recurrence
		if *p.Recurrence != string(domain.RecurCustom) && p.CustomDays == nil {
			r.CustomDays = nil
		}
	}
	if p.CustomDays != nil {
		r.CustomDays = *p.CustomDays
	}
	if p.TimeStart != nil {
		r.TimeStart = *p.TimeStart
	}
	if p.TimeEnd != nil {
		v := *p.TimeEnd
		r.TimeEnd = &v
	}
	if p.ClearTimeEnd {
		r.TimeEnd = nil
	}
	if p.Timezone != nil {
		r.Timezone = *p.Timezone
	}
	if p.ToleranceMinutes != nil {
		r.ToleranceMinutes = *p.ToleranceMinutes
	}
	if p.AutoCompleteOnSession != nil {
		r.AutoCompleteOnSession = *p.AutoCompleteOnSession
	}
	if p.MinSessionMinutes != nil {
		r.MinSessionMinutes = *p.MinSessionMinutes
	}
	if p.DecayProtection != nil {
		r.DecayProtection = *p.DecayProtection
	}
	if p.Difficulty != nil {
		r.Difficulty = *p.Difficulty
	}
}
