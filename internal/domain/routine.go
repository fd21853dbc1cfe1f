// Package domain defines the persistence models for habit routines and their
// daily completion logs, plus the pure scheduling and streak rules that operate
// on them. These types are mapped with GORM and shared by the repository,
// service and analytics layers.
package domain

import (
	"time"
	_ "time/tzdata" // routine timezones resolve without system zoneinfo

	"gorm.io/datatypes"
)

// RoutineStatus is the lifecycle state of a routine.
type RoutineStatus string

const (
	StatusActive   RoutineStatus = "active"
	StatusPaused   RoutineStatus = "paused"
	StatusArchived RoutineStatus = "archived"
)

// Valid reports whether s is a known status.
func (s RoutineStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether a routine may move from s to next.
// Archived is terminal; active and paused toggle freely.
func (s RoutineStatus) CanTransition(next RoutineStatus) bool {
	return next.Valid() && s != StatusArchived
}

// Routine is a recurring habit owned by a user.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner; indexed together with Status for listing.
//   - Recurrence / CustomDays: schedule variant; CustomDays only for "custom".
//   - TimeStart / TimeEnd: local "HH:MM" clock times in Timezone.
//   - ToleranceMinutes: lateness allowed before a completion counts as late.
//   - AutoCompleteOnSession / MinSessionMinutes: session hook policy.
//   - DecayProtection / ProtectionUsed: one-shot forgiveness of a missed day.
//   - CurrentStreak / LongestStreak / LastLoggedDate: progress metrics.
//   - Difficulty: 1..5, feeds the resistance score.
//   - Status: active, paused or archived (terminal). Routines are never deleted.
type Routine struct {
	ID          string `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_user_routines,priority:1"`
	Title       string `json:"title"       gorm:"type:varchar(255);not null"`
	Description string `json:"description" gorm:"type:text;not null;default:''"`

	Recurrence string                   `json:"recurrence"            gorm:"type:varchar(16);not null;default:'daily'"`
	CustomDays datatypes.JSONSlice[int] `json:"custom_days,omitempty"`
	TimeStart  string                   `json:"time_start"            gorm:"type:varchar(5);not null"`
	TimeEnd    *string                  `json:"time_end,omitempty"    gorm:"type:varchar(5)"`
	Timezone   string                   `json:"timezone"              gorm:"type:varchar(64);not null;default:'UTC'"`

	ToleranceMinutes      int  `json:"tolerance_minutes"        gorm:"not null;default:0"`
	AutoCompleteOnSession bool `json:"auto_complete_on_session" gorm:"not null;default:false"`
	MinSessionMinutes     int  `json:"min_session_minutes"      gorm:"not null;default:0"`
	DecayProtection       bool `json:"decay_protection"         gorm:"not null;default:false"`
	ProtectionUsed        bool `json:"protection_used"          gorm:"not null;default:false"`

	CurrentStreak  int     `json:"current_streak"             gorm:"not null;default:0"`
	LongestStreak  int     `json:"longest_streak"             gorm:"not null;default:0"`
	Difficulty     int     `json:"difficulty"                 gorm:"not null;default:3"`
	LastLoggedDate *string `json:"last_logged_date,omitempty" gorm:"type:varchar(10)"`

	Status    RoutineStatus `json:"status"     gorm:"type:varchar(16);not null;default:'active';index:idx_user_routines,priority:2"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Routine.
func (Routine) TableName() string { return "routines" }

// Schedule decodes the persisted recurrence.
func (r Routine) Schedule() (Recurrence, error) {
	return ParseRecurrence(r.Recurrence, r.CustomDays)
}

// SetSchedule stores rec on the routine, normalizing custom days.
func (r *Routine) SetSchedule(rec Recurrence) {
	r.Recurrence = string(rec.Kind())
	if c, ok := rec.(Custom); ok {
		r.CustomDays = datatypes.NewJSONSlice(normalizeDays(c.Set.Ints()))
		return
	}
	r.CustomDays = nil
}

// PlannedOn reports whether the routine's schedule includes date. A routine
// with an undecodable schedule is never planned.
func (r Routine) PlannedOn(date time.Time) bool {
	rec, err := r.Schedule()
	if err != nil {
		return false
	}
	return IsPlannedForDate(rec, date)
}

// Location resolves the routine's timezone, defaulting to UTC.
func (r Routine) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Overlaps reports whether two routines claim the same start time on at least
// one common weekday.
func (r Routine) Overlaps(o Routine) bool {
	if r.TimeStart != o.TimeStart {
		return false
	}
	a, err := r.Schedule()
	if err != nil {
		return false
	}
	b, err := o.Schedule()
	if err != nil {
		return false
	}
	return a.Days().Intersects(b.Days())
}

// CreatedDay returns the UTC calendar day the routine was created.
func (r Routine) CreatedDay() string { return DayKey(r.CreatedAt) }
