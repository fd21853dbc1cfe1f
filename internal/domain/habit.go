package domain

import (
	"fmt"
	"math"
	"time"
)

// DayFormat is the layout of calendar day keys.
const DayFormat = "2006-01-02"

// DayKey returns the UTC calendar day of t.
func DayKey(t time.Time) string { return t.UTC().Format(DayFormat) }

// ParseDay parses a "YYYY-MM-DD" key as midnight UTC.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayFormat, s, time.UTC)
}

// StartOfDay truncates t to midnight UTC of its calendar day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// PrevDay returns the key of the day before day.
func PrevDay(day string) (string, error) {
	t, err := ParseDay(day)
	if err != nil {
		return "", err
	}
	return DayKey(t.AddDate(0, 0, -1)), nil
}

// ParseClock parses "HH:MM" (24h) into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ResistanceScore estimates the effort needed to keep a habit at the given
// streak: max(1, round(2 * difficulty * e^(-0.18 * streak))).
func ResistanceScore(difficulty, streak int) int {
	if streak < 0 {
		streak = 0
	}
	v := int(math.Round(2 * float64(difficulty) * math.Exp(-0.18*float64(streak))))
	if v < 1 {
		return 1
	}
	return v
}

// LatenessMinutes is the whole minutes between the routine's start time on day
// (in its timezone) and at, floored at zero.
func LatenessMinutes(r Routine, day string, at time.Time) (int, error) {
	h, m, err := ParseClock(r.TimeStart)
	if err != nil {
		return 0, err
	}
	d, err := ParseDay(day)
	if err != nil {
		return 0, err
	}
	loc := r.Location()
	start := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
	diff := int(at.Sub(start) / time.Minute)
	if diff < 0 {
		return 0, nil
	}
	return diff, nil
}

// CompletionState returns late when lateness exceeds tolerance, done otherwise.
func CompletionState(lateness, tolerance int) LogState {
	if lateness > tolerance {
		return LogLate
	}
	return LogDone
}

// NextStreak extends current when the previous day was a success; otherwise
// the streak restarts at 1.
func NextStreak(current int, prevSucceeded bool) int {
	if prevSucceeded {
		return current + 1
	}
	return 1
}

// ResetPolicy selects when a consumed decay protection becomes available again.
type ResetPolicy string

const (
	// ResetNever keeps protection consumable once per routine lifetime.
	ResetNever ResetPolicy = "never"
	// ResetOnStreakReset re-arms protection whenever the streak is reset.
	ResetOnStreakReset ResetPolicy = "on_streak_reset"
	// ResetAfterStreak re-arms protection once the streak reaches a threshold.
	ResetAfterStreak ResetPolicy = "after_streak"
)

// Valid reports whether p is a known policy.
func (p ResetPolicy) Valid() bool {
	switch p {
	case ResetNever, ResetOnStreakReset, ResetAfterStreak:
		return true
	}
	return false
}

// ProtectionPolicy bundles the reset policy and its streak threshold.
type ProtectionPolicy struct {
	Reset         ResetPolicy
	RearmAtStreak int
}

// ApplyMiss applies a missed day to r. A positive streak with unused decay
// protection is kept and the protection consumed; otherwise the streak is
// reset to zero. It reports whether the miss was forgiven.
func (p ProtectionPolicy) ApplyMiss(r *Routine) bool {
	if r.CurrentStreak > 0 && r.DecayProtection && !r.ProtectionUsed {
		r.ProtectionUsed = true
		return true
	}
	r.CurrentStreak = 0
	if p.Reset == ResetOnStreakReset {
		r.ProtectionUsed = false
	}
	return false
}

// ApplySuccess records a successful day on r given whether the previous day
// succeeded, updating streaks and re-arming protection per policy.
func (p ProtectionPolicy) ApplySuccess(r *Routine, prevSucceeded bool) {
	r.CurrentStreak = NextStreak(r.CurrentStreak, prevSucceeded)
	if r.CurrentStreak > r.LongestStreak {
		r.LongestStreak = r.CurrentStreak
	}
	switch p.Reset {
	case ResetOnStreakReset:
		if r.CurrentStreak == 1 {
			r.ProtectionUsed = false
		}
	case ResetAfterStreak:
		if p.RearmAtStreak > 0 && r.CurrentStreak >= p.RearmAtStreak {
			r.ProtectionUsed = false
		}
	}
}
