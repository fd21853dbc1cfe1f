package domain

import (
	"fmt"
	"sort"
	"time"
)

// RecurrenceKind is the persisted name of a recurrence variant.
type RecurrenceKind string

const (
	RecurDaily    RecurrenceKind = "daily"
	RecurWeekdays RecurrenceKind = "weekdays"
	RecurWeekends RecurrenceKind = "weekends"
	RecurCustom   RecurrenceKind = "custom"
)

// WeekdaySet is a bitmask of weekdays, bit n set for time.Weekday(n).
type WeekdaySet uint8

const (
	allDays      WeekdaySet = 0x7f
	weekdayDays  WeekdaySet = 1<<time.Monday | 1<<time.Tuesday | 1<<time.Wednesday | 1<<time.Thursday | 1<<time.Friday
	weekendDays  WeekdaySet = 1<<time.Saturday | 1<<time.Sunday
	maxWeekdayNo            = int(time.Saturday)
)

// NewWeekdaySet builds a set from weekday numbers (0=Sunday..6=Saturday).
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << d
	}
	return s
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<d) != 0 }

// Intersects reports whether the two sets share at least one weekday.
func (s WeekdaySet) Intersects(o WeekdaySet) bool { return s&o != 0 }

// Ints returns the set as sorted weekday numbers.
func (s WeekdaySet) Ints() []int {
	out := make([]int, 0, 7)
	for d := 0; d <= maxWeekdayNo; d++ {
		if s.Has(time.Weekday(d)) {
			out = append(out, d)
		}
	}
	return out
}

// Recurrence is the closed set of schedule variants. Implementations are
// Daily, Weekdays, Weekends and Custom.
type Recurrence interface {
	Kind() RecurrenceKind
	// Days returns every weekday the recurrence plans.
	Days() WeekdaySet
	isRecurrence()
}

type (
	Daily    struct{}
	Weekdays struct{}
	Weekends struct{}
	Custom   struct{ Set WeekdaySet }
)

func (Daily) Kind() RecurrenceKind    { return RecurDaily }
func (Weekdays) Kind() RecurrenceKind { return RecurWeekdays }
func (Weekends) Kind() RecurrenceKind { return RecurWeekends }
func (Custom) Kind() RecurrenceKind   { return RecurCustom }

func (Daily) Days() WeekdaySet    { return allDays }
func (Weekdays) Days() WeekdaySet { return weekdayDays }
func (Weekends) Days() WeekdaySet { return weekendDays }
func (c Custom) Days() WeekdaySet { return c.Set }

func (Daily) isRecurrence()    {}
func (Weekdays) isRecurrence() {}
func (Weekends) isRecurrence() {}
func (Custom) isRecurrence()   {}

// ParseRecurrence converts the persisted (kind, days) pair into a Recurrence.
// days is only consulted for custom schedules and must be a non-empty list of
// weekday numbers in 0..6.
func ParseRecurrence(kind string, days []int) (Recurrence, error) {
	switch RecurrenceKind(kind) {
	case RecurDaily:
		return Daily{}, nil
	case RecurWeekdays:
		return Weekdays{}, nil
	case RecurWeekends:
		return Weekends{}, nil
	case RecurCustom:
		if len(days) == 0 {
			return nil, fmt.Errorf("custom recurrence requires at least one weekday")
		}
		var s WeekdaySet
		for _, d := range days {
			if d < 0 || d > maxWeekdayNo {
				return nil, fmt.Errorf("invalid weekday %d", d)
			}
			s |= 1 << d
		}
		return Custom{Set: s}, nil
	default:
		return nil, fmt.Errorf("unknown recurrence %q", kind)
	}
}

// IsPlannedForDate reports whether rec plans an occurrence on the calendar
// day of date. The weekday is taken from the UTC date.
func IsPlannedForDate(rec Recurrence, date time.Time) bool {
	if rec == nil {
		return false
	}
	wd := date.UTC().Weekday()
	switch r := rec.(type) {
	case Daily:
		return true
	case Weekdays:
		return wd >= time.Monday && wd <= time.Friday
	case Weekends:
		return wd == time.Saturday || wd == time.Sunday
	case Custom:
		return r.Set.Has(wd)
	default:
		return false
	}
}

// normalizeDays sorts and dedupes weekday numbers.
func normalizeDays(days []int) []int {
	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
