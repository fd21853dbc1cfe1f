// Package analytics derives read-only insights from routines and their
// completion logs: per-routine risk scores, a weekday-by-hour heatmap and
// per-routine summaries. Everything here is a pure function of its inputs;
// loading data and caching results is the caller's job.
package analytics

import (
	"math"
	"time"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

// Window bounds, in days.
const (
	DefaultRiskWindow = 14
	MinRiskWindow     = 7
	MaxRiskWindow     = 60

	DefaultWindow = 30
	MaxWindow     = 120
)

// ClampRiskWindow applies the risk window default and bounds.
func ClampRiskWindow(n int) int {
	switch {
	case n <= 0:
		return DefaultRiskWindow
	case n < MinRiskWindow:
		return MinRiskWindow
	case n > MaxRiskWindow:
		return MaxRiskWindow
	}
	return n
}

// ClampWindow applies the heatmap/summary window default and bounds.
func ClampWindow(n int) int {
	switch {
	case n <= 0:
		return DefaultWindow
	case n > MaxWindow:
		return MaxWindow
	}
	return n
}

// WindowRange returns the first and last day keys of the n-day window ending
// on today (inclusive).
func WindowRange(today time.Time, n int) (from, to string) {
	end := domain.StartOfDay(today)
	return domain.DayKey(end.AddDate(0, 0, -(n - 1))), domain.DayKey(end)
}

// logIndex maps routine id and day to that day's log.
type logIndex map[string]map[string]domain.CompletionLog

func indexLogs(logs []domain.CompletionLog) logIndex {
	idx := make(logIndex)
	for _, l := range logs {
		byDay, ok := idx[l.RoutineID]
		if !ok {
			byDay = make(map[string]domain.CompletionLog)
			idx[l.RoutineID] = byDay
		}
		byDay[l.Day] = l
	}
	return idx
}

func (ix logIndex) get(routineID, day string) (domain.CompletionLog, bool) {
	l, ok := ix[routineID][day]
	return l, ok
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// percent returns num/den as a percentage with one decimal, 0 when den is 0.
func percent(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return round(float64(num)/float64(den)*100, 1)
}
