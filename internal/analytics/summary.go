package analytics

import (
	"time"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

// StateCounts tallies logs per state.
type StateCounts struct {
	Pending int `json:"pending"`
	Done    int `json:"done"`
	Late    int `json:"late"`
	Missed  int `json:"missed"`
	Skipped int `json:"skipped"`
	Auto    int `json:"auto"`
}

func (s *StateCounts) add(st domain.LogState) {
	switch st {
	case domain.LogPending:
		s.Pending++
	case domain.LogDone:
		s.Done++
	case domain.LogLate:
		s.Late++
	case domain.LogMissed:
		s.Missed++
	case domain.LogSkipped:
		s.Skipped++
	case domain.LogAuto:
		s.Auto++
	}
}

func (s StateCounts) resolved() int  { return s.Done + s.Late + s.Missed + s.Skipped + s.Auto }
func (s StateCounts) completed() int { return s.Done + s.Late + s.Auto }

// RoutineSummary is the outcome breakdown of one routine over the window.
type RoutineSummary struct {
	RoutineID     string               `json:"routine_id"`
	Title         string               `json:"title"`
	Status        domain.RoutineStatus `json:"status"`
	Total         int                  `json:"total"`
	Counts        StateCounts          `json:"counts"`
	SuccessRate   float64              `json:"success_rate"`
	CurrentStreak int                  `json:"current_streak"`
	LongestStreak int                  `json:"longest_streak"`
}

// Summary is the per-routine outcome report of a user.
type Summary struct {
	Window   int              `json:"window"`
	From     string           `json:"from"`
	To       string           `json:"to"`
	Routines []RoutineSummary `json:"routines"`
	Totals   StateCounts      `json:"totals"`
}

// Summarize counts log states per routine over the window ending on today.
// SuccessRate is completed over resolved logs, as a percentage.
func Summarize(routines []domain.Routine, logs []domain.CompletionLog, today time.Time, window int) Summary {
	window = ClampWindow(window)
	from, to := WindowRange(today, window)

	pos := make(map[string]int, len(routines))
	out := Summary{Window: window, From: from, To: to, Routines: make([]RoutineSummary, 0, len(routines))}
	for i, r := range routines {
		pos[r.ID] = i
		out.Routines = append(out.Routines, RoutineSummary{
			RoutineID:     r.ID,
			Title:         r.Title,
			Status:        r.Status,
			CurrentStreak: r.CurrentStreak,
			LongestStreak: r.LongestStreak,
		})
	}
	for _, l := range logs {
		if l.Day < from || l.Day > to {
			continue
		}
		i, ok := pos[l.RoutineID]
		if !ok {
			continue
		}
		rs := &out.Routines[i]
		rs.Total++
		rs.Counts.add(l.State)
		out.Totals.add(l.State)
	}
	for i := range out.Routines {
		c := out.Routines[i].Counts
		out.Routines[i].SuccessRate = percent(c.completed(), c.resolved())
	}
	return out
}
