package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

const (
	rankSize       = 5
	rankMinSamples = 2
)

// HeatCell aggregates resolved logs sharing a weekday and start hour.
type HeatCell struct {
	Weekday     int     `json:"dow"`
	Hour        string  `json:"hour"`
	Planned     int     `json:"planned"`
	Completed   int     `json:"completed"`
	Late        int     `json:"late"`
	Missed      int     `json:"missed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// Heatmap is the weekday-by-hour success grid of a user.
type Heatmap struct {
	Window    int        `json:"window"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Cells     []HeatCell `json:"cells"`
	Weakest   []HeatCell `json:"weakest"`
	Strongest []HeatCell `json:"strongest"`
}

type cellKey struct {
	dow  int
	hour string
}

// BuildHeatmap buckets every resolved log in the window ending on today by
// (weekday of its day, hour of its routine's start time). Late and auto
// completions count as completed; late ones are also counted separately.
// Pending logs and logs of unknown routines are ignored.
func BuildHeatmap(routines []domain.Routine, logs []domain.CompletionLog, today time.Time, window int) Heatmap {
	window = ClampWindow(window)
	from, to := WindowRange(today, window)

	hours := make(map[string]string, len(routines))
	for _, r := range routines {
		if h, _, err := domain.ParseClock(r.TimeStart); err == nil {
			hours[r.ID] = fmt.Sprintf("%02d", h)
		}
	}

	cells := make(map[cellKey]*HeatCell)
	for _, l := range logs {
		if l.Day < from || l.Day > to || !l.State.Terminal() {
			continue
		}
		hour, ok := hours[l.RoutineID]
		if !ok {
			continue
		}
		d, err := domain.ParseDay(l.Day)
		if err != nil {
			continue
		}
		k := cellKey{dow: int(d.Weekday()), hour: hour}
		c, ok := cells[k]
		if !ok {
			c = &HeatCell{Weekday: k.dow, Hour: k.hour}
			cells[k] = c
		}
		c.Planned++
		switch l.State {
		case domain.LogDone, domain.LogAuto:
			c.Completed++
		case domain.LogLate:
			c.Completed++
			c.Late++
		case domain.LogMissed:
			c.Missed++
		case domain.LogSkipped:
			c.Skipped++
		}
	}

	out := Heatmap{Window: window, From: from, To: to, Cells: make([]HeatCell, 0, len(cells))}
	for _, c := range cells {
		c.SuccessRate = percent(c.Completed, c.Planned)
		out.Cells = append(out.Cells, *c)
	}
	sort.Slice(out.Cells, func(i, j int) bool { return cellLess(out.Cells[i], out.Cells[j]) })

	var ranked []HeatCell
	for _, c := range out.Cells {
		if c.Planned >= rankMinSamples {
			ranked = append(ranked, c)
		}
	}
	out.Weakest = rank(ranked, func(a, b HeatCell) bool { return a.SuccessRate < b.SuccessRate })
	out.Strongest = rank(ranked, func(a, b HeatCell) bool { return a.SuccessRate > b.SuccessRate })
	return out
}

func cellLess(a, b HeatCell) bool {
	if a.Weekday != b.Weekday {
		return a.Weekday < b.Weekday
	}
	return a.Hour < b.Hour
}

// rank returns the first rankSize cells ordered by better, ties by position.
func rank(cells []HeatCell, better func(a, b HeatCell) bool) []HeatCell {
	sorted := append([]HeatCell(nil), cells...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SuccessRate != sorted[j].SuccessRate {
			return better(sorted[i], sorted[j])
		}
		return cellLess(sorted[i], sorted[j])
	})
	if len(sorted) > rankSize {
		sorted = sorted[:rankSize]
	}
	if sorted == nil {
		return []HeatCell{}
	}
	return sorted
}
