package analytics

import (
	"sort"
	"time"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Score weights and adjustments.
const (
	weightRecent     = 0.5
	weightWindow     = 0.2
	weightVolatility = 0.2
	weightResistance = 0.1

	missedYesterdayPenalty = 0.15
	streakBonus            = 0.10
	streakBonusMinStreak   = 7
	streakBonusMinScore    = 0.6

	mediumThreshold = 0.33
	highThreshold   = 0.66
)

// RiskFactors are the inputs of a single routine's risk score.
type RiskFactors struct {
	SuccessRate7    float64 `json:"success_rate_7"`
	SuccessRate14   float64 `json:"success_rate_14"`
	Volatility      float64 `json:"volatility"`
	Resistance      int     `json:"resistance"`
	MissedYesterday bool    `json:"missed_yesterday"`
	CurrentStreak   int     `json:"current_streak"`
}

// RoutineRisk is one entry of a risk snapshot.
type RoutineRisk struct {
	RoutineID string    `json:"routine_id"`
	Title     string    `json:"title"`
	Score     float64   `json:"score"`
	Level     RiskLevel `json:"level"`
	RiskFactors
}

// RiskSnapshot is the risk of every active routine of a user, highest first.
type RiskSnapshot struct {
	Window   int           `json:"window"`
	AsOf     string        `json:"as_of"`
	Routines []RoutineRisk `json:"routines"`
}

// Score combines the factors into a value in [0, 1].
func (f RiskFactors) Score() float64 {
	s := weightRecent*(1-f.SuccessRate7) +
		weightWindow*(1-f.SuccessRate14) +
		weightVolatility*f.Volatility +
		weightResistance*(float64(f.Resistance)/10)
	if f.MissedYesterday {
		s += missedYesterdayPenalty
	}
	if f.CurrentStreak >= streakBonusMinStreak && s > streakBonusMinScore {
		s -= streakBonus
	}
	switch {
	case s < 0:
		s = 0
	case s > 1:
		s = 1
	}
	return round(s, 3)
}

// LevelFor maps a score to its level.
func LevelFor(score float64) RiskLevel {
	switch {
	case score < mediumThreshold:
		return RiskLow
	case score < highThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ComputeRisk scores every routine over the window of days ending on today.
// logs may span more than the window and cover several routines.
func ComputeRisk(routines []domain.Routine, logs []domain.CompletionLog, today time.Time, window int) RiskSnapshot {
	window = ClampRiskWindow(window)
	idx := indexLogs(logs)
	end := domain.StartOfDay(today)

	out := RiskSnapshot{Window: window, AsOf: domain.DayKey(end), Routines: make([]RoutineRisk, 0, len(routines))}
	for _, r := range routines {
		f := factors(r, idx, end, window)
		score := f.Score()
		out.Routines = append(out.Routines, RoutineRisk{
			RoutineID:   r.ID,
			Title:       r.Title,
			Score:       score,
			Level:       LevelFor(score),
			RiskFactors: f,
		})
	}
	sort.SliceStable(out.Routines, func(i, j int) bool {
		a, b := out.Routines[i], out.Routines[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.RoutineID < b.RoutineID
	})
	return out
}

// factors derives the risk inputs of r. A day counts when r plans it, it is
// not before r was created, and, for today, only once its log is resolved.
func factors(r domain.Routine, idx logIndex, today time.Time, window int) RiskFactors {
	created := r.CreatedDay()
	recentDays := 7
	if window < recentDays {
		recentDays = window
	}

	var (
		planned, successes             int
		recentPlanned, recentSuccesses int
		outcomes                       []bool
	)
	for back := window - 1; back >= 0; back-- {
		d := today.AddDate(0, 0, -back)
		key := domain.DayKey(d)
		if key < created || !r.PlannedOn(d) {
			continue
		}
		l, ok := idx.get(r.ID, key)
		if back == 0 && (!ok || !l.State.Terminal()) {
			continue
		}
		success := ok && l.State.Success()
		planned++
		if success {
			successes++
		}
		if back < recentDays {
			recentPlanned++
			if success {
				recentSuccesses++
			}
		}
		outcomes = append(outcomes, success)
	}

	f := RiskFactors{
		SuccessRate7:  ratio(recentSuccesses, recentPlanned),
		SuccessRate14: ratio(successes, planned),
		Volatility:    volatility(outcomes),
		Resistance:    domain.ResistanceScore(r.Difficulty, r.CurrentStreak),
		CurrentStreak: r.CurrentStreak,
	}

	yesterday := today.AddDate(0, 0, -1)
	if yk := domain.DayKey(yesterday); yk >= created && r.PlannedOn(yesterday) {
		l, ok := idx.get(r.ID, yk)
		f.MissedYesterday = !ok || l.State == domain.LogMissed
	}
	return f
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return round(float64(num)/float64(den), 3)
}

// volatility is the share of consecutive planned days whose outcome flipped.
func volatility(outcomes []bool) float64 {
	if len(outcomes) < 2 {
		return 0
	}
	flips := 0
	for i := 1; i < len(outcomes); i++ {
		if outcomes[i] != outcomes[i-1] {
			flips++
		}
	}
	return round(float64(flips)/float64(len(outcomes)-1), 3)
}
