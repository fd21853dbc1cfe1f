package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-habit-backend/internal/analytics"
	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/repo"
)

// ---------- test helpers ----------

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "services_test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

// mustTime parses an RFC3339 timestamp.
func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return v
}

type routineOpt func(*domain.Routine)

func withStreak(n int) routineOpt {
	return func(r *domain.Routine) {
		r.CurrentStreak = n
		if n > r.LongestStreak {
			r.LongestStreak = n
		}
	}
}

func withRecurrence(kind string, days ...int) routineOpt {
	return func(r *domain.Routine) {
		r.Recurrence = kind
		if len(days) > 0 {
			r.CustomDays = days
		}
	}
}

func withStatus(s domain.RoutineStatus) routineOpt {
	return func(r *domain.Routine) { r.Status = s }
}

func withProtection() routineOpt {
	return func(r *domain.Routine) { r.DecayProtection = true }
}

func createdAt(ts time.Time) routineOpt {
	return func(r *domain.Routine) { r.CreatedAt = ts }
}

func seedRoutine(t *testing.T, db *gorm.DB, userID, start string, opts ...routineOpt) *domain.Routine {
	t.Helper()
	r := &domain.Routine{
		UserID:     userID,
		Title:      "routine " + start,
		Recurrence: "daily",
		TimeStart:  start,
		Timezone:   "UTC",
		Difficulty: 3,
		Status:     domain.StatusActive,
	}
	for _, o := range opts {
		o(r)
	}
	if err := repo.CreateRoutine(context.Background(), db, r); err != nil {
		t.Fatalf("seed routine: %v", err)
	}
	return r
}

func seedLog(t *testing.T, db *gorm.DB, r *domain.Routine, day string, st domain.LogState, src domain.LogSource) *domain.CompletionLog {
	t.Helper()
	l := &domain.CompletionLog{UserID: r.UserID, RoutineID: r.ID, Day: day, State: st, Source: src}
	if err := repo.CreateLog(context.Background(), db, l); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	return l
}

func reload(t *testing.T, db *gorm.DB, id string) *domain.Routine {
	t.Helper()
	r, err := repo.GetRoutineByID(context.Background(), db, id)
	if err != nil {
		t.Fatalf("reload routine: %v", err)
	}
	return r
}

// ---------- fakes ----------

type event struct {
	UserID string
	Name   string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []event
}

func (p *fakePublisher) Publish(_ context.Context, userID, name string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event{UserID: userID, Name: name})
}

func (p *fakePublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

type fakeGamifier struct {
	mu      sync.Mutex
	xp      []int
	streaks []int
	err     error
}

func (g *fakeGamifier) AwardXP(_ context.Context, _, _ string, xp int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.xp = append(g.xp, xp)
	return g.err
}

func (g *fakeGamifier) StreakReached(_ context.Context, _, _ string, streak int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streaks = append(g.streaks, streak)
	return g.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) NotifyHighRisk(_ context.Context, _ string, r analytics.RoutineRisk) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, r.RoutineID)
	return errors.New("push gateway down")
}
