package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-habit-backend/internal/services"
)

type fakeSteps struct {
	mu       sync.Mutex
	seeds    []time.Time
	closes   []time.Time
	seedErr  error
	closeErr error
}

func (f *fakeSteps) Seed(_ context.Context, now time.Time) (services.SeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds = append(f.seeds, now)
	return services.SeedResult{}, f.seedErr
}

func (f *fakeSteps) Close(_ context.Context, now time.Time) (services.CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, now)
	return services.CloseResult{}, f.closeErr
}

func (f *fakeSteps) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seeds), len(f.closes)
}

func at(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestRunner_Tick_FiresOncePerDay(t *testing.T) {
	steps := &fakeSteps{}
	r := &Runner{Steps: steps, SeedHour: 0, CloseHour: 23}
	ctx := context.Background()

	if res := r.Tick(ctx, at(t, "2024-06-10T00:05:00Z")); !res.Seeded || res.Closed {
		t.Fatalf("first tick: %+v", res)
	}
	if res := r.Tick(ctx, at(t, "2024-06-10T12:00:00Z")); res.Seeded || res.Closed {
		t.Fatalf("midday tick: %+v", res)
	}
	if res := r.Tick(ctx, at(t, "2024-06-10T23:01:00Z")); res.Seeded || !res.Closed {
		t.Fatalf("close tick: %+v", res)
	}
	if res := r.Tick(ctx, at(t, "2024-06-10T23:30:00Z")); res.Seeded || res.Closed {
		t.Fatalf("second close tick: %+v", res)
	}
	if res := r.Tick(ctx, at(t, "2024-06-11T00:00:00Z")); !res.Seeded {
		t.Fatalf("next day tick: %+v", res)
	}
	if s, c := steps.counts(); s != 2 || c != 1 {
		t.Fatalf("seeds=%d closes=%d", s, c)
	}
}

func TestRunner_Tick_WaitsForConfiguredHour(t *testing.T) {
	steps := &fakeSteps{}
	r := &Runner{Steps: steps, SeedHour: 4, CloseHour: 22}
	ctx := context.Background()

	if res := r.Tick(ctx, at(t, "2024-06-10T03:59:00Z")); res.Seeded || res.Closed {
		t.Fatalf("too early: %+v", res)
	}
	if res := r.Tick(ctx, at(t, "2024-06-10T04:00:00Z")); !res.Seeded {
		t.Fatalf("seed hour reached: %+v", res)
	}
}

func TestRunner_Tick_RetriesFailedStep(t *testing.T) {
	steps := &fakeSteps{seedErr: errors.New("db down")}
	r := &Runner{Steps: steps, CloseHour: 23}
	ctx := context.Background()

	before := testutil.ToFloat64(runsTotal.WithLabelValues("seed", "error"))
	if res := r.Tick(ctx, at(t, "2024-06-10T01:00:00Z")); res.Seeded {
		t.Fatal("failed seed must not be recorded")
	}
	if after := testutil.ToFloat64(runsTotal.WithLabelValues("seed", "error")); after != before+1 {
		t.Fatalf("error counter %v -> %v", before, after)
	}

	steps.mu.Lock()
	steps.seedErr = nil
	steps.mu.Unlock()
	if res := r.Tick(ctx, at(t, "2024-06-10T01:05:00Z")); !res.Seeded {
		t.Fatal("seed should be retried")
	}
}

func TestRunner_Tick_Purges(t *testing.T) {
	var calls int
	r := &Runner{
		Steps:     &fakeSteps{},
		CloseHour: 23,
		Purge: func(context.Context, time.Time) (int64, error) {
			calls++
			return 2, nil
		},
	}
	r.Tick(context.Background(), at(t, "2024-06-10T05:00:00Z"))
	r.Tick(context.Background(), at(t, "2024-06-10T06:00:00Z"))
	if calls != 2 {
		t.Fatalf("purge calls = %d, want 2", calls)
	}
}

func TestRunner_Run_StopsOnCancel(t *testing.T) {
	steps := &fakeSteps{}
	r := &Runner{
		Steps:     steps,
		Interval:  time.Millisecond,
		CloseHour: 23,
		Now:       func() time.Time { return at(t, "2024-06-10T08:00:00Z") },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if s, _ := steps.counts(); s == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("runner never seeded")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if s, _ := steps.counts(); s != 1 {
		t.Fatalf("seed fired %d times on one day", s)
	}
}
