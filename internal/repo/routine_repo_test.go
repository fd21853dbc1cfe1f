package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

func TestCreateRoutine_Error_NoTable(t *testing.T) {
	db := newRepoDB(t /* no migrations */)
	r := &domain.Routine{UserID: "u1", Title: "t", TimeStart: "07:00"}
	if err := CreateRoutine(context.Background(), db, r); err == nil {
		t.Fatalf("expected error creating without table")
	}
}

func TestCreateAndGetRoutine_ScopedToOwner(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()
	r := seedRoutine(t, db, "u1", "07:00", domain.StatusActive)
	if r.ID == "" || r.CreatedAt.IsZero() {
		t.Fatalf("expected ID and CreatedAt to be assigned: %+v", r)
	}

	got, err := GetRoutine(ctx, db, r.ID, "u1")
	if err != nil || got.Title != r.Title {
		t.Fatalf("GetRoutine = %+v, %v", got, err)
	}
	if _, err := GetRoutine(ctx, db, r.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign owner should be not found, got %v", err)
	}
	if byID, err := GetRoutineByID(ctx, db, r.ID); err != nil || byID.UserID != "u1" {
		t.Fatalf("GetRoutineByID = %+v, %v", byID, err)
	}
}

func TestListRoutines_StatusFilterAndOrder(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()
	seedRoutine(t, db, "u1", "09:00", domain.StatusActive)
	seedRoutine(t, db, "u1", "07:00", domain.StatusPaused)
	seedRoutine(t, db, "u1", "08:00", domain.StatusArchived)
	seedRoutine(t, db, "u2", "06:00", domain.StatusActive)

	all, err := ListRoutines(ctx, db, "u1")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRoutines all = %d, %v", len(all), err)
	}
	if all[0].TimeStart != "07:00" || all[2].TimeStart != "09:00" {
		t.Fatalf("expected ordering by time_start, got %s..%s", all[0].TimeStart, all[2].TimeStart)
	}

	live, err := ListRoutines(ctx, db, "u1", domain.StatusActive, domain.StatusPaused)
	if err != nil || len(live) != 2 {
		t.Fatalf("ListRoutines filtered = %d, %v", len(live), err)
	}

	active, err := ListActiveRoutines(ctx, db)
	if err != nil || len(active) != 2 {
		t.Fatalf("ListActiveRoutines = %d, %v", len(active), err)
	}
	if active[0].UserID != "u1" || active[1].UserID != "u2" {
		t.Fatalf("expected (user_id, id) ordering, got %s, %s", active[0].UserID, active[1].UserID)
	}
}

func TestSaveRoutine_UpdatesAndEnforcesOwner(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()
	r := seedRoutine(t, db, "u1", "07:00", domain.StatusActive)

	r.CurrentStreak = 4
	r.LongestStreak = 4
	r.ProtectionUsed = true
	r.SetSchedule(domain.Custom{Set: domain.NewWeekdaySet(1, 3)})
	if err := SaveRoutine(ctx, db, r); err != nil {
		t.Fatalf("SaveRoutine: %v", err)
	}
	got, _ := GetRoutine(ctx, db, r.ID, "u1")
	if got.CurrentStreak != 4 || !got.ProtectionUsed || got.Recurrence != "custom" || len(got.CustomDays) != 2 {
		t.Fatalf("routine not saved: %+v", got)
	}

	// Zero values must be written too.
	r.CurrentStreak = 0
	r.ProtectionUsed = false
	if err := SaveRoutine(ctx, db, r); err != nil {
		t.Fatalf("SaveRoutine zero: %v", err)
	}
	got, _ = GetRoutine(ctx, db, r.ID, "u1")
	if got.CurrentStreak != 0 || got.ProtectionUsed {
		t.Fatalf("zero values not saved: %+v", got)
	}

	foreign := *r
	foreign.UserID = "u2"
	if err := SaveRoutine(ctx, db, &foreign); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign save should be not found, got %v", err)
	}
	if err := SaveRoutine(ctx, db, &domain.Routine{UserID: "u1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty id should be not found, got %v", err)
	}
}

func TestRoutinesStats(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()

	n, latest, err := RoutinesStats(ctx, db, "u1")
	if err != nil || n != 0 || latest != nil {
		t.Fatalf("empty stats = %d %v %v", n, latest, err)
	}
	seedRoutine(t, db, "u1", "07:00", domain.StatusActive)
	seedRoutine(t, db, "u1", "08:00", domain.StatusActive)

	n, latest, err = RoutinesStats(ctx, db, "u1")
	if err != nil || n != 2 || latest == nil || latest.IsZero() {
		t.Fatalf("stats = %d %v %v", n, latest, err)
	}
}

func TestRoutinesStats_NoTable(t *testing.T) {
	db := newRepoDB(t)
	if _, _, err := RoutinesStats(context.Background(), db, "u1"); err == nil {
		t.Fatalf("expected error without table")
	}
}
