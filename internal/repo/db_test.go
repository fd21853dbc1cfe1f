package repo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

func TestOpenSQLite_ErrorOnBadPath(t *testing.T) {
	base := t.TempDir()
	bad := filepath.Join(base, "does-not-exist", "app.db")

	db, err := OpenSQLite(bad)
	if err == nil || db != nil {
		t.Fatalf("expected error opening %q, got db=%v err=%v", bad, db, err)
	}

	lower := strings.ToLower(err.Error())
	if !(os.IsNotExist(err) ||
		strings.Contains(lower, "unable to open database file") ||
		strings.Contains(lower, "no such file or directory") ||
		strings.Contains(lower, "out of memory")) {
		t.Fatalf("unexpected error opening %q: %v", bad, err)
	}
}

func TestOpenSQLite_TuningAndSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "habits.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	pragmas := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"foreign_keys": "1",
		"busy_timeout": "5000",
	}
	for name, want := range pragmas {
		var got string
		if err := db.Raw("PRAGMA " + name + ";").Row().Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", name, err)
		}
		if strings.ToLower(got) != want {
			t.Errorf("PRAGMA %s = %q; want %q", name, got, want)
		}
	}
	if n := sqlDB.Stats().MaxOpenConnections; n != 10 {
		t.Errorf("MaxOpenConnections = %d", n)
	}

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	// idempotent
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
	for _, m := range allModels() {
		if !db.Migrator().HasTable(m) {
			t.Fatalf("table for %T missing", m)
		}
	}

	now := time.Now().UTC()
	r := &domain.Routine{ID: "r1", UserID: "u1", Title: "Stretch", Recurrence: "daily", TimeStart: "07:00", Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(r).Error; err != nil {
		t.Fatalf("insert routine: %v", err)
	}
	l := &domain.CompletionLog{ID: "l1", UserID: "u1", RoutineID: "r1", Day: "2024-06-03", State: domain.LogPending, Source: domain.SourceSystem}
	if err := db.Omit("Routine").Create(l).Error; err != nil {
		t.Fatalf("insert log: %v", err)
	}
	// one log per routine and day
	dup := &domain.CompletionLog{ID: "l2", UserID: "u1", RoutineID: "r1", Day: "2024-06-03", State: domain.LogPending, Source: domain.SourceSystem}
	if err := db.Omit("Routine").Create(dup).Error; err == nil {
		t.Fatal("duplicate (routine, day) accepted")
	}
}

func TestOpen_DispatchesOnDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.db")
	db, err := Open("sqlite", path, "")
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	if _, err := Open("postgres", "", ""); err == nil {
		t.Fatalf("expected error for postgres without DATABASE_URL")
	}
	if _, err := Open("oracle", path, ""); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}
