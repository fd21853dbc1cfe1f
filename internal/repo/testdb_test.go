package repo

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func allModels() []any {
	return []any{&domain.Routine{}, &domain.CompletionLog{}, &domain.Idempotency{}}
}

func seedRoutine(t *testing.T, db *gorm.DB, userID, start string, status domain.RoutineStatus) *domain.Routine {
	t.Helper()
	r := &domain.Routine{UserID: userID, Title: "r-" + start, Recurrence: "daily", TimeStart: start, Timezone: "UTC", Difficulty: 3, Status: status}
	if err := CreateRoutine(t.Context(), db, r); err != nil {
		t.Fatalf("seed routine: %v", err)
	}
	return r
}
