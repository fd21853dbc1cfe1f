// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

// RoutinesStats returns the number of a user's routines and the greatest
// UpdatedAt among them, or (0, nil) when the user has none.
//
// Return values:
//   - count:        total routines for userID
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func RoutinesStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(ctx, db, &domain.Routine{}, userID)
}

// LogsStats is RoutinesStats for completion logs. Resolving a log bumps its
// UpdatedAt so the pair changes on every state transition.
func LogsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return tableStats(ctx, db, &domain.CompletionLog{}, userID)
}

func tableStats(ctx context.Context, db *gorm.DB, model any, userID string) (int64, *time.Time, error) {
	var count int64
	if err := db.WithContext(ctx).Model(model).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	err := db.WithContext(ctx).Model(model).
		Where("user_id = ?", userID).
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
