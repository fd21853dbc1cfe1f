// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Routine model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a routine is not found, functions return gorm.ErrRecordNotFound
//     (also exported as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

// CreateRoutine inserts r, assigning a UUID and UTC timestamps when unset.
func CreateRoutine(ctx context.Context, db *gorm.DB, r *domain.Routine) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return db.WithContext(ctx).Create(r).Error
}

// GetRoutine fetches a routine by ID and owner. Missing or foreign routines
// yield ErrNotFound.
func GetRoutine(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Routine, error) {
	var r domain.Routine
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRoutineByID fetches a routine regardless of owner. Used by batch steps
// that already hold a log referencing the routine.
func GetRoutineByID(ctx context.Context, db *gorm.DB, id string) (*domain.Routine, error) {
	var r domain.Routine
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoutines returns a user's routines ordered by start time then ID. When
// statuses is non-empty only those statuses are returned.
func ListRoutines(ctx context.Context, db *gorm.DB, userID string, statuses ...domain.RoutineStatus) ([]domain.Routine, error) {
	var out []domain.Routine
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	err := q.Order("time_start ASC, id ASC").Find(&out).Error
	return out, err
}

// ListActiveRoutines returns every active routine across all users, ordered
// by (user_id, id) so batch steps are deterministic.
func ListActiveRoutines(ctx context.Context, db *gorm.DB) ([]domain.Routine, error) {
	var out []domain.Routine
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusActive).
		Order("user_id ASC, id ASC").
		Find(&out).Error
	return out, err
}

// SaveRoutine persists every column of r. The row must exist and belong to
// r.UserID, otherwise ErrNotFound is returned.
func SaveRoutine(ctx context.Context, db *gorm.DB, r *domain.Routine) error {
	if r.ID == "" {
		return gorm.ErrRecordNotFound
	}
	r.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(r).
		Where("user_id = ?", r.UserID).
		Select("*").
		Omit("id", "user_id", "created_at").
		Updates(r)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
