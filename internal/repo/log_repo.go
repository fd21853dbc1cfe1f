// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// CompletionLog model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-habit-backend/internal/domain"
)

// LogFilter narrows log listings. Zero values are ignored; From and To are
// inclusive day keys.
type LogFilter struct {
	RoutineID string
	From      string
	To        string
	State     domain.LogState
}

func (f LogFilter) apply(q *gorm.DB) *gorm.DB {
	if f.RoutineID != "" {
		q = q.Where("routine_id = ?", f.RoutineID)
	}
	if f.From != "" {
		q = q.Where("day >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("day <= ?", f.To)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	return q
}

// CreateLog inserts l, assigning a UUID when unset. A second log for the same
// (user, routine, day) yields ErrDuplicate.
func CreateLog(ctx context.Context, db *gorm.DB, l *domain.CompletionLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.State == "" {
		l.State = domain.LogPending
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(l).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetLog returns the log of routineID on day for userID, or ErrNotFound.
func GetLog(ctx context.Context, db *gorm.DB, userID, routineID, day string) (*domain.CompletionLog, error) {
	var l domain.CompletionLog
	err := db.WithContext(ctx).
		Where("user_id = ? AND routine_id = ? AND day = ?", userID, routineID, day).
		First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLogByID returns a log by primary key scoped to its owner.
func GetLogByID(ctx context.Context, db *gorm.DB, id, userID string) (*domain.CompletionLog, error) {
	var l domain.CompletionLog
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// FindOrCreateLog returns the existing log for the day or inserts a pending
// one with the given source. A concurrent insert that wins the unique index is
// re-read rather than reported. The insert uses ON CONFLICT DO NOTHING so a
// lost race does not abort the caller's transaction on Postgres.
func FindOrCreateLog(ctx context.Context, db *gorm.DB, userID, routineID, day string, source domain.LogSource) (*domain.CompletionLog, error) {
	l, err := GetLog(ctx, db, userID, routineID, day)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	l = &domain.CompletionLog{
		UserID:    userID,
		RoutineID: routineID,
		Day:       day,
		State:     domain.LogPending,
		Source:    source,
	}
	created, err := insertLogIfAbsent(ctx, db, l)
	if err != nil {
		return nil, err
	}
	if !created {
		return GetLog(ctx, db, userID, routineID, day)
	}
	return l, nil
}

// insertLogIfAbsent inserts l unless a row with the same unique key exists,
// and reports whether it inserted.
func insertLogIfAbsent(ctx context.Context, db *gorm.DB, l *domain.CompletionLog) (bool, error) {
	l.ID = uuid.NewString()
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit(clause.Associations).
		Create(l)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SaveLog persists every mutable column of l.
func SaveLog(ctx context.Context, db *gorm.DB, l *domain.CompletionLog) error {
	if l.ID == "" {
		return gorm.ErrRecordNotFound
	}
	l.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(l).
		Select("*").
		Omit("id", "user_id", "routine_id", "day", "created_at", clause.Associations).
		Updates(l)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// HasSystemLogForDay reports whether the scheduler already seeded day.
func HasSystemLogForDay(ctx context.Context, db *gorm.DB, day string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.CompletionLog{}).
		Where("day = ? AND source = ?", day, domain.SourceSystem).
		Count(&n).Error
	return n > 0, err
}

// ListPendingLogs returns every pending log of day ordered by (user, routine).
func ListPendingLogs(ctx context.Context, db *gorm.DB, day string) ([]domain.CompletionLog, error) {
	var out []domain.CompletionLog
	err := db.WithContext(ctx).
		Where("day = ? AND state = ?", day, domain.LogPending).
		Order("user_id ASC, routine_id ASC").
		Find(&out).Error
	return out, err
}

// ListLogsForDay returns userID's logs on day.
func ListLogsForDay(ctx context.Context, db *gorm.DB, userID, day string) ([]domain.CompletionLog, error) {
	var out []domain.CompletionLog
	err := db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		Order("routine_id ASC").
		Find(&out).Error
	return out, err
}

// ListLogsInRange returns userID's logs with from <= day <= to, oldest first.
func ListLogsInRange(ctx context.Context, db *gorm.DB, userID, from, to string) ([]domain.CompletionLog, error) {
	var out []domain.CompletionLog
	err := db.WithContext(ctx).
		Where("user_id = ? AND day >= ? AND day <= ?", userID, from, to).
		Order("day ASC, routine_id ASC").
		Find(&out).Error
	return out, err
}

// CountLogs returns how many of userID's logs match f.
func CountLogs(ctx context.Context, db *gorm.DB, userID string, f LogFilter) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.CompletionLog{}).Where("user_id = ?", userID)
	err := f.apply(q).Count(&total).Error
	return total, err
}

// ListLogsPage returns a page of userID's logs matching f, newest day first.
// The caller computes offset and limit (e.g., (page-1)*pageSize).
func ListLogsPage(ctx context.Context, db *gorm.DB, userID string, f LogFilter, offset, limit int) ([]domain.CompletionLog, error) {
	var out []domain.CompletionLog
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	err := f.apply(q).
		Order("day DESC, routine_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
