package domain

import "time"

// Idempotency records the outcome of a completion request keyed by
// (user_id, routine_id, key), so a retried request replays the stored log
// instead of applying its side effects twice.
type Idempotency struct {
	ID        string    `gorm:"type:varchar(36);not null;primaryKey"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_routine_key,priority:1"`
	RoutineID string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_user_routine_key,priority:2"`
	Key       string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_user_routine_key,priority:3"`
	LogID     string    `gorm:"type:varchar(36);not null"`
	Status    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
