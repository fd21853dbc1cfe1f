package domain

import "time"

// LogState is the state of a per-day completion log.
type LogState string

const (
	LogPending LogState = "pending"
	LogDone    LogState = "done"
	LogLate    LogState = "late"
	LogMissed  LogState = "missed"
	LogSkipped LogState = "skipped"
	LogAuto    LogState = "auto"
)

// Valid reports whether s is a known log state.
func (s LogState) Valid() bool {
	switch s {
	case LogPending, LogDone, LogLate, LogMissed, LogSkipped, LogAuto:
		return true
	}
	return false
}

// Terminal reports whether the log has been resolved. Terminal logs never
// return to pending.
func (s LogState) Terminal() bool { return s.Valid() && s != LogPending }

// Success reports whether the state counts toward a streak.
func (s LogState) Success() bool { return s == LogDone || s == LogLate || s == LogAuto }

// LogSource records who resolved or created a log.
type LogSource string

const (
	SourceUser        LogSource = "user"
	SourceSystem      LogSource = "system"
	SourceSessionHook LogSource = "session_hook"
)

// CompletionLog is the single record of one routine on one calendar day.
// (user_id, routine_id, day) is unique; day is "YYYY-MM-DD" in UTC.
type CompletionLog struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_log_user_routine_day,priority:1;index:idx_log_user_day,priority:1"`
	RoutineID string `json:"routine_id" gorm:"type:char(36);not null;uniqueIndex:ux_log_user_routine_day,priority:2"`
	Day       string `json:"day"        gorm:"type:varchar(10);not null;uniqueIndex:ux_log_user_routine_day,priority:3;index:idx_log_user_day,priority:2;index:idx_log_day_state,priority:1"`

	State           LogState   `json:"state"                    gorm:"type:varchar(16);not null;default:'pending';index:idx_log_day_state,priority:2"`
	LatenessMinutes int        `json:"lateness_minutes"         gorm:"not null;default:0"`
	ResistanceScore int        `json:"resistance_score"         gorm:"not null;default:0"`
	StreakAfter     int        `json:"streak_after"             gorm:"not null;default:0"`
	AutoCaptured    bool       `json:"auto_captured"            gorm:"not null;default:false"`
	SessionMinutes  int        `json:"session_minutes"          gorm:"not null;default:0"`
	Source          LogSource  `json:"source"                   gorm:"type:varchar(16);not null;default:'user'"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Routine is the owning routine.
	Routine Routine `json:"-" gorm:"foreignKey:RoutineID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CompletionLog.
func (CompletionLog) TableName() string { return "completion_logs" }
