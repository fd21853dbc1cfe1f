// Package handlers provides the Gin handlers of the habit API. Handlers are
// transport-thin: they bind and validate input, call a service, and turn the
// result or the service error into a JSON response.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-habit-backend/internal/analytics"
	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/http/middleware"
	"github.com/tbourn/go-habit-backend/internal/realtime"
	"github.com/tbourn/go-habit-backend/internal/repo"
	"github.com/tbourn/go-habit-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// RoutineService manages routine definitions and reads their logs.
type RoutineService interface {
	List(ctx context.Context, userID string, statuses ...domain.RoutineStatus) ([]services.RoutineWithLog, error)
	Get(ctx context.Context, userID, id string) (*domain.Routine, error)
	Create(ctx context.Context, userID string, in services.RoutineInput) (*domain.Routine, error)
	Update(ctx context.Context, userID, id string, patch services.RoutinePatch) (*domain.Routine, error)
	SetStatus(ctx context.Context, userID, id string, status domain.RoutineStatus) (*domain.Routine, error)
	ListLogs(ctx context.Context, userID string, f repo.LogFilter, page, pageSize int) ([]domain.CompletionLog, int64, error)
}

// CompletionService resolves daily logs from user actions and sessions.
type CompletionService interface {
	Mark(ctx context.Context, userID, routineID, date string, action services.Action) (*services.CompletionResult, error)
	RecordSession(ctx context.Context, userID, routineID string, minutes int, at time.Time) (*services.CompletionResult, error)
}

// AnalyticsService computes the read-only views.
type AnalyticsService interface {
	Risk(ctx context.Context, userID string, window int) (analytics.RiskSnapshot, error)
	Heatmap(ctx context.Context, userID string, window int) (analytics.Heatmap, error)
	Summary(ctx context.Context, userID string, window int) (analytics.Summary, error)
}

// EventStream is the per-user SSE fan-out.
type EventStream interface {
	Subscribe(userID string) *realtime.Client
	Unsubscribe(c *realtime.Client)
	ServeHTTP(w http.ResponseWriter, r *http.Request, c *realtime.Client)
}

//
// Handler wiring
//

// Handlers groups the API endpoints.
type Handlers struct {
	routineSvc    RoutineService
	completionSvc CompletionService
	analyticsSvc  AnalyticsService
	events        EventStream

	// IdempotencyTTL is how long a completion can be replayed by key.
	IdempotencyTTL time.Duration
}

// New binds handlers to their services. events may be nil, in which case
// GET /events answers 404.
func New(rs RoutineService, cs CompletionService, as AnalyticsService, events EventStream) *Handlers {
	return &Handlers{
		routineSvc:     rs,
		completionSvc:  cs,
		analyticsSvc:   as,
		events:         events,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// userID returns the caller resolved by middleware.Auth.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// notModified sets a weak ETag built from parts and reports whether the
// request's If-None-Match matched it, in which case 304 has been written.
func notModified(c *gin.Context, parts ...any) bool {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprint(p)
	}
	etag := `W/"` + strings.Join(strs, ":") + `"`
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixNano()
}
