package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/repo"
	"github.com/tbourn/go-habit-backend/internal/services"
	"github.com/tbourn/go-habit-backend/internal/utils"
)

// ListLogsResponse wraps a page of completion logs.
type ListLogsResponse struct {
	Logs       []domain.CompletionLog `json:"logs"`
	Pagination Pagination             `json:"pagination"`
}

// ListLogs godoc
// @ID          listLogs
// @Summary     List completion logs (paginated)
// @Description Newest day first. Filters are optional; from/to are inclusive UTC days. Supports If-None-Match.
// @Tags        Logs
// @Produce     json
// @Param       routine_id  query  string  false "Routine ID"  format(uuid)
// @Param       from        query  string  false "First day"   example(2024-06-01)
// @Param       to          query  string  false "Last day"    example(2024-06-30)
// @Param       state       query  string  false "Log state"   Enums(pending,done,late,missed,skipped,auto)
// @Param       page        query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size   query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListLogsResponse
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /logs [get]
func (h *Handlers) ListLogs(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), 20),
		20, 100,
	)
	f := repo.LogFilter{
		RoutineID: strings.TrimSpace(c.Query("routine_id")),
		From:      strings.TrimSpace(c.Query("from")),
		To:        strings.TrimSpace(c.Query("to")),
		State:     domain.LogState(strings.ToLower(strings.TrimSpace(c.Query("state")))),
	}

	// ETag pre-check (best effort).
	if svc, ok := h.routineSvc.(*services.RoutineService); ok && svc.DB != nil {
		count, maxTS, err := repo.LogsStats(ctx, svc.DB, uid)
		if err == nil {
			if notModified(c, "logs", uid, count, unixOrZero(maxTS), c.Request.URL.RawQuery) {
				return
			}
		}
	}

	items, total, err := h.routineSvc.ListLogs(ctx, uid, f, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListLogsResponse{
		Logs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
