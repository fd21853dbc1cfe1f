// Routine HTTP handlers.
//
//   - GET   /routines              (list with today's log, weak ETag)
//   - POST  /routines              (create)
//   - GET   /routines/{id}         (read)
//   - PATCH /routines/{id}         (partial update)
//   - PUT   /routines/{id}/status  (active | paused | archived)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/repo"
	"github.com/tbourn/go-habit-backend/internal/services"
	"github.com/tbourn/go-habit-backend/internal/utils"
)

//
// DTOs
//

// CreateRoutineRequest is the JSON payload for creating a routine.
type CreateRoutineRequest = services.RoutineInput

// UpdateRoutineRequest is the JSON payload for PATCH; absent fields are kept.
type UpdateRoutineRequest = services.RoutinePatch

// SetStatusRequest is the JSON payload for PUT /routines/{id}/status.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required" example:"paused"`
}

// ListRoutinesResponse wraps the user's routines.
type ListRoutinesResponse struct {
	Routines []services.RoutineWithLog `json:"routines"`
}

// routineID validates the :id path parameter.
func routineID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "routine id must be a UUID")
		return "", false
	}
	return id, true
}

// parseStatuses reads ?status=a,b (or repeated ?status=) into statuses.
func parseStatuses(c *gin.Context) []domain.RoutineStatus {
	vals := utils.SplitList(c.QueryArray("status"))
	out := make([]domain.RoutineStatus, 0, len(vals))
	for _, v := range vals {
		out = append(out, domain.RoutineStatus(v))
	}
	return out
}

//
// Handlers
//

// ListRoutines godoc
// @ID          listRoutines
// @Summary     List routines with today's log
// @Description Active and paused routines by default; ?status= selects others. Supports If-None-Match.
// @Tags        Routines
// @Produce     json
// @Param       status         query   string  false "Comma-separated statuses"  example(active,paused)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Success     200  {object}  handlers.ListRoutinesResponse
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /routines [get]
func (h *Handlers) ListRoutines(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	statuses := parseStatuses(c)

	// ETag pre-check (best effort). Today's log is part of each item, so the
	// tag covers both tables and the current day.
	if svc, ok := h.routineSvc.(*services.RoutineService); ok && svc.DB != nil {
		rc, rts, err1 := repo.RoutinesStats(ctx, svc.DB, uid)
		lc, lts, err2 := repo.LogsStats(ctx, svc.DB, uid)
		if err1 == nil && err2 == nil {
			var keys []string
			for _, s := range statuses {
				keys = append(keys, string(s))
			}
			day := domain.DayKey(time.Now().UTC())
			if notModified(c, "routines", uid, strings.Join(keys, ","), day, rc, unixOrZero(rts), lc, unixOrZero(lts)) {
				return
			}
		}
	}

	items, err := h.routineSvc.List(ctx, uid, statuses...)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListRoutinesResponse{Routines: items})
}

// GetRoutine godoc
// @ID          getRoutine
// @Summary     Get a routine
// @Tags        Routines
// @Produce     json
// @Param       id   path  string  true  "Routine ID"  format(uuid)
// @Success     200  {object}  domain.Routine
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /routines/{id} [get]
func (h *Handlers) GetRoutine(c *gin.Context) {
	id, valid := routineID(c)
	if !valid {
		return
	}
	r, err := h.routineSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// CreateRoutine godoc
// @ID          createRoutine
// @Summary     Create a routine
// @Description Validates the schedule and rejects overlaps with active routines (409).
// @Tags        Routines
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateRoutineRequest  true  "Routine"
// @Success     201  {object}  domain.Routine
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /routines [post]
func (h *Handlers) CreateRoutine(c *gin.Context) {
	var req CreateRoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.routineSvc.Create(c.Request.Context(), userID(c), req)
	if err != nil {
		failService(c, err)
		return
	}
	c.Header("Location", c.Request.URL.Path+"/"+r.ID)
	ok(c, http.StatusCreated, r)
}

// UpdateRoutine godoc
// @ID          updateRoutine
// @Summary     Update a routine
// @Tags        Routines
// @Accept      json
// @Produce     json
// @Param       id    path  string                         true  "Routine ID"  format(uuid)
// @Param       body  body  handlers.UpdateRoutineRequest  true  "Fields to change"
// @Success     200  {object}  domain.Routine
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /routines/{id} [patch]
func (h *Handlers) UpdateRoutine(c *gin.Context) {
	id, valid := routineID(c)
	if !valid {
		return
	}
	var req UpdateRoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	r, err := h.routineSvc.Update(c.Request.Context(), userID(c), id, req)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// SetRoutineStatus godoc
// @ID          setRoutineStatus
// @Summary     Change a routine's status
// @Description Archived is terminal. Reactivation re-runs the schedule conflict check.
// @Tags        Routines
// @Accept      json
// @Produce     json
// @Param       id    path  string                     true  "Routine ID"  format(uuid)
// @Param       body  body  handlers.SetStatusRequest  true  "New status"
// @Success     200  {object}  domain.Routine
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /routines/{id}/status [put]
func (h *Handlers) SetRoutineStatus(c *gin.Context) {
	id, valid := routineID(c)
	if !valid {
		return
	}
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	status := domain.RoutineStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	r, err := h.routineSvc.SetStatus(c.Request.Context(), userID(c), id, status)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}
