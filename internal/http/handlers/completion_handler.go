// Completion HTTP handlers.
//
//   - POST /routines/{id}/completions  (mark a day done or skipped)
//   - POST /routines/{id}/sessions     (report a focus session)
//
// Idempotency:
// With an Idempotency-Key header, a successful result is recorded for
// (user, routine, key). A retry within the TTL replays the stored log with
// `Idempotency-Replayed: true` instead of failing with 409 on the now
// resolved day.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-habit-backend/internal/http/middleware"
	"github.com/tbourn/go-habit-backend/internal/repo"
	"github.com/tbourn/go-habit-backend/internal/services"
)

//
// DTOs
//

// MarkCompletionRequest is the JSON payload for POST /routines/{id}/completions.
type MarkCompletionRequest struct {
	// Action is "done" or "skip".
	Action string `json:"action" binding:"required" example:"done"`
	// Date is an optional past or current day (YYYY-MM-DD, UTC); today when empty.
	Date string `json:"date" example:"2024-06-10"`
}

// RecordSessionRequest is the JSON payload for POST /routines/{id}/sessions.
type RecordSessionRequest struct {
	// Minutes is the session length.
	Minutes int `json:"minutes" binding:"required,gt=0" example:"25"`
	// At is when the session ended; now when omitted.
	At *time.Time `json:"at" example:"2024-06-10T07:20:00Z"`
}

//
// Handlers
//

// MarkCompletion godoc
// @ID          markCompletion
// @Summary     Mark today's (or a past day's) log
// @Description Resolves the day as done/late or skipped. Supports Idempotency-Key.
// @Tags        Completions
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       id               path    string  true  "Routine ID"  format(uuid)
// @Param       body             body    handlers.MarkCompletionRequest  true  "Action"
// @Success     200  {object}  services.CompletionResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /routines/{id}/completions [post]
func (h *Handlers) MarkCompletion(c *gin.Context) {
	id, valid := routineID(c)
	if !valid {
		return
	}
	var req MarkCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "action required")
		return
	}

	h.resolve(c, id, func(ctx context.Context, uid string) (*services.CompletionResult, error) {
		return h.completionSvc.Mark(ctx, uid, id, req.Date, services.Action(req.Action))
	})
}

// RecordSession godoc
// @ID          recordSession
// @Summary     Report a focus session
// @Description Auto-completes today's log when the routine opts in and the session is long enough (422 otherwise). Supports Idempotency-Key.
// @Tags        Completions
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       id               path    string  true  "Routine ID"  format(uuid)
// @Param       body             body    handlers.RecordSessionRequest  true  "Session"
// @Success     200  {object}  services.CompletionResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Failure     422  {object}  handlers.ErrorResponse
// @Router      /routines/{id}/sessions [post]
func (h *Handlers) RecordSession(c *gin.Context) {
	id, valid := routineID(c)
	if !valid {
		return
	}
	var req RecordSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "minutes must be a positive integer")
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	h.resolve(c, id, func(ctx context.Context, uid string) (*services.CompletionResult, error) {
		return h.completionSvc.RecordSession(ctx, uid, id, req.Minutes, at)
	})
}

// resolve runs op under the idempotency replay/store protocol.
func (h *Handlers) resolve(c *gin.Context, rid string, op func(ctx context.Context, uid string) (*services.CompletionResult, error)) {
	ctx := c.Request.Context()
	uid := userID(c)
	idemKey, _ := middleware.GetIdempotencyKey(c)

	svc, _ := h.completionSvc.(*services.CompletionService)
	canStore := idemKey != "" && svc != nil && svc.DB != nil

	// Replay path; the validator already found a live record.
	if canStore && middleware.IsReplay(c) {
		if res, found := replay(ctx, svc, uid, rid, idemKey); found {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, res)
			return
		}
	}

	res, err := op(ctx, uid)
	if err != nil {
		failService(c, err)
		return
	}

	// Store path (best effort).
	if canStore {
		_, err := repo.CreateIdempotency(ctx, svc.DB, uid, rid, idemKey, res.Log.ID, http.StatusOK, h.IdempotencyTTL)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("routine_id", rid).Msg("store idempotency record")
		}
	}
	ok(c, http.StatusOK, res)
}

// replay rebuilds the result of a stored request from the current rows.
func replay(ctx context.Context, svc *services.CompletionService, uid, rid, key string) (*services.CompletionResult, bool) {
	rec, err := repo.GetIdempotency(ctx, svc.DB, uid, rid, key, time.Now().UTC())
	if err != nil {
		return nil, false
	}
	l, err := repo.GetLogByID(ctx, svc.DB, rec.LogID, uid)
	if err != nil {
		return nil, false
	}
	r, err := repo.GetRoutine(ctx, svc.DB, rid, uid)
	if err != nil {
		return nil, false
	}
	res := &services.CompletionResult{Log: *l, Routine: *r}
	if l.State.Success() {
		res.XP = services.XPFor(svc.XPBase, l.LatenessMinutes)
	}
	return res, true
}
