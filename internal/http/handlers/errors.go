// Package handlers defines the HTTP-layer error codes of the habit API and
// the mapping from service errors to status codes.
//
// Every error response carries one of the codes below in the standard
// envelope (see ErrorResponse). Clients should branch on the code, never on
// the message:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "conflict",
//	  "message": "log already resolved"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-habit-backend/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeNotEligible      = "not_eligible"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
)

// serviceErrors maps sentinel errors to (status, code). Order does not
// matter: each sentinel is distinct.
var serviceErrors = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrInvalidRoutine, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidAction, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidDate, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidStatus, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrInvalidFilter, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrRoutineNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrScheduleConflict, http.StatusConflict, ErrCodeConflict},
	{services.ErrLogResolved, http.StatusConflict, ErrCodeConflict},
	{services.ErrRoutineArchived, http.StatusConflict, ErrCodeConflict},
	{services.ErrRoutineInactive, http.StatusConflict, ErrCodeConflict},
	{services.ErrSessionNotEligible, http.StatusUnprocessableEntity, ErrCodeNotEligible},
}

// failService writes the envelope for a service error. Known sentinels keep
// their wrapped detail as the message; anything else is a logged 500 whose
// message does not leak internals.
func failService(c *gin.Context, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			fail(c, m.status, m.code, err.Error())
			return
		}
	}
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}
