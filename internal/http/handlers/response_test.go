package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-habit-backend/internal/services"
)

func Test_fail_EnvelopeAndLogging(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		status int
		code   string
		logged bool
	}{
		{http.StatusNotFound, ErrCodeNotFound, false},
		{http.StatusConflict, ErrCodeConflict, false},
		{http.StatusInternalServerError, ErrCodeInternal, true},
		{http.StatusServiceUnavailable, ErrCodeInternal, true},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		r := gin.New()
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("X-Request-ID", "rid-1")
			c.Set("logger", &logger)
			c.Next()
		})
		r.GET("/routines/:id", func(c *gin.Context) {
			_ = c.Error(errors.New("sqlite: database is locked"))
			fail(c, tc.status, tc.code, "routine unavailable")
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/routines/r1", nil))
		if w.Code != tc.status {
			t.Fatalf("status = %d; want %d", w.Code, tc.status)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("json: %v", err)
		}
		if resp != (ErrorResponse{RequestID: "rid-1", Code: tc.code, Message: "routine unavailable"}) {
			t.Fatalf("envelope = %+v", resp)
		}

		out := buf.String()
		if got := strings.Contains(out, `"message":"api error"`); got != tc.logged {
			t.Fatalf("status %d logged=%v:\n%s", tc.status, got, out)
		}
		if tc.logged && !strings.Contains(out, "database is locked") {
			t.Fatalf("attached error missing from log:\n%s", out)
		}
	}
}

func Test_Fail_Exported(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.NoRoute(func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusNotFound || resp.Code != ErrCodeNotFound || resp.RequestID != "" {
		t.Fatalf("status=%d body=%+v", w.Code, resp)
	}
}

func Test_failService_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err    error
		status int
		code   string
		msg    string
	}{
		{fmt.Errorf("%w: title failed %q", services.ErrInvalidRoutine, "required"), http.StatusBadRequest, ErrCodeBadRequest, `invalid routine: title failed "required"`},
		{services.ErrRoutineNotFound, http.StatusNotFound, ErrCodeNotFound, "routine not found"},
		{fmt.Errorf("%w: 2024-06-10 is done", services.ErrLogResolved), http.StatusConflict, ErrCodeConflict, "log already resolved: 2024-06-10 is done"},
		{services.ErrSessionNotEligible, http.StatusUnprocessableEntity, ErrCodeNotEligible, "session does not qualify for auto-completion"},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternal, "internal error"},
	}
	for _, tc := range cases {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) { failService(c, tc.err) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

		if w.Code != tc.status {
			t.Fatalf("%v: status=%d want %d", tc.err, w.Code, tc.status)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("json: %v", err)
		}
		if resp.Code != tc.code || resp.Message != tc.msg {
			t.Fatalf("%v: got %+v", tc.err, resp)
		}
	}
}
