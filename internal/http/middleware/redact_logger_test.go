package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// accessLines decodes every "http_request" line in buf.
func accessLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if m["message"] == "http_request" {
			out = append(out, m)
		}
	}
	return out
}

func TestRedact(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"state=done&page=2", "state=done&page=2"},
		{"routine_id=123e4567-e89b-12d3-a456-426614174000", "routine_id=[REDACTED:id]"},
		{"access_token=eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1In0.c2ln", "access_token=[REDACTED:token]"},
		{"owner alice@example.com", "owner [REDACTED:email]"},
		{"call 555-123-4567", "call [REDACTED:phone]"},
	}
	for _, tc := range cases {
		if got := redact(tc.in); got != tc.want {
			t.Errorf("redact(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactingLogger_AccessLine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}), Auth(AuthOptions{}))
	r.GET("/routines/:id", func(c *gin.Context) { c.String(http.StatusOK, "{}") })

	target := "/routines/123e4567-e89b-12d3-a456-426614174000?access_token=eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1In0.c2ln"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-Request-ID", "rid-7")
	req.Header.Set(HeaderUserID, "u42")
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Note", "ping alice@example.com")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := accessLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d access lines: %s", len(lines), buf.String())
	}
	m := lines[0]
	want := map[string]any{
		"level":      "info",
		"request_id": "rid-7",
		"user_id":    "u42",
		"path":       "/routines/:id",
		"query":      "access_token=[REDACTED:token]",
		"status":     float64(http.StatusOK),
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v; want %v", k, m[k], v)
		}
	}

	headers, _ := m["headers"].(map[string]any)
	for h, v := range map[string]string{
		"Authorization": "[REDACTED]",
		"Cookie":        "[REDACTED]",
		"X-Api-Key":     "[REDACTED]",
		"X-Note":        "ping [REDACTED:email]",
	} {
		if headers[h] != v {
			t.Errorf("header %s = %v; want %q", h, headers[h], v)
		}
	}
	if strings.Contains(buf.String(), "topsecret") || strings.Contains(buf.String(), "eyJzdWIi") {
		t.Fatalf("secret leaked: %s", buf.String())
	}
}

func TestRedactingLogger_LevelByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		status int
		level  string
	}{
		{http.StatusCreated, "info"},
		{http.StatusConflict, "warn"},
		{http.StatusUnprocessableEntity, "warn"},
		{http.StatusInternalServerError, "error"},
	}
	for _, tc := range cases {
		buf := withCapturedLogger(t)
		r := gin.New()
		// No RequestID middleware: the incoming header is used as is.
		r.Use(RedactingLogger(RedactOptions{}))
		r.POST("/routines/:id/completions", func(c *gin.Context) { c.Status(tc.status) })

		req := httptest.NewRequest(http.MethodPost, "/routines/r1/completions", nil)
		req.Header.Set("X-Request-ID", "rid-in")
		r.ServeHTTP(httptest.NewRecorder(), req)

		lines := accessLines(t, buf)
		if len(lines) != 1 {
			t.Fatalf("status %d: %d lines", tc.status, len(lines))
		}
		if lines[0]["level"] != tc.level || lines[0]["request_id"] != "rid-in" {
			t.Errorf("status %d: level=%v request_id=%v", tc.status, lines[0]["level"], lines[0]["request_id"])
		}
	}
}
