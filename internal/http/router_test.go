package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-habit-backend/internal/config"
	"github.com/tbourn/go-habit-backend/internal/domain"
	"github.com/tbourn/go-habit-backend/internal/http/middleware"
	"github.com/tbourn/go-habit-backend/internal/realtime"
	"github.com/tbourn/go-habit-backend/internal/repo"
	"github.com/tbourn/go-habit-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "router.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		IdempotencyTTL: time.Hour,
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	hub := realtime.NewHub()
	r := gin.New()
	RegisterRoutes(r, Deps{
		DB:         db,
		Config:     cfg,
		Routines:   services.NewRoutineService(db, nil, hub),
		Completion: &services.CompletionService{DB: db, Events: hub, XPBase: 10},
		Analytics:  &services.AnalyticsService{DB: db, Events: hub},
		Hub:        hub,
	})
	return r, db
}

func serve(r *gin.Engine, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	// /health works
	w := serve(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = serve(r, http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = serve(r, http.MethodPost, "/health", nil, nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newRouter(t, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// routes live under the configured base path
	w = serve(r, http.MethodGet, "/api/v2/routines", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/v2/routines = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// Smoke test that a request traverses the full middleware pipeline.
func TestPipeline_Smoke(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // enabled (but only set on https)
	r, _ := newRouter(t, cfg)

	w := serve(r, http.MethodGet, "/api/v1/routines", nil, map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /routines = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if enc := w.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("expected gzip response, got %q", enc)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestRegisterRoutes_BearerAuth(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "s3cret"
	r, _ := newRouter(t, cfg)

	// health stays open
	if w := serve(r, http.MethodGet, "/health", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}

	w := serve(r, http.MethodGet, "/api/v1/routines", nil, map[string]string{middleware.HeaderUserID: "u1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("header identity must be ignored with a secret, got %d", w.Code)
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	w = serve(r, http.MethodGet, "/api/v1/routines", nil, map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusOK {
		t.Fatalf("bearer GET /routines = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_CompletionReplay(t *testing.T) {
	r, db := newRouter(t, testConfig())
	user := map[string]string{middleware.HeaderUserID: "u1"}

	now := time.Now().UTC()
	body, _ := json.Marshal(map[string]any{
		"title":      "Stretch",
		"recurrence": "daily",
		"time_start": now.Format("15:04"),
		"timezone":   "UTC",
	})
	w := serve(r, http.MethodPost, "/api/v1/routines", body, user)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var rt domain.Routine
	if err := json.Unmarshal(w.Body.Bytes(), &rt); err != nil {
		t.Fatalf("json: %v", err)
	}
	if loc := w.Header().Get("Location"); loc != "/api/v1/routines/"+rt.ID {
		t.Fatalf("Location=%q", loc)
	}

	path := "/api/v1/routines/" + rt.ID + "/completions"
	hdr := map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "retry-1"}
	mark := []byte(`{"action":"done"}`)
	if w = serve(r, http.MethodPost, path, mark, hdr); w.Code != http.StatusOK {
		t.Fatalf("mark: %d %s", w.Code, w.Body.String())
	}

	rec, err := repo.GetIdempotency(context.Background(), db, "u1", rt.ID, "retry-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("idempotency record: %v", err)
	}
	if rec.ExpiresAt.Sub(rec.CreatedAt) > time.Hour+time.Minute {
		t.Fatalf("configured TTL not applied: %v", rec.ExpiresAt.Sub(rec.CreatedAt))
	}

	w = serve(r, http.MethodPost, path, mark, hdr)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d %q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}

	// another user cannot replay u1's key
	w = serve(r, http.MethodPost, path, mark, map[string]string{middleware.HeaderUserID: "u2", middleware.HeaderIdempotencyKey: "retry-1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign replay: %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotencyCallback_ErrorBranch(t *testing.T) {
	r, db := newRouter(t, testConfig())

	// force queries to fail by closing the underlying connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	// Lookup errors are misses; the handler then fails on the closed DB.
	w := serve(r, http.MethodPost, "/api/v1/routines/6f1c2a52-6e55-4b35-9d0a-0c1f4b0b7a11/completions",
		[]byte(`{"action":"done"}`),
		map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "force-error"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func Test_idempotencyLookup_NilDB(t *testing.T) {
	found, err := idempotencyLookup(nil)(context.Background(), "u", "r", "k", time.Now())
	if found || err != nil {
		t.Fatalf("nil db lookup = %v, %v", found, err)
	}
}

func Test_joinPath(t *testing.T) {
	cases := map[string]string{"": "/events", "/": "/events", "/api/v1": "/api/v1/events"}
	for prefix, want := range cases {
		if got := joinPath(prefix, "/events"); got != want {
			t.Fatalf("joinPath(%q)=%q want %q", prefix, got, want)
		}
	}
}

