// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-habit-backend/internal/config"
	"github.com/tbourn/go-habit-backend/internal/http/handlers"
	"github.com/tbourn/go-habit-backend/internal/http/middleware"
	"github.com/tbourn/go-habit-backend/internal/realtime"
	"github.com/tbourn/go-habit-backend/internal/repo"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	DB         *gorm.DB
	Config     config.Config
	Routines   handlers.RoutineService
	Completion handlers.CompletionService
	Analytics  handlers.AnalyticsService
	// Hub serves GET /events; nil disables the stream.
	Hub *realtime.Hub
}

var corsHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
	middleware.HeaderUserID, middleware.HeaderIdempotencyKey,
}

var corsExpose = []string{"X-Request-ID", "Content-Length", "ETag", "Location", "Retry-After", "Idempotency-Replayed"}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//  8. Gzip (event stream excluded)
//
// API group only:
//  1. Auth: resolve the caller
//  2. Idempotency validator (before rate limiter to allow bypass on replay)
//  3. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, d Deps) {
	cfg := d.Config
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	eventsPath := joinPath(apiBase, "/events")

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(eventsPath))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (allow all if none configured) and security headers
	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		CacheControl: middleware.DefaultAPICacheControl,
		EnablePolicy: true,
	}))

	// 8) Response compression; SSE must stay unbuffered
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{eventsPath})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	var events handlers.EventStream
	if d.Hub != nil {
		events = d.Hub
	}
	h := handlers.New(d.Routines, d.Completion, d.Analytics, events)
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}

	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.Auth(middleware.AuthOptions{Secret: []byte(cfg.JWTSecret)}))
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idempotencyLookup(d.DB)))
	api.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler())
	{
		// Routines
		api.GET("/routines", h.ListRoutines)
		api.POST("/routines", h.CreateRoutine)
		api.GET("/routines/:id", h.GetRoutine)
		api.PATCH("/routines/:id", h.UpdateRoutine)
		api.PUT("/routines/:id/status", h.SetRoutineStatus)

		// Completions
		api.POST("/routines/:id/completions", h.MarkCompletion)
		api.POST("/routines/:id/sessions", h.RecordSession)

		// Logs
		api.GET("/logs", h.ListLogs)

		// Analytics
		api.GET("/analytics/risk", h.GetRisk)
		api.GET("/analytics/heatmap", h.GetHeatmap)
		api.GET("/analytics/summary", h.GetSummary)

		// Events
		api.GET("/events", h.StreamEvents)
	}
}

// idempotencyLookup reports whether a live record exists for the key.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, routineID, key string, now time.Time) (bool, error) {
		if db == nil {
			return false, nil
		}
		rec, err := repo.GetIdempotency(ctx, db, userID, routineID, key, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}
}

func useCORS(r *gin.Engine, origins []string) {
	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	// Echo ACAO with the request Origin when it is in the allowlist.
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    corsExpose,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return prefix + p
}
