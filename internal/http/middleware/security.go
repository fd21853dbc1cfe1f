package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge time.Duration // defaults to 180 days
	// CacheControl is the default Cache-Control of API responses. Handlers
	// may override it (the event stream does). Empty leaves it unset.
	CacheControl string
	EnablePolicy bool // Permissions-Policy and cross-domain policy
}

// DefaultAPICacheControl keeps per-user data out of shared caches while
// letting clients revalidate with If-None-Match.
const DefaultAPICacheControl = "private, no-cache"

// SecurityHeaders sets the hardening headers of a JSON API: nosniff, frame
// denial and no-referrer always; the policy, cache and HSTS headers as
// configured (HSTS only on HTTPS requests). X-Request-ID and ETag are added
// to Access-Control-Expose-Headers when present so browser clients can read
// them.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.CacheControl != "" {
			h.Set("Cache-Control", opt.CacheControl)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}

		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Get(expose)
	if cur == "" {
		h.Set(expose, name)
		return
	}
	for _, p := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return
		}
	}
	h.Set(expose, cur+", "+name)
}

// isHTTPS reports TLS termination here or at a proxy (X-Forwarded-Proto).
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
