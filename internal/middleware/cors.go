package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, X-Request-Id"
	corsMaxAge  = "600"
)

// CORS answers preflight requests with 204. An empty allowlist allows every
// origin; origins outside a non-empty allowlist get no CORS headers.
func CORS(allowlist []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowlist))
	for _, origin := range allowlist {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[strings.TrimSuffix(origin, "/")] = true
		}
	}
	return func(c *gin.Context) {
		h := c.Writer.Header()
		allowOrigin := "*"
		if len(allowed) > 0 {
			allowOrigin = c.GetHeader("Origin")
			if !allowed[allowOrigin] {
				allowOrigin = ""
			}
		}
		if allowOrigin != "" {
			h.Set("Access-Control-Allow-Origin", allowOrigin)
			if allowOrigin != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Expose-Headers", HeaderRequestID)
		}
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", corsMaxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
