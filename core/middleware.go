package core

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware sets CORS headers for origins in cfg.AllowedOrigins and
// answers preflight requests. "*" allows every origin, but credentials are
// only allowed for origins listed by name. Requests from other origins are
// passed through without CORS headers, so browsers block them.
func CORSMiddleware(cfg Config) gin.HandlerFunc {
	allowAll := false
	listed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			allowAll = true
			continue
		}
		listed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		_, isListed := listed[strings.ToLower(origin)]
		if origin == "" || (!isListed && !allowAll) {
			if c.Request.Method == http.MethodOptions && origin != "" {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
				c.Abort()
				return
			}
			c.Next()
			return
		}
		setCORSHeaders(c, origin, isListed)
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string, credentials bool) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	if credentials {
		c.Header("Access-Control-Allow-Credentials", "true")
	}
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
}

// BodyLimitMiddleware caps request bodies at limit bytes; limit <= 0 disables the cap.
func BodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
