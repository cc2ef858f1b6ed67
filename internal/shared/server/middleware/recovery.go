package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"cim-backend/internal/shared/server/respond"
	"cim-backend/internal/shared/telemetry"
)

// Recovery recovers from handler panics and returns a standardized error
// response. The stack goes to telemetry, never to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				fields := map[string]any{
					"request_id": RequestIDFromContext(c),
					"error":      rec,
					"stack":      string(debug.Stack()),
					"path":       c.Request.URL.Path,
					"method":     c.Request.Method,
				}
				if owner := OwnerFromContext(c); owner != "" {
					fields["owner"] = owner
				}
				telemetry.Error("panic", fields)
				respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
				c.Abort()
			}
		}()
		c.Next()
	}
}
