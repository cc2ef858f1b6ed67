package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const ownerKey = "owner"

// Owner records the caller identity from the X-Owner-Id header. Requests
// without one run anonymously; jobs they create carry an empty owner.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if owner := strings.TrimSpace(c.GetHeader("X-Owner-Id")); owner != "" {
			c.Set(ownerKey, owner)
		}
		c.Next()
	}
}

// OwnerFromContext fetches the owner set by the Owner middleware.
func OwnerFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(ownerKey)
	if owner, ok := val.(string); ok {
		return owner
	}
	return ""
}
