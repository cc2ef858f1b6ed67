package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cim-backend/internal/documents"
	"cim-backend/internal/extractions"
	"cim-backend/internal/resilience"
	"cim-backend/internal/shared/config"
	"cim-backend/internal/shared/metrics"
	"cim-backend/internal/shared/server/middleware"
	"cim-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers and shared state the router wires up.
type RouterDeps struct {
	Config      config.Config
	Documents   *documents.Handler
	Extractions *extractions.Handler
	Breakers    *resilience.Registry
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Owner(),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: "DEFAULT",
			GroupFor: func(c *gin.Context) string {
				if c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/extractions/:id" {
					return "POLLING"
				}
				return ""
			},
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT": {Rate: 5, Burst: 20},
				"POLLING": {Rate: 10, Burst: 60},
			},
		}),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		body := gin.H{"ok": true}
		if deps.Breakers != nil {
			body["breakers"] = deps.Breakers.States()
		}
		respond.JSON(c, http.StatusOK, body)
	})
	r.GET("/metrics", metrics.Handler())

	if deps.Documents != nil {
		deps.Documents.RegisterRoutes(api)
	}
	if deps.Extractions != nil {
		deps.Extractions.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
