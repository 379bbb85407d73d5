// Package httpapi wires the Custard control plane's HTTP and WebSocket
// surface: Connection CRUD, schema refresh, Query, CSV upload/lifecycle,
// and the two WebSocket mounts (Agent Session Endpoint, Status WebSocket
// Endpoint).
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/custard/gateway/internal/agentws"
	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/gateway"
	"github.com/custard/gateway/internal/middleware"
	"github.com/custard/gateway/internal/statusfanout"
)

// wsExcludedPaths are skipped by the gzip middleware: compressing a
// WebSocket upgrade response corrupts the handshake.
var wsExcludedPaths = []string{"/api/v1/ws/"}

// NewRouter builds the gin.Engine for gw, with every ambient middleware
// in place and every route mounted. corsAllowedOrigins is the exact set
// of UI origins permitted to call the API cross-origin.
func NewRouter(gw *gateway.Gateway, corsAllowedOrigins []string) *gin.Engine {
	if gw.Config.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(apperrors.Recovery())
	router.Use(middleware.StructuredLoggerWithConfigFunc(middleware.DefaultStructuredLoggerConfig()))
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(middleware.AllowedHTTPMethods())
	router.Use(corsMiddleware(corsAllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	validator := middleware.NewInputValidator()
	router.Use(validator.Middleware())
	router.Use(validator.SanitizeJSONMiddleware())

	router.Use(middleware.DefaultSizeLimiter())
	router.Use(middleware.GzipWithExclusions(middleware.BestSpeed, wsExcludedPaths))
	router.Use(apperrors.ErrorHandler())

	ipLimiter := middleware.NewRateLimiter(50, 100)
	router.Use(ipLimiter.Middleware())

	h := &handlers{gw: gw}
	uiAuth := requireUISession(gw)
	userLimiter := middleware.NewUserRateLimiter(2000, 50)
	endpointLimiter := middleware.NewEndpointRateLimiter(120, 10)

	router.GET("/health", h.Health)
	router.GET("/version", h.Version)

	agentEndpoint := agentws.NewEndpoint(gw.Authenticator, gw.Registry, gw.Correlator, gw.SchemaWriter())
	router.GET("/api/v1/ws/agent", func(c *gin.Context) { agentEndpoint.Serve(c.Writer, c.Request) })

	statusEndpoint := statusfanout.NewEndpoint(gw.StatusFanOut, corsAllowedOrigins)
	router.GET("/api/v1/ws/status", uiAuth, func(c *gin.Context) {
		statusEndpoint.Serve(c.Writer, c.Request, c.GetString(contextUserIDKey))
	})

	v1 := router.Group("/api/v1", uiAuth, userLimiter.Middleware())
	{
		v1.POST("/connections", endpointLimiter.Middleware("create_connection"), h.CreateConnection)
		v1.GET("/connections", h.ListConnections)
		v1.GET("/connections/:connection_id", h.GetConnection)
		v1.DELETE("/connections/:connection_id", h.DeleteConnection)
		v1.POST("/connections/:connection_id/refresh-schema", h.RefreshSchema)

		v1.POST("/files", endpointLimiter.Middleware("upload_csv"), h.UploadCSV)
		v1.GET("/files", h.ListCSV)
		v1.GET("/files/:file_id", h.GetCSV)
		v1.DELETE("/files/:file_id", h.DeleteCSV)

		v1.POST("/query", h.Query)
	}

	return router
}

type handlers struct {
	gw *gateway.Gateway
}

// Health reports process liveness; it does not probe downstream
// dependencies, matching its use as a container liveness probe.
func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// Version reports the running pod identity, useful when several pods
// answer behind one load balancer.
func (h *handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pod_id": h.gw.Config.PodID})
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
