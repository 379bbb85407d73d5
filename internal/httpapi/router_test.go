package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/custard/gateway/internal/config"
	"github.com/custard/gateway/internal/gateway"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthReportsOKWithoutProbingDependencies(t *testing.T) {
	h := &handlers{gw: &gateway.Gateway{}}
	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	engine.GET("/health", h.Health)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	engine.ServeHTTP(w, c.Request)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestVersionReportsConfiguredPodID(t *testing.T) {
	h := &handlers{gw: &gateway.Gateway{Config: &config.Config{PodID: "pod-7"}}}
	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	engine.GET("/version", h.Version)
	c.Request = httptest.NewRequest(http.MethodGet, "/version", nil)
	engine.ServeHTTP(w, c.Request)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pod_id":"pod-7"`)
}

func TestRequireUISessionRejectsMissingBearerToken(t *testing.T) {
	gw := &gateway.Gateway{}
	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	engine.GET("/protected", requireUISession(gw), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	c.Request = httptest.NewRequest(http.MethodGet, "/protected", nil)
	engine.ServeHTTP(w, c.Request)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSMiddlewareReflectsAllowedOriginOnly(t *testing.T) {
	mw := corsMiddleware([]string{"https://app.example.com"})

	t.Run("allowed origin is echoed back", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, engine := gin.CreateTestContext(w)
		engine.GET("/x", mw, func(c *gin.Context) { c.Status(http.StatusOK) })
		c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
		c.Request.Header.Set("Origin", "https://app.example.com")
		engine.ServeHTTP(w, c.Request)

		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin is not echoed", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, engine := gin.CreateTestContext(w)
		engine.GET("/x", mw, func(c *gin.Context) { c.Status(http.StatusOK) })
		c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
		c.Request.Header.Set("Origin", "https://evil.example.com")
		engine.ServeHTTP(w, c.Request)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight OPTIONS short-circuits with 204", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, engine := gin.CreateTestContext(w)
		reached := false
		engine.OPTIONS("/x", mw, func(c *gin.Context) { reached = true })
		c.Request = httptest.NewRequest(http.MethodOptions, "/x", nil)
		engine.ServeHTTP(w, c.Request)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.False(t, reached)
	})
}
