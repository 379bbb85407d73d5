package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/custard/gateway/internal/auth"
	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/gateway"
)

// contextUserIDKey is where requireUISession stores the verified caller's
// user id for downstream handlers.
const contextUserIDKey = "user_id"

// requireUISession verifies the Authorization bearer token against the
// OIDC provider and stores the resulting user id in the gin context.
// Rejected requests never reach the handler.
func requireUISession(gw *gateway.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			// WebSocket clients can't set a custom header on the upgrade
			// request from a browser, so the status endpoint also accepts
			// the token as a query parameter.
			if t := c.Query("token"); t != "" {
				rawToken, ok = t, true
			}
		}
		if !ok {
			apperrors.AbortWithError(c, apperrors.Unauthorized("missing bearer token"))
			return
		}

		claims, err := gw.UIVerifier.Verify(c.Request.Context(), rawToken)
		if err != nil {
			apperrors.AbortWithError(c, apperrors.Unauthorized("invalid or expired session token"))
			return
		}

		c.Set(contextUserIDKey, claims.UserID)
		c.Next()
	}
}
