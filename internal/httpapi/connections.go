package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/custard/gateway/internal/auth"
	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/models"
)

// CreateConnection creates a Connection owned by the caller and returns
// its agent_id and agent_key. The agent_key is bcrypt-hashed before
// storage and is never retrievable again after this response.
func (h *handlers) CreateConnection(c *gin.Context) {
	var req models.ConnectionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithError(c, apperrors.New(apperrors.CodeInternal, "invalid request body"))
		return
	}

	agentKey, err := auth.GenerateAgentKey()
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	agentKeyHash, err := auth.HashAgentKey(agentKey)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}

	conn, err := h.gw.Connections.Create(c.Request.Context(), req.Name, req.DBType, userID(c), agentKeyHash)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusCreated, models.ConnectionCreateResponse{
		ConnectionID: conn.ConnectionID,
		AgentID:      conn.AgentID,
		AgentKey:     agentKey,
		WebsocketURL: fmt.Sprintf("wss://%s/api/v1/ws/agent", c.Request.Host),
	})
}

// ListConnections lists every Connection owned by the caller.
func (h *handlers) ListConnections(c *gin.Context) {
	conns, err := h.gw.Connections.ListByOwner(c.Request.Context(), userID(c))
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

// GetConnection fetches one Connection owned by the caller.
func (h *handlers) GetConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conn)
}

// DeleteConnection removes a Connection, invalidates its cached schema,
// and closes the agent's live session, if any. A later handshake with the
// same agent_id fails authentication once the row is gone.
func (h *handlers) DeleteConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}
	if err := h.gw.Connections.Delete(c.Request.Context(), conn.ConnectionID); err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	h.gw.SchemaCache.Invalidate(conn.ConnectionID)
	if session, ok := h.gw.Registry.Lookup(conn.AgentID); ok {
		session.Close("connection deleted")
	}
	c.Status(http.StatusNoContent)
}

// RefreshSchema forces a fresh schema_refresh_request to the agent,
// bypassing any cached snapshot.
func (h *handlers) RefreshSchema(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}
	tables, appErr := h.gw.Orchestrator.RefreshSchema(c.Request.Context(), conn.ConnectionID, conn.AgentID, 0)
	if appErr != nil {
		apperrors.AbortWithError(c, appErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// ownedConnection resolves :connection_id and checks ownership, writing
// the appropriate error response and returning ok=false on any failure.
func (h *handlers) ownedConnection(c *gin.Context) (*models.Connection, bool) {
	return h.ownedConnectionByID(c, c.Param("connection_id"))
}

func (h *handlers) ownedConnectionByID(c *gin.Context, connectionID string) (*models.Connection, bool) {
	conn, err := h.gw.Connections.Get(c.Request.Context(), connectionID)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return nil, false
	}
	if conn == nil || conn.OwnerUserID != userID(c) {
		apperrors.AbortWithError(c, apperrors.NotFound("connection"))
		return nil, false
	}
	return conn, true
}

func userID(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
