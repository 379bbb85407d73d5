package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/orchestrator"
)

// QueryRequest is the Query endpoint's request body. connection_id or
// file_id names the data source; data_source, when set, picks the route
// directly, per orchestrator.Resolve's routing table.
type QueryRequest struct {
	Question     string `json:"question" binding:"required,min=1"`
	ConnectionID string `json:"connection_id"`
	FileID       string `json:"file_id"`
	DataSource   string `json:"data_source"`
	Preference   string `json:"user_preference" binding:"omitempty,oneof=sql analytic"`
}

// Query answers one natural-language question, routing it to the
// connected agent, an uploaded CSV's SQL engine, or the external CSV
// analytic backend.
func (h *handlers) Query(c *gin.Context) {
	var body QueryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperrors.AbortWithError(c, apperrors.New(apperrors.CodeInternal, "invalid request body"))
		return
	}

	req := orchestrator.Request{
		UserID:       userID(c),
		Question:     body.Question,
		ConnectionID: body.ConnectionID,
		FileID:       body.FileID,
		DataSource:   body.DataSource,
		Preference:   body.Preference,
	}

	if req.ConnectionID != "" {
		conn, ok := h.ownedConnectionByID(c, req.ConnectionID)
		if !ok {
			return
		}
		req.AgentID = conn.AgentID
	} else if req.FileID != "" {
		if _, ok := h.ownedFileByID(c, req.FileID); !ok {
			return
		}
	}

	result, appErr := h.gw.Orchestrator.Execute(c.Request.Context(), req)
	if appErr != nil {
		apperrors.AbortWithError(c, appErr)
		return
	}
	c.JSON(http.StatusOK, result)
}
