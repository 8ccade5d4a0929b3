package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/contextstore"
	"github.com/tessera-sec/gatewise/internal/engine"
)

// AccessHandler exposes the decision API.
type AccessHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewAccessHandler creates an AccessHandler.
func NewAccessHandler(eng *engine.Engine, logger *zap.Logger) *AccessHandler {
	return &AccessHandler{engine: eng, logger: logger}
}

// Register mounts the access routes on the given router group.
func (h *AccessHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/access/check", h.Check)
}

// CheckRequest is the payload for POST /access/check.
type CheckRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	DataType  string `json:"data_type" binding:"required"`
	Action    string `json:"action" binding:"required"`

	// Context, when present, is applied to the context store before the
	// check runs.
	Context *contextstore.Context `json:"context,omitempty"`
}

// Check handles POST /access/check. The engine has a total contract, so
// this always answers 200 with a verdict; only a malformed request body
// yields 400.
func (h *AccessHandler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict := h.engine.CheckAccess(c.Request.Context(), req.SubjectID, req.DataType, req.Action, req.Context)
	RecordDecision(verdict.Allowed)
	ObserveRiskScore(verdict.RiskScore)

	c.JSON(http.StatusOK, verdict)
}
