package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/audit"
)

// AuditHandler exposes read-only access history and pattern analysis.
type AuditHandler struct {
	sink     audit.Sink
	analyzer *audit.Analyzer
	logger   *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(sink audit.Sink, analyzer *audit.Analyzer, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{sink: sink, analyzer: analyzer, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("/:subject", h.History)
		a.GET("/:subject/patterns", h.Patterns)
	}
}

// History handles GET /audit/:subject — past events, most recent first.
func (h *AuditHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.sink.History(c.Request.Context(), c.Param("subject"), limit)
	if err != nil {
		h.logger.Error("audit history", zap.String("subject", c.Param("subject")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Patterns handles GET /audit/:subject/patterns — the aggregated access
// pattern used as rule-generation input.
func (h *AuditHandler) Patterns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	p, err := h.analyzer.Patterns(c.Request.Context(), c.Param("subject"), limit)
	if err != nil {
		h.logger.Error("audit patterns", zap.String("subject", c.Param("subject")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to analyze patterns"})
		return
	}
	c.JSON(http.StatusOK, p)
}
