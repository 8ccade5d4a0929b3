package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tessera-sec/gatewise/internal/health"
)

// HealthHandler serves the deep health endpoint backed by the dependency
// checker.
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Deep handles GET /healthz/deep — reports the latest dependency probe
// results. Returns 503 when any dependency has crossed its fail threshold.
func (h *HealthHandler) Deep(c *gin.Context) {
	statuses := h.checker.Statuses()
	code := http.StatusOK
	if !h.checker.Healthy() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy":      code == http.StatusOK,
		"dependencies": statuses,
	})
}
