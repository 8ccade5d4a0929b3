package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/policy"
)

// PolicyHandler exposes the administrative policy endpoints.
type PolicyHandler struct {
	store  policy.Store
	logger *zap.Logger
}

// NewPolicyHandler creates a PolicyHandler.
func NewPolicyHandler(store policy.Store, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{store: store, logger: logger}
}

// Register mounts the policy routes on the given router group. All routes
// are admin-gated by the group's middleware.
func (h *PolicyHandler) Register(rg *gin.RouterGroup) {
	p := rg.Group("/policies")
	{
		p.PUT("/:id", h.Upsert)
		p.GET("", h.ListActive)
		p.GET("/:id", h.Get)
		p.DELETE("/:id", h.Deactivate)
	}
}

// Upsert handles PUT /policies/:id — create or replace a policy.
func (h *PolicyHandler) Upsert(c *gin.Context) {
	var data policy.Upsert
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.store.Upsert(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		if errors.Is(err, policy.ErrInvalidPolicy) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("policy upsert", zap.String("policy_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store policy"})
		return
	}

	c.JSON(http.StatusOK, p)
}

// ListActive handles GET /policies — returns all active policies keyed by id.
func (h *PolicyHandler) ListActive(c *gin.Context) {
	active, err := h.store.Active(c.Request.Context())
	if err != nil {
		h.logger.Error("list active policies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list policies"})
		return
	}
	c.JSON(http.StatusOK, active)
}

// Get handles GET /policies/:id.
func (h *PolicyHandler) Get(c *gin.Context) {
	p, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
			return
		}
		h.logger.Error("get policy", zap.String("policy_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load policy"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// Deactivate handles DELETE /policies/:id — soft-disables the policy,
// preserving its history.
func (h *PolicyHandler) Deactivate(c *gin.Context) {
	err := h.store.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
			return
		}
		h.logger.Error("deactivate policy", zap.String("policy_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate policy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}
