package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/rules"
	"github.com/tessera-sec/gatewise/internal/scorer"
)

// AdminHandler exposes scorer training and rule generation.
type AdminHandler struct {
	predictor scorer.Scorer
	generator *rules.Generator
	logger    *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(predictor scorer.Scorer, generator *rules.Generator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{predictor: predictor, generator: generator, logger: logger}
}

// Register mounts the admin routes on the given router group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/scorer/train", h.Train)
	rg.POST("/rules/generate", h.GenerateRule)
}

// TrainRequest is the payload for POST /scorer/train.
type TrainRequest struct {
	FeatureSets []scorer.Features `json:"feature_sets" binding:"required"`

	// Labels are 1 for allow, 0 for deny, aligned with FeatureSets.
	Labels []int `json:"labels" binding:"required"`
}

// Train handles POST /scorer/train — retrains the scoring model in place.
func (h *AdminHandler) Train(c *gin.Context) {
	var req TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok := h.predictor.Train(c.Request.Context(), req.FeatureSets, req.Labels)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"trained": false, "error": "empty or mismatched training input"})
		return
	}

	h.logger.Info("scorer retrained", zap.Int("samples", len(req.FeatureSets)))
	RecordScorerTrain()
	c.JSON(http.StatusOK, gin.H{"trained": true, "samples": len(req.FeatureSets)})
}

// GenerateRuleRequest is the payload for POST /rules/generate.
type GenerateRuleRequest struct {
	RuleType string            `json:"rule_type" binding:"required"`
	Pattern  rules.PatternData `json:"pattern"`
}

// GenerateRule handles POST /rules/generate — derives a candidate rule
// from pattern data. An unknown rule type yields an empty 200 response,
// not an error; generated rules never self-activate into the policy store.
func (h *AdminHandler) GenerateRule(c *gin.Context) {
	var req GenerateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := h.generator.Generate(req.Pattern, req.RuleType)
	if rule == nil {
		c.JSON(http.StatusOK, gin.H{"rule": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rule":  rule,
		"valid": rules.Validate(rule),
	})
}
