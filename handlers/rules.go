package handlers

import (
	"net/http"

	"github.com/floworx-io/floworx/db"
	"github.com/floworx-io/floworx/services"
	"github.com/gin-gonic/gin"
)

type RuleHandler struct {
	RuleService *services.RuleService
}

func NewRuleHandler(ruleService *services.RuleService) *RuleHandler {
	return &RuleHandler{RuleService: ruleService}
}

// RULE ADMINISTRATION ENDPOINTS

// ListRules returns every rule for the authenticated user, enabled and
// disabled, ordered by priority descending.
func (h *RuleHandler) ListRules(c *gin.Context) {
	userID := c.GetString("user_id")

	rules, err := h.RuleService.GetRules(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve rules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"total": len(rules),
	})
}

// CreateRule creates a new escalation rule
func (h *RuleHandler) CreateRule(c *gin.Context) {
	userID := c.GetString("user_id")

	var req db.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.RuleService.CreateRule(c.Request.Context(), userID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"rule":    rule,
		"message": "Rule created successfully",
	})
}

// UpdateRule applies a partial update to an existing rule
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	userID := c.GetString("user_id")
	ruleID := c.Param("id")

	var req db.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.RuleService.UpdateRule(c.Request.Context(), userID, ruleID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rule":    rule,
		"message": "Rule updated successfully",
	})
}

// DeleteRule removes a rule by id
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	userID := c.GetString("user_id")
	ruleID := c.Param("id")

	if err := h.RuleService.DeleteRule(c.Request.Context(), userID, ruleID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// GetRuleStats aggregates escalation history over a trailing window
func (h *RuleHandler) GetRuleStats(c *gin.Context) {
	userID := c.GetString("user_id")
	timeframe := c.DefaultQuery("timeframe", "7d")

	stats := h.RuleService.GetRuleStats(c.Request.Context(), userID, timeframe)
	if stats == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve rule statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// EVALUATION ENDPOINTS

type evaluateRequest struct {
	Email   db.Email        `json:"email" binding:"required"`
	Context *db.EvalContext `json:"context"`
}

type evaluateBatchRequest struct {
	Emails  []db.Email      `json:"emails" binding:"required"`
	Context *db.EvalContext `json:"context"`
}

// EvaluateEmail runs the authenticated user's enabled rules against a
// posted email and returns the triggered rules, priority descending.
func (h *RuleHandler) EvaluateEmail(c *gin.Context) {
	userID := c.GetString("user_id")

	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	triggered, err := h.RuleService.EvaluateRules(c.Request.Context(), &req.Email, userID, req.Context)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate rules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"triggered": triggered,
		"total":     len(triggered),
	})
}

// EvaluateBatch evaluates each posted email independently
func (h *RuleHandler) EvaluateBatch(c *gin.Context) {
	userID := c.GetString("user_id")

	var req evaluateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := h.RuleService.EvaluateBatch(c.Request.Context(), req.Emails, userID, req.Context)

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   len(results),
	})
}
