package handlers

import (
	"net/http"

	"github.com/floworx-io/floworx/db"
	"github.com/floworx-io/floworx/services"
	"github.com/gin-gonic/gin"
)

// HistoryHandler lets the email processing pipeline feed the history
// store that backs the response_overdue and multiple_emails conditions.
type HistoryHandler struct {
	HistoryService *services.HistoryService
}

func NewHistoryHandler(historyService *services.HistoryService) *HistoryHandler {
	return &HistoryHandler{HistoryService: historyService}
}

// RecordInbound logs one inbound email against the authenticated user.
func (h *HistoryHandler) RecordInbound(c *gin.Context) {
	userID := c.GetString("user_id")

	var email db.Email
	if err := c.ShouldBindJSON(&email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if email.ID == "" || email.From == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email id and from are required"})
		return
	}

	if err := h.HistoryService.RecordInbound(c.Request.Context(), userID, &email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record email"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Email recorded successfully"})
}

// MarkResponded flags a recorded email as answered.
func (h *HistoryHandler) MarkResponded(c *gin.Context) {
	emailID := c.Param("id")

	if err := h.HistoryService.MarkResponded(c.Request.Context(), emailID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark email responded"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email marked responded"})
}
