package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/floworx-io/floworx/db"
	"github.com/floworx-io/floworx/services"
	"github.com/gin-gonic/gin"
)

type ConfigHandler struct {
	ConfigService *services.ConfigService
}

func NewConfigHandler(configService *services.ConfigService) *ConfigHandler {
	return &ConfigHandler{ConfigService: configService}
}

// configTypeFromPath maps the URL segment to a config type. Collection
// configs (rules) have their own endpoints; these cover the singleton
// and template configs.
var configTypeFromPath = map[string]db.ConfigType{
	"business-hours":        db.ConfigBusinessHours,
	"notification-settings": db.ConfigNotificationSettings,
	"response-templates":    db.ConfigResponseTemplates,
	"approval-workflow":     db.ConfigApprovalWorkflow,
}

// GetConfig returns one configuration category for the authenticated
// user, falling back to documented defaults when nothing is stored.
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	userID := c.GetString("user_id")

	configType, ok := configTypeFromPath[c.Param("type")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown configuration type"})
		return
	}

	data, err := h.ConfigService.GetConfig(c.Request.Context(), userID, configType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve configuration"})
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// SetConfig validates and stores one configuration category. A
// validation failure returns the error list without persisting.
func (h *ConfigHandler) SetConfig(c *gin.Context) {
	userID := c.GetString("user_id")

	configType, ok := configTypeFromPath[c.Param("type")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown configuration type"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required"})
		return
	}

	result := services.ValidateConfig(configType, json.RawMessage(body))
	if !result.Valid {
		c.JSON(http.StatusBadRequest, result)
		return
	}

	data, err := h.ConfigService.SetConfig(c.Request.Context(), userID, configType, json.RawMessage(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store configuration"})
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// ValidateConfigOnly validates a payload without persisting it, for
// settings-page previews.
func (h *ConfigHandler) ValidateConfigOnly(c *gin.Context) {
	configType, ok := configTypeFromPath[c.Param("type")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown configuration type"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is required"})
		return
	}

	c.JSON(http.StatusOK, services.ValidateConfig(configType, json.RawMessage(body)))
}
