package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ConfigHandler exposes the runtime scoring configuration
type ConfigHandler struct {
	config ScoringConfigManager
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(config ScoringConfigManager) *ConfigHandler {
	return &ConfigHandler{config: config}
}

// GetScoringConfig returns the active configuration
func (h *ConfigHandler) GetScoringConfig(c *gin.Context) {
	cfg := h.config.Get()
	c.JSON(http.StatusOK, gin.H{
		"config":             cfg,
		"weight_sum":         cfg.WeightSum(),
		"weights_normalized": cfg.WeightsNormalized(),
		"timestamp":          time.Now(),
	})
}

// UpdateScoringConfig merges the request body over the active configuration,
// validates the result and makes it active for the next scoring pass
func (h *ConfigHandler) UpdateScoringConfig(c *gin.Context) {
	cfg := h.config.Get()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	if err := h.config.Update(cfg); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":            "Scoring configuration updated",
		"config":             cfg,
		"weights_normalized": cfg.WeightsNormalized(),
		"timestamp":          time.Now(),
	})
}
