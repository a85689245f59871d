package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajharbinger/dilution-monitor/internal/provider"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck() error
}

// HealthHandler reports database and provider health
type HealthHandler struct {
	db       HealthChecker
	monitors []*provider.HealthMonitor
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(db HealthChecker, monitors ...*provider.HealthMonitor) *HealthHandler {
	return &HealthHandler{db: db, monitors: monitors}
}

// GetHealth checks the database connection
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := gin.H{
		"healthy":   true,
		"timestamp": time.Now(),
	}

	if h.db != nil {
		if err := h.db.HealthCheck(); err != nil {
			response["healthy"] = false
			response["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}

	providersHealthy := true
	for _, m := range h.monitors {
		if !m.IsHealthy() {
			providersHealthy = false
		}
	}
	response["providers_healthy"] = providersHealthy

	c.JSON(http.StatusOK, response)
}

// GetProviderHealth returns detailed health for every provider
func (h *HealthHandler) GetProviderHealth(c *gin.Context) {
	statuses := make([]provider.HealthStatus, 0, len(h.monitors))
	for _, m := range h.monitors {
		statuses = append(statuses, m.GetHealthStatus())
	}

	c.JSON(http.StatusOK, gin.H{
		"providers": statuses,
		"timestamp": time.Now(),
	})
}

// ResetProviderHealth clears the counters of every provider monitor
func (h *HealthHandler) ResetProviderHealth(c *gin.Context) {
	for _, m := range h.monitors {
		m.Reset()
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Provider health monitors reset",
		"timestamp": time.Now(),
	})
}
