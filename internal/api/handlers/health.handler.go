package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

type HealthHandler struct {
	client *client.MonitoringClient
	store  storage.Store
	logger logger.Logger
}

func NewHealthHandler(mc *client.MonitoringClient, store storage.Store, log logger.Logger) *HealthHandler {
	return &HealthHandler{client: mc, store: store, logger: log}
}

// GET /health - liveness probe, no dependencies touched.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "payflux-monitor-core",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GET /ready - readiness depends on the datastore being reachable.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"service":   "payflux-monitor-core",
			"error":     err.Error(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "payflux-monitor-core",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GET /api/v1/health - the operator-facing health report. Always 200 with a
// status field; degraded state is data, not an HTTP failure.
func (h *HealthHandler) SystemHealth(c *gin.Context) {
	report, err := h.client.GetHealthCheck(c.Request.Context())
	if err != nil {
		h.logger.Error("health report failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
