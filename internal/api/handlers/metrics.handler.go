package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/pkg/logger"
)

type MetricsHandler struct {
	client *client.MonitoringClient
	logger logger.Logger
}

func NewMetricsHandler(mc *client.MonitoringClient, log logger.Logger) *MetricsHandler {
	return &MetricsHandler{client: mc, logger: log}
}

// GET /api/v1/metrics?range=24h
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	timeRange := c.DefaultQuery("range", "24h")

	report, err := h.client.GetMetrics(c.Request.Context(), timeRange)
	if err != nil {
		if errors.Is(err, client.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("metrics report failed", "range", timeRange, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
