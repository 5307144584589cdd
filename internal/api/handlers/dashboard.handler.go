package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/pkg/logger"
)

type DashboardHandler struct {
	client *client.MonitoringClient
	logger logger.Logger
}

func NewDashboardHandler(mc *client.MonitoringClient, log logger.Logger) *DashboardHandler {
	return &DashboardHandler{client: mc, logger: log}
}

// GET /api/v1/dashboard
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	dash, err := h.client.GetDashboard(c.Request.Context())
	if err != nil {
		h.logger.Error("dashboard composition failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dash)
}
