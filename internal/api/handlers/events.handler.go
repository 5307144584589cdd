package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

type EventsHandler struct {
	client *client.MonitoringClient
	logger logger.Logger
}

func NewEventsHandler(mc *client.MonitoringClient, log logger.Logger) *EventsHandler {
	return &EventsHandler{client: mc, logger: log}
}

// GET /api/v1/events
func (h *EventsHandler) ListEvents(c *gin.Context) {
	var filter models.EventFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter: " + err.Error()})
		return
	}
	var page models.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination: " + err.Error()})
		return
	}

	result, err := h.client.GetMonitoringEvents(c.Request.Context(), filter, page)
	if err != nil {
		h.logger.Error("event listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type resolveRequest struct {
	Status models.EventStatus `json:"status" binding:"required"`
	Notes  string             `json:"notes"`
}

// POST /api/v1/events/:id/resolve
func (h *EventsHandler) ResolveEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ev, err := h.client.ResolveEvent(c.Request.Context(), id, req.Status, req.Notes)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
	case errors.Is(err, client.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("event resolution failed", "event_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, ev)
	}
}
