package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payflux/monitor-core/internal/scheduler"
	"github.com/payflux/monitor-core/pkg/logger"
)

type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	logger    logger.Logger
}

func NewSchedulerHandler(s *scheduler.Scheduler, log logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s, logger: log}
}

// GET /api/v1/scheduler/status
func (h *SchedulerHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetStatus())
}

// POST /api/v1/scheduler/start
func (h *SchedulerHandler) Start(c *gin.Context) {
	// The scheduler outlives this request; its own Stop governs shutdown.
	if err := h.scheduler.Start(context.Background()); err != nil {
		h.logger.Error("scheduler start failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.scheduler.GetStatus())
}

// POST /api/v1/scheduler/stop
func (h *SchedulerHandler) Stop(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		h.logger.Error("scheduler stop failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.scheduler.GetStatus())
}

// POST /api/v1/scheduler/cycle - manual detection cycle trigger.
func (h *SchedulerHandler) TriggerCycle(c *gin.Context) {
	result, err := h.scheduler.RunDetectionCycle(c.Request.Context())
	switch {
	case errors.Is(err, scheduler.ErrCircuitOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":           err.Error(),
			"circuit_breaker": h.scheduler.GetStatus().CircuitBreaker,
		})
	case errors.Is(err, scheduler.ErrCycleInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("manual detection cycle failed", "error", err)
		// The partial cycle result still matters to the operator.
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
	default:
		c.JSON(http.StatusOK, result)
	}
}
