package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/payflux/monitor-core/internal/api/handlers"
	"github.com/payflux/monitor-core/internal/api/middleware"
	"github.com/payflux/monitor-core/internal/api/websocket"
	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/monitoring"
	"github.com/payflux/monitor-core/internal/scheduler"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

// Server is the HTTP surface over the monitoring core: event listings,
// health, metrics, dashboard, scheduler control, and the event stream.
type Server struct {
	config     config.Config
	logger     logger.Logger
	store      storage.Store
	client     *client.MonitoringClient
	scheduler  *scheduler.Scheduler
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(cfg config.Config, log logger.Logger, store storage.Store, mc *client.MonitoringClient, sched *scheduler.Scheduler) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:    cfg,
		logger:    log,
		store:     store,
		client:    mc,
		scheduler: sched,
		router:    gin.New(),
	}

	server.setupMiddleware()
	server.setupRoutes()
	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORSMiddleware(s.config.CORS))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(monitoring.HTTPMetricsMiddleware())

	monitoring.SetupPrometheusMetrics(s.router)
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.client, s.store, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.client, s.logger)
	metricsHandler := handlers.NewMetricsHandler(s.client, s.logger)
	dashboardHandler := handlers.NewDashboardHandler(s.client, s.logger)
	schedulerHandler := handlers.NewSchedulerHandler(s.scheduler, s.logger)
	streamHandler := websocket.NewStreamHandler(s.client, s.logger)

	// Probes stay outside the versioned API.
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)

	v1 := s.router.Group("/api/v1")

	v1.GET("/health", healthHandler.SystemHealth)

	v1.GET("/events", eventsHandler.ListEvents)
	v1.POST("/events/:id/resolve", eventsHandler.ResolveEvent)

	v1.GET("/metrics", metricsHandler.GetMetrics)
	v1.GET("/dashboard", dashboardHandler.GetDashboard)

	v1.GET("/scheduler/status", schedulerHandler.Status)
	v1.POST("/scheduler/start", schedulerHandler.Start)
	v1.POST("/scheduler/stop", schedulerHandler.Stop)
	v1.POST("/scheduler/cycle", schedulerHandler.TriggerCycle)

	s.router.GET("/ws/events", streamHandler.HandleEventsStream)
}

// Router exposes the configured handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("PAYFLUX monitor-core API server starting", "port", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
