package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/detect"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/scheduler"
	"github.com/payflux/monitor-core/internal/storage/storetest"
	"github.com/payflux/monitor-core/pkg/cache"
	"github.com/payflux/monitor-core/pkg/logger"
)

func testServerConfig() config.Config {
	return config.Config{
		Environment: "test",
		Port:        8080,
		Detection: config.DetectionConfig{
			IntervalSeconds:     30,
			CycleTimeoutSeconds: 30,
			QueryTimeoutSeconds: 10,
			LookbackMinutes:     60,
			TransactionFailure: config.TransactionFailureConfig{
				ConsecutiveThreshold: 3,
				FailureRatePct:       10,
				MinSampleSize:        20,
				WindowMinutes:        15,
			},
			BalanceDiscrepancy: config.BalanceDiscrepancyConfig{ThresholdCents: 100},
			DuplicateNFC:       config.DuplicateNFCConfig{WindowSeconds: 5},
			RaceCondition:      config.RaceConditionConfig{WindowSeconds: 2, MinOverlap: 2},
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold:  5,
			RecoveryTimeoutMS: 60_000,
			HalfOpenMaxCalls:  3,
			CallTimeoutMS:     30_000,
		},
		Retention: config.RetentionConfig{EventDays: 90, SnapshotDays: 30, SweepIntervalHours: 24},
		Cache: config.CacheConfig{
			MaxEntries:          128,
			DefaultTTLSeconds:   300,
			HealthTTLSeconds:    60,
			DashboardTTLSeconds: 30,
			EventsTTLSeconds:    300,
		},
		Subscriptions: config.SubscriptionsConfig{PollIntervalSeconds: 10},
	}
}

func newTestServer(t *testing.T, store *storetest.Fake) *Server {
	t.Helper()
	cfg := testServerConfig()
	log := logger.NewNop()

	engine := detect.NewEngine(store, func() config.DetectionConfig { return cfg.Detection }, log)
	sched := scheduler.New(engine, store, cfg, log)
	mc := client.New(store, cache.New(cfg.Cache, log), cfg, sched.GetStatus, log)
	t.Cleanup(mc.Cleanup)

	return NewServer(cfg, log, store, mc, sched)
}

func doRequest(srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	store := storetest.New()
	srv := newTestServer(t, store)

	w := doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	store.ErrPing = errors.New("connection refused")
	w = doRequest(srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSystemHealthReportsUnknownWithoutSnapshot(t *testing.T) {
	srv := newTestServer(t, storetest.New())

	w := doRequest(srv, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report models.HealthCheckReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, models.HealthUnknown, report.Status)
}

func TestListEventsFiltering(t *testing.T) {
	store := storetest.New()
	for i, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityLow} {
		ev := models.MonitoringEvent{
			EventType:       models.EventBalanceDiscrepancy,
			Severity:        sev,
			CardID:          fmt.Sprintf("CARD%04d", i),
			DetectedAt:      time.Now().Add(time.Duration(-i) * time.Minute),
			DetectionSource: "seed",
		}
		_, err := store.InsertEvent(context.Background(), &ev)
		require.NoError(t, err)
	}
	srv := newTestServer(t, store)

	w := doRequest(srv, http.MethodGet, "/api/v1/events?severity=CRITICAL", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page models.EventPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, models.SeverityCritical, page.Events[0].Severity)
	assert.Equal(t, 1, page.TotalCritical)
}

func TestResolveEventFlow(t *testing.T) {
	store := storetest.New()
	ev := models.MonitoringEvent{
		EventType:       models.EventDuplicateNFC,
		Severity:        models.SeverityMedium,
		CardID:          "CARD0001",
		DetectedAt:      time.Now(),
		DetectionSource: "seed",
	}
	_, err := store.InsertEvent(context.Background(), &ev)
	require.NoError(t, err)
	srv := newTestServer(t, store)

	body := []byte(`{"status":"RESOLVED","notes":"terminal firmware patched"}`)
	w := doRequest(srv, http.MethodPost, fmt.Sprintf("/api/v1/events/%d/resolve", ev.ID), body)
	require.Equal(t, http.StatusOK, w.Code)

	var resolved models.MonitoringEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resolved))
	assert.Equal(t, models.StatusResolved, resolved.Status)
	assert.Equal(t, "terminal firmware patched", resolved.ResolutionNotes)

	w = doRequest(srv, http.MethodPost, "/api/v1/events/9999/resolve", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(srv, http.MethodPost, fmt.Sprintf("/api/v1/events/%d/resolve", ev.ID), []byte(`{"status":"OPEN"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, storetest.New())

	w := doRequest(srv, http.MethodGet, "/api/v1/metrics?range=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report models.MetricsReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "1h", report.TimeRange)

	w = doRequest(srv, http.MethodGet, "/api/v1/metrics?range=90d", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDashboardEndpoint(t *testing.T) {
	srv := newTestServer(t, storetest.New())

	w := doRequest(srv, http.MethodGet, "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var dash models.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dash))
	assert.Equal(t, models.HealthUnknown, dash.SystemStatus)
}

func TestSchedulerEndpoints(t *testing.T) {
	srv := newTestServer(t, storetest.New())

	w := doRequest(srv, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.SchedulerStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.IsRunning)
	assert.Equal(t, models.BreakerClosed, status.CircuitBreaker.State)

	w = doRequest(srv, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.IsRunning)

	w = doRequest(srv, http.MethodPost, "/api/v1/scheduler/cycle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result models.DetectionCycleResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Len(t, result.Results, 4)

	w = doRequest(srv, http.MethodPost, "/api/v1/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.IsRunning)
}
