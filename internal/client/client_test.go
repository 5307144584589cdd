package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/internal/storage/storetest"
	"github.com/payflux/monitor-core/pkg/cache"
	"github.com/payflux/monitor-core/pkg/logger"
)

func testClientConfig() config.Config {
	return config.Config{
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

func stoppedScheduler() models.SchedulerStatus {
	return models.SchedulerStatus{
		IsRunning:      true,
		CircuitBreaker: models.CircuitBreakerInfo{State: models.BreakerClosed},
	}
}

func newTestClient(t *testing.T, store *storetest.Fake) *MonitoringClient {
	t.Helper()
	cfg := testClientConfig()
	c := New(store, cache.New(cfg.Cache, logger.NewNop()), cfg, stoppedScheduler, logger.NewNop())
	t.Cleanup(c.Cleanup)
	return c
}

func seedEvent(store *storetest.Fake, eventType models.EventType, severity models.Severity, cardID string, at time.Time) {
	ev := models.MonitoringEvent{
		EventType:       eventType,
		Severity:        severity,
		CardID:          cardID,
		DetectedAt:      at,
		DetectionSource: "seed",
		Confidence:      0.9,
	}
	if _, err := store.InsertEvent(context.Background(), &ev); err != nil {
		panic(err)
	}
}

func TestGetMonitoringEvents_CacheIdempotence(t *testing.T) {
	store := storetest.New()
	seedEvent(store, models.EventDuplicateNFC, models.SeverityMedium, "CARD0001", time.Now().Add(-time.Minute))

	c := newTestClient(t, store)
	filter := models.EventFilter{EventType: models.EventDuplicateNFC}
	page := models.Pagination{Page: 1, PageSize: 50}

	first, err := c.GetMonitoringEvents(context.Background(), filter, page)
	require.NoError(t, err)
	second, err := c.GetMonitoringEvents(context.Background(), filter, page)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.QueryCalls["QueryEvents"], "second read must be served from cache")
	require.Len(t, second.Events, 1)
	assert.Equal(t, "CARD0001", second.Events[0].CardID)
}

func TestGetMonitoringEvents_DistinctArgumentsDistinctKeys(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	_, err := c.GetMonitoringEvents(context.Background(), models.EventFilter{Severity: models.SeverityCritical}, models.Pagination{})
	require.NoError(t, err)
	_, err = c.GetMonitoringEvents(context.Background(), models.EventFilter{Severity: models.SeverityHigh}, models.Pagination{})
	require.NoError(t, err)

	assert.Equal(t, 2, store.QueryCalls["QueryEvents"])
}

func TestGetMonitoringEvents_QueryErrorSurfaced(t *testing.T) {
	store := storetest.New()
	store.ErrQueryEvents = errors.New("connection refused")
	c := newTestClient(t, store)

	_, err := c.GetMonitoringEvents(context.Background(), models.EventFilter{}, models.Pagination{})
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "events", readErr.Resource)

	// The failure is not cached; recovery is visible on the next read.
	store.ErrQueryEvents = nil
	_, err = c.GetMonitoringEvents(context.Background(), models.EventFilter{}, models.Pagination{})
	require.NoError(t, err)
}

func TestGetHealthCheck_HealthySystem(t *testing.T) {
	store := storetest.New()
	_, err := store.InsertSnapshot(context.Background(), &models.SystemHealthSnapshot{
		SnapshotAt:    time.Now(),
		OverallStatus: models.HealthHealthy,
	})
	require.NoError(t, err)

	c := newTestClient(t, store)
	report, err := c.GetHealthCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.HealthHealthy, report.Status)
	assert.Contains(t, report.Components, "datastore")
	assert.Contains(t, report.Components, "cache")
	assert.Contains(t, report.Components, "detection_scheduler")
	require.NotNil(t, report.SystemMetrics)
}

func TestGetHealthCheck_NoSnapshotIsUnknown(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	report, err := c.GetHealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnknown, report.Status)
}

func TestGetHealthCheck_DatastoreDownIsCritical(t *testing.T) {
	store := storetest.New()
	store.ErrPing = errors.New("connection refused")
	c := newTestClient(t, store)

	report, err := c.GetHealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.HealthCritical, report.Status)
	assert.Equal(t, models.HealthCritical, report.Components["datastore"].Status)
}

func TestGetHealthCheck_OpenBreakerIsCritical(t *testing.T) {
	store := storetest.New()
	cfg := testClientConfig()
	openBreaker := func() models.SchedulerStatus {
		return models.SchedulerStatus{
			IsRunning:      true,
			CircuitBreaker: models.CircuitBreakerInfo{State: models.BreakerOpen},
		}
	}
	c := New(store, cache.New(cfg.Cache, logger.NewNop()), cfg, openBreaker, logger.NewNop())
	t.Cleanup(c.Cleanup)

	report, err := c.GetHealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.HealthCritical, report.Status)

	sched := report.Components["detection_scheduler"]
	require.NotNil(t, sched.CircuitBreaker)
	assert.Equal(t, models.BreakerOpen, sched.CircuitBreaker.State)
}

func TestGetMetrics_ComputesRates(t *testing.T) {
	store := storetest.New()
	now := time.Now()
	for i := 0; i < 10; i++ {
		status := models.TxCompleted
		if i < 2 {
			status = models.TxFailed
		}
		store.Transactions = append(store.Transactions, models.Transaction{
			ID:          "tx",
			CardID:      "CARD0001",
			Type:        "purchase",
			Status:      status,
			AmountCents: 1000,
			CreatedAt:   now.Add(time.Duration(-i-1) * time.Minute),
		})
	}

	c := newTestClient(t, store)
	report, err := c.GetMetrics(context.Background(), "1h")
	require.NoError(t, err)

	assert.Equal(t, "1h", report.TimeRange)
	assert.Equal(t, 10, report.Financial.TransactionCount)
	assert.Equal(t, 2, report.Financial.FailedCount)
	assert.InDelta(t, 20.0, report.Financial.FailureRatePct, 0.01)
	assert.Equal(t, int64(8000), report.Financial.TotalVolumeCents)
	assert.Equal(t, int64(1000), report.Financial.AverageTicketCents)
}

func TestGetMetrics_RejectsUnknownRange(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	_, err := c.GetMetrics(context.Background(), "90d")
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, 0, store.QueryCalls["TransactionAggregates"])
}

func TestGetDashboard_ComposesAndCaches(t *testing.T) {
	store := storetest.New()
	seedEvent(store, models.EventRaceCondition, models.SeverityHigh, "CARD0002", time.Now().Add(-time.Minute))
	_, err := store.InsertSnapshot(context.Background(), &models.SystemHealthSnapshot{
		SnapshotAt:    time.Now(),
		OverallStatus: models.HealthWarning,
	})
	require.NoError(t, err)

	c := newTestClient(t, store)
	dash, err := c.GetDashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.HealthWarning, dash.SystemStatus)
	assert.Equal(t, 1, dash.KPIs.OpenEvents)
	require.Len(t, dash.RecentEvents, 1)

	_, err = c.GetDashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.QueryCalls["QueryEvents"], "second dashboard read must hit the cache")
}

func TestGetDashboard_SubFetchErrorSurfaced(t *testing.T) {
	store := storetest.New()
	store.ErrAggregates = errors.New("connection refused")
	c := newTestClient(t, store)

	_, err := c.GetDashboard(context.Background())
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "dashboard", readErr.Resource)
}

func TestResolveEvent_UpdatesAndInvalidates(t *testing.T) {
	store := storetest.New()
	seedEvent(store, models.EventBalanceDiscrepancy, models.SeverityHigh, "CARD0001", time.Now().Add(-time.Minute))

	c := newTestClient(t, store)

	// Warm the cache with the open event.
	page, err := c.GetMonitoringEvents(context.Background(), models.EventFilter{Status: models.StatusOpen}, models.Pagination{})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)

	ev, err := c.ResolveEvent(context.Background(), page.Events[0].ID, models.StatusFalsePositive, "scanner test rig")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFalsePositive, ev.Status)
	assert.Equal(t, "scanner test rig", ev.ResolutionNotes)
	require.NotNil(t, ev.ResolvedAt)
	assert.Equal(t, models.SeverityHigh, ev.Severity, "resolution must not change severity")

	// The cached listing was invalidated along with the resolve.
	page, err = c.GetMonitoringEvents(context.Background(), models.EventFilter{Status: models.StatusOpen}, models.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}

func TestResolveEvent_InvalidStatusRejected(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	_, err := c.ResolveEvent(context.Background(), 1, models.StatusOpen, "")
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
}

func TestResolveEvent_MissingEvent(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	_, err := c.ResolveEvent(context.Background(), 42, models.StatusResolved, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClearCache(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	_, err := c.GetMonitoringEvents(context.Background(), models.EventFilter{}, models.Pagination{})
	require.NoError(t, err)
	require.NoError(t, c.ClearCache(context.Background()))

	_, err = c.GetMonitoringEvents(context.Background(), models.EventFilter{}, models.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 2, store.QueryCalls["QueryEvents"])
}
