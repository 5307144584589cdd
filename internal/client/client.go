// Package client is the read-side facade used by dashboards and health
// endpoints. Expensive aggregate queries sit behind a TTL cache; new events
// reach subscribers by push with a polling fallback.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/monitoring"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/cache"
	"github.com/payflux/monitor-core/pkg/logger"
)

// ErrInvalidArgument marks caller mistakes (bad range, bad status) so the
// HTTP layer can answer 400 instead of 500.
var ErrInvalidArgument = errors.New("invalid argument")

// ReadError is the typed failure surfaced to callers when a read could not
// be served. Stale cache entries are never substituted for a failed query;
// dashboards need to distinguish "no data" from "query failed".
type ReadError struct {
	Resource string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Resource, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// SchedulerStatusFunc reports the scheduler/breaker state for the health
// check's per-component view.
type SchedulerStatusFunc func() models.SchedulerStatus

// MonitoringClient serves the five read operations plus event subscriptions.
// Construct once at process start and inject wherever reads are needed.
type MonitoringClient struct {
	store     storage.Store
	cache     cache.Cache
	cfg       config.Config
	schedStat SchedulerStatusFunc
	logger    logger.Logger
	startedAt time.Time
	now       func() time.Time

	pollInterval time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc

	subMu sync.Mutex
	subs  map[string]*subscription
}

func New(store storage.Store, c cache.Cache, cfg config.Config, schedStat SchedulerStatusFunc, log logger.Logger) *MonitoringClient {
	ctx, cancel := context.WithCancel(context.Background())
	pollInterval := cfg.Subscriptions.PollInterval()
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &MonitoringClient{
		store:        store,
		cache:        c,
		cfg:          cfg,
		schedStat:    schedStat,
		logger:       log,
		startedAt:    time.Now(),
		now:          time.Now,
		pollInterval: pollInterval,
		rootCtx:      ctx,
		rootCancel:   cancel,
		subs:         make(map[string]*subscription),
	}
}

// cachedRead runs the TTL policy shared by every read method: deterministic
// key, unexpired hit served without querying, miss queried and stored. Query
// errors propagate; nothing is cached for them.
func cachedRead[T any](ctx context.Context, c *MonitoringClient, key string, ttl time.Duration, resource string, query func(context.Context) (*T, error)) (*T, error) {
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			return &out, nil
		}
		// Undecodable entry, treat as a miss and overwrite below.
		c.logger.Warn("dropping corrupt cache entry", "key", key)
	}

	out, err := query(ctx)
	if err != nil {
		return nil, &ReadError{Resource: resource, Err: err}
	}
	if err := c.cache.Set(ctx, key, out, ttl); err != nil {
		// Cache write failure degrades to uncached reads, nothing more.
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return out, nil
}

// GetMonitoringEvents returns a filtered, paginated event listing with the
// summary counts dashboards show alongside it.
func (c *MonitoringClient) GetMonitoringEvents(ctx context.Context, filter models.EventFilter, page models.Pagination) (*models.EventPage, error) {
	page = page.Normalize()
	key := eventsKey(filter, page)
	return cachedRead(ctx, c, key, c.cfg.Cache.EventsTTL(), "events", func(ctx context.Context) (*models.EventPage, error) {
		return c.store.QueryEvents(ctx, filter, page)
	})
}

// GetHealthCheck reports overall status, per-component health, and recent
// critical alerts. Probe failures degrade the report rather than erroring:
// operators must see CRITICAL or UNKNOWN, never a blank page or an
// optimistic HEALTHY.
func (c *MonitoringClient) GetHealthCheck(ctx context.Context) (*models.HealthCheckReport, error) {
	return cachedRead(ctx, c, "health", c.cfg.Cache.HealthTTL(), "health", func(ctx context.Context) (*models.HealthCheckReport, error) {
		return c.buildHealthCheck(ctx)
	})
}

func (c *MonitoringClient) buildHealthCheck(ctx context.Context) (*models.HealthCheckReport, error) {
	now := c.now()
	report := &models.HealthCheckReport{
		UptimeSeconds: now.Sub(c.startedAt).Seconds(),
		Components:    make(map[string]models.ComponentHealth),
		GeneratedAt:   now,
	}

	dbHealth := models.ComponentHealth{Status: models.HealthHealthy, CheckedAt: now}
	if err := c.store.Ping(ctx); err != nil {
		dbHealth.Status = models.HealthCritical
		dbHealth.Message = err.Error()
	}
	report.Components["datastore"] = dbHealth

	cacheHealth := models.ComponentHealth{Status: models.HealthHealthy, CheckedAt: now}
	if err := c.cache.HealthCheck(ctx); err != nil {
		cacheHealth.Status = models.HealthWarning
		cacheHealth.Message = err.Error()
	}
	report.Components["cache"] = cacheHealth

	schedStatus := c.schedStat()
	schedHealth := models.ComponentHealth{Status: models.HealthHealthy, CheckedAt: now}
	breaker := schedStatus.CircuitBreaker
	schedHealth.CircuitBreaker = &breaker
	switch {
	case !schedStatus.IsRunning:
		schedHealth.Status = models.HealthWarning
		schedHealth.Message = "scheduler not running"
	case breaker.State == models.BreakerOpen:
		schedHealth.Status = models.HealthCritical
		schedHealth.Message = "circuit breaker open"
	case breaker.State == models.BreakerHalfOpen:
		schedHealth.Status = models.HealthWarning
		schedHealth.Message = "circuit breaker probing recovery"
	}
	report.Components["detection_scheduler"] = schedHealth

	if dbHealth.Status == models.HealthHealthy {
		if snap, err := c.store.LatestSnapshot(ctx); err != nil {
			c.logger.Warn("health check snapshot read failed", "error", err)
		} else {
			report.SystemMetrics = snap
		}
		alerts, err := c.store.EventsSince(ctx, now.Add(-24*time.Hour), models.EventFilter{Severity: models.SeverityCritical})
		if err != nil {
			c.logger.Warn("health check alert read failed", "error", err)
		} else {
			// Newest first, capped for the report.
			sort.Slice(alerts, func(i, j int) bool { return alerts[i].DetectedAt.After(alerts[j].DetectedAt) })
			if len(alerts) > 10 {
				alerts = alerts[:10]
			}
			report.RecentCriticalAlerts = alerts
		}
	}

	report.Status = overallStatus(report)
	return report, nil
}

// overallStatus folds components and the latest snapshot into one word. No
// snapshot means the detection pipeline has not proven anything yet: UNKNOWN,
// not HEALTHY.
func overallStatus(report *models.HealthCheckReport) models.HealthStatus {
	status := models.HealthHealthy
	for _, comp := range report.Components {
		if comp.Status == models.HealthCritical {
			return models.HealthCritical
		}
		if comp.Status == models.HealthWarning {
			status = models.HealthWarning
		}
	}
	if report.SystemMetrics == nil {
		return models.HealthUnknown
	}
	if report.SystemMetrics.OverallStatus == models.HealthCritical {
		return models.HealthCritical
	}
	if report.SystemMetrics.OverallStatus == models.HealthWarning && status == models.HealthHealthy {
		return models.HealthWarning
	}
	return status
}

// GetMetrics aggregates financial and performance metrics plus trend series
// over a named range: "1h", "24h", or "7d".
func (c *MonitoringClient) GetMetrics(ctx context.Context, timeRange string) (*models.MetricsReport, error) {
	span, bucket, err := parseTimeRange(timeRange)
	if err != nil {
		return nil, &ReadError{Resource: "metrics", Err: err}
	}
	key := "metrics:" + timeRange
	return cachedRead(ctx, c, key, c.cfg.Cache.DefaultTTL(), "metrics", func(ctx context.Context) (*models.MetricsReport, error) {
		return c.buildMetrics(ctx, timeRange, span, bucket)
	})
}

func (c *MonitoringClient) buildMetrics(ctx context.Context, timeRange string, span, bucket time.Duration) (*models.MetricsReport, error) {
	now := c.now()
	since := now.Add(-span)

	txAgg, err := c.store.TransactionAggregates(ctx, since, now)
	if err != nil {
		return nil, err
	}
	scanAgg, err := c.store.ScanAggregates(ctx, since, now)
	if err != nil {
		return nil, err
	}
	affected, err := c.store.AffectedAmountSince(ctx, since)
	if err != nil {
		return nil, err
	}
	dupEvents, err := c.store.EventsSince(ctx, since, models.EventFilter{EventType: models.EventDuplicateNFC})
	if err != nil {
		return nil, err
	}
	discEvents, err := c.store.EventsSince(ctx, since, models.EventFilter{EventType: models.EventBalanceDiscrepancy})
	if err != nil {
		return nil, err
	}
	eventTrend, err := c.store.EventTrend(ctx, since, now, bucket)
	if err != nil {
		return nil, err
	}
	volumeTrend, err := c.store.VolumeTrend(ctx, since, now, bucket)
	if err != nil {
		return nil, err
	}

	financial := models.FinancialMetrics{
		TransactionCount:    txAgg.Count,
		TotalVolumeCents:    txAgg.VolumeCents,
		FailedCount:         txAgg.FailedCount,
		AffectedAmountCents: affected,
		TopupVolumeCents:    txAgg.TopupVolumeCents,
		PurchaseVolumeCents: txAgg.PurchaseVolumeCents,
	}
	if txAgg.Count > 0 {
		financial.FailureRatePct = float64(txAgg.FailedCount) / float64(txAgg.Count) * 100
	}
	if completed := txAgg.Count - txAgg.FailedCount; completed > 0 {
		financial.AverageTicketCents = txAgg.VolumeCents / int64(completed)
	}
	for _, ev := range discEvents {
		financial.DiscrepancyCents += ev.AmountCents
	}

	performance := models.PerformanceMetrics{
		AvgProcessingMillis: txAgg.AvgProcessingMillis,
		P95ProcessingMillis: txAgg.P95ProcessingMillis,
		P99ProcessingMillis: txAgg.P99ProcessingMillis,
		ScanCount:           scanAgg.Count,
	}
	if scanAgg.Count > 0 {
		performance.DuplicateScanRate = float64(len(dupEvents)) / float64(scanAgg.Count)
	}

	return &models.MetricsReport{
		TimeRange:   timeRange,
		Financial:   financial,
		Performance: performance,
		EventTrend:  eventTrend,
		VolumeTrend: volumeTrend,
		GeneratedAt: now,
	}, nil
}

// GetDashboard composes the operator dashboard via concurrent sub-fetches.
// Any sub-fetch failure fails the read; partial dashboards are the
// handler's concern, not silently assembled here.
func (c *MonitoringClient) GetDashboard(ctx context.Context) (*models.Dashboard, error) {
	return cachedRead(ctx, c, "dashboard", c.cfg.Cache.DashboardTTL(), "dashboard", func(ctx context.Context) (*models.Dashboard, error) {
		return c.buildDashboard(ctx)
	})
}

func (c *MonitoringClient) buildDashboard(ctx context.Context) (*models.Dashboard, error) {
	now := c.now()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	var (
		counts      *storage.EventCounts
		snap        *models.SystemHealthSnapshot
		recent      *models.EventPage
		eventTrend  []models.TrendPoint
		volumeTrend []models.TrendPoint
		affected    int64
		txAgg       *storage.TxAggregates
		scanAgg     *storage.ScanAggregates
	)

	fetches := []func(context.Context) error{
		func(ctx context.Context) (err error) {
			counts, err = c.store.EventCountsSince(ctx, dayAgo)
			return err
		},
		func(ctx context.Context) (err error) {
			snap, err = c.store.LatestSnapshot(ctx)
			return err
		},
		func(ctx context.Context) (err error) {
			recent, err = c.store.QueryEvents(ctx, models.EventFilter{}, models.Pagination{Page: 1, PageSize: 10})
			return err
		},
		func(ctx context.Context) (err error) {
			eventTrend, err = c.store.EventTrend(ctx, dayAgo, now, time.Hour)
			return err
		},
		func(ctx context.Context) (err error) {
			volumeTrend, err = c.store.VolumeTrend(ctx, dayAgo, now, time.Hour)
			return err
		},
		func(ctx context.Context) (err error) {
			affected, err = c.store.AffectedAmountSince(ctx, dayAgo)
			return err
		},
		func(ctx context.Context) (err error) {
			txAgg, err = c.store.TransactionAggregates(ctx, hourAgo, now)
			return err
		},
		func(ctx context.Context) (err error) {
			scanAgg, err = c.store.ScanAggregates(ctx, hourAgo, now)
			return err
		},
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(fetches))
	for _, fetch := range fetches {
		wg.Add(1)
		go func(fetch func(context.Context) error) {
			defer wg.Done()
			if err := fetch(fetchCtx); err != nil {
				errCh <- err
				cancel()
			}
		}(fetch)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}

	dash := &models.Dashboard{
		KPIs: models.DashboardKPIs{
			OpenEvents:          counts.Open,
			CriticalEvents:      counts.Critical,
			EventsLastHour:      counts.Total,
			AffectedAmountCents: affected,
		},
		Realtime: models.DashboardRealtime{
			TransactionsLastHour: txAgg.Count,
			ScansLastHour:        scanAgg.Count,
			ActiveSubscriptions:  c.SubscriptionCount(),
		},
		EventTrend:   eventTrend,
		VolumeTrend:  volumeTrend,
		RecentEvents: recent.Events,
		SystemStatus: models.HealthUnknown,
		GeneratedAt:  now,
	}
	if txAgg.Count > 0 {
		dash.KPIs.TransactionSuccessRate = float64(txAgg.Count-txAgg.FailedCount) / float64(txAgg.Count)
	}
	if snap != nil {
		dash.SystemStatus = snap.OverallStatus
		dash.KPIs.EventsLastHour = snap.EventsLastHour
	}
	return dash, nil
}

// ResolveEvent closes an event through the explicit resolution path and
// invalidates cached listings so the change is visible immediately.
func (c *MonitoringClient) ResolveEvent(ctx context.Context, id int64, status models.EventStatus, notes string) (*models.MonitoringEvent, error) {
	switch status {
	case models.StatusResolved, models.StatusFalsePositive, models.StatusInvestigating:
	default:
		return nil, &ReadError{Resource: "events", Err: fmt.Errorf("%w: resolution status %q", ErrInvalidArgument, status)}
	}
	ev, err := c.store.ResolveEvent(ctx, id, status, notes)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Clear(ctx); err != nil {
		c.logger.Warn("cache invalidation after resolve failed", "error", err)
	}
	return ev, nil
}

// ClearCache purges every cached read.
func (c *MonitoringClient) ClearCache(ctx context.Context) error {
	monitoring.RecordCacheOperation("clear", "ok")
	return c.cache.Clear(ctx)
}

// Cleanup cancels all active subscriptions and poll timers, then purges the
// cache. Callers must invoke this on shutdown.
func (c *MonitoringClient) Cleanup() {
	c.rootCancel()

	c.subMu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.Unlock()

	for _, s := range subs {
		s.unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cache.Clear(ctx); err != nil {
		c.logger.Warn("cache clear on cleanup failed", "error", err)
	}
}

// eventsKey builds a deterministic cache key from the full argument set.
func eventsKey(f models.EventFilter, p models.Pagination) string {
	since, until := "", ""
	if !f.Since.IsZero() {
		since = f.Since.UTC().Format(time.RFC3339)
	}
	if !f.Until.IsZero() {
		until = f.Until.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("events:%s|%s|%s|%s|%s|%s|p%d|s%d",
		f.EventType, f.Severity, f.Status, f.CardID, since, until, p.Page, p.PageSize)
}

func parseTimeRange(timeRange string) (span, bucket time.Duration, err error) {
	switch timeRange {
	case "1h":
		return time.Hour, 5 * time.Minute, nil
	case "24h":
		return 24 * time.Hour, time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, 6 * time.Hour, nil
	default:
		return 0, 0, fmt.Errorf("%w: time range %q (want 1h, 24h, or 7d)", ErrInvalidArgument, timeRange)
	}
}
