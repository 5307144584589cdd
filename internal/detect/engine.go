package detect

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/monitoring"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

// Engine runs all four detectors for one cycle and persists the resulting
// health snapshot. Detectors have no shared mutable state, so they run
// concurrently; the snapshot waits for all of them.
type Engine struct {
	store     storage.Store
	detection func() config.DetectionConfig // hot-reloadable thresholds
	detectors []Detector
	logger    logger.Logger
	now       func() time.Time
}

func NewEngine(store storage.Store, detection func() config.DetectionConfig, log logger.Logger) *Engine {
	return &Engine{
		store:     store,
		detection: detection,
		detectors: []Detector{
			NewTransactionFailureDetector(store, log),
			NewBalanceDiscrepancyDetector(store, log),
			NewDuplicateNFCDetector(store, log),
			NewRaceConditionDetector(store, log),
		},
		logger: log,
		now:    time.Now,
	}
}

// RunCycle executes one detection cycle. Individual detector failures do not
// fail the cycle, nor does snapshot persistence failure alone; the returned
// error is non-nil only when the cycle as a whole could not complete (context
// expired mid-run, or the datastore rejected every operation).
func (e *Engine) RunCycle(ctx context.Context) (*models.DetectionCycleResult, error) {
	start := e.now()
	cfg := e.detection()

	result := &models.DetectionCycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: start,
		Success:   true,
	}

	results := make([]models.DetectionResult, len(e.detectors))
	var wg sync.WaitGroup
	for i, det := range e.detectors {
		wg.Add(1)
		go func(i int, det Detector) {
			defer wg.Done()
			queryCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout())
			defer cancel()
			results[i] = det.Run(queryCtx, start, cfg)
		}(i, det)
	}
	wg.Wait()

	// Stable sub-result order regardless of completion order.
	sort.Slice(results, func(i, j int) bool {
		return results[i].DetectionType < results[j].DetectionType
	})
	result.Results = results

	allFailed := true
	for _, r := range results {
		result.TotalEventsCreated += r.EventsCreated
		if r.Success {
			allFailed = false
		} else {
			result.Errors = append(result.Errors, string(r.DetectionType)+": "+r.Error)
		}
		monitoring.RecordEventsCreated(string(r.DetectionType), r.EventsCreated)
	}

	snapID, snapErr := e.snapshot(ctx, start)
	if snapErr != nil {
		// Snapshot persistence failure alone does not fail the cycle.
		result.Errors = append(result.Errors, "health snapshot: "+snapErr.Error())
		e.logger.Warn("health snapshot not persisted", "cycle", result.CycleID, "error", snapErr)
	} else {
		result.HealthSnapshotID = &snapID
	}

	result.DurationMillis = e.now().Sub(start).Milliseconds()

	if ctx.Err() != nil {
		result.Success = false
		return result, ctx.Err()
	}
	if allFailed && snapErr != nil {
		// Nothing reached the datastore; count this against the breaker.
		result.Success = false
		return result, &CycleError{CycleID: result.CycleID, Errors: result.Errors}
	}

	e.logger.Info("detection cycle complete",
		"cycle", result.CycleID,
		"events", result.TotalEventsCreated,
		"duration_ms", result.DurationMillis,
		"failures", len(result.Errors),
	)
	return result, nil
}

// snapshot computes and persists the per-cycle health rollup. It reflects
// data as of after all detectors completed for this cycle.
func (e *Engine) snapshot(ctx context.Context, now time.Time) (int64, error) {
	hourAgo := now.Add(-time.Hour)

	txAgg, err := e.store.TransactionAggregates(ctx, hourAgo, now)
	if err != nil {
		return 0, err
	}
	scanAgg, err := e.store.ScanAggregates(ctx, hourAgo, now)
	if err != nil {
		return 0, err
	}
	counts, err := e.store.EventCountsSince(ctx, hourAgo)
	if err != nil {
		return 0, err
	}

	successRate := 1.0
	if txAgg.Count > 0 {
		successRate = float64(txAgg.Count-txAgg.FailedCount) / float64(txAgg.Count)
	}
	dupFilter := models.EventFilter{EventType: models.EventDuplicateNFC}
	dupEvents, err := e.store.EventsSince(ctx, hourAgo, dupFilter)
	if err != nil {
		return 0, err
	}
	dupRate := 0.0
	if scanAgg.Count > 0 {
		dupRate = float64(len(dupEvents)) / float64(scanAgg.Count)
	}

	snap := &models.SystemHealthSnapshot{
		SnapshotAt:             now,
		TransactionsLastHour:   txAgg.Count,
		TransactionSuccessRate: successRate,
		ProcessingP50Millis:    txAgg.P50ProcessingMillis,
		ProcessingP95Millis:    txAgg.P95ProcessingMillis,
		ProcessingP99Millis:    txAgg.P99ProcessingMillis,
		NFCScansLastHour:       scanAgg.Count,
		DuplicateScanRate:      dupRate,
		EventsLastHour:         counts.Total,
		CriticalEventsLastHour: counts.Critical,
		OverallStatus:          classifyHealth(txAgg.Count, successRate, counts),
		Metrics: map[string]float64{
			"avg_processing_ms":      txAgg.AvgProcessingMillis,
			"avg_scan_processing_ms": scanAgg.AvgProcessingMillis,
			"open_events":            float64(counts.Open),
		},
	}

	id, err := e.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return 0, err
	}

	if snap.OverallStatus == models.HealthWarning || snap.OverallStatus == models.HealthCritical {
		e.emitHealthEvent(ctx, snap, now)
	}
	return id, nil
}

// emitHealthEvent records degraded system health as a monitoring event so
// it shows up in the same stream operators already watch. Best effort; a
// failed insert only logs.
func (e *Engine) emitHealthEvent(ctx context.Context, snap *models.SystemHealthSnapshot, now time.Time) {
	severity := models.SeverityMedium
	if snap.OverallStatus == models.HealthCritical {
		severity = models.SeverityCritical
	}
	ev := models.MonitoringEvent{
		EventType:       models.EventSystemHealth,
		Severity:        severity,
		DetectedAt:      now,
		DetectionSource: "detection_cycle",
		Confidence:      1.0,
		EventData: models.SystemHealthPayload{
			Status:                 snap.OverallStatus,
			TransactionSuccessRate: snap.TransactionSuccessRate,
			CriticalEventsLastHour: snap.CriticalEventsLastHour,
			SnapshotID:             snap.ID,
		},
		Context: models.EventContext{RequiresInvestigation: snap.OverallStatus == models.HealthCritical},
	}
	if _, err := e.store.InsertEvent(ctx, &ev); err != nil {
		e.logger.Warn("system health event not persisted", "error", err)
	}
}

// classifyHealth maps the hourly rollup onto the four health states.
// Thresholds deliberately skew pessimistic: operators should see WARNING
// before customers see failures.
func classifyHealth(txCount int, successRate float64, counts *storage.EventCounts) models.HealthStatus {
	if counts.Critical > 0 {
		return models.HealthCritical
	}
	if txCount > 0 && successRate < 0.90 {
		return models.HealthCritical
	}
	if txCount > 0 && successRate < 0.98 {
		return models.HealthWarning
	}
	if counts.Total > 0 {
		return models.HealthWarning
	}
	return models.HealthHealthy
}

// CycleError reports a cycle in which no detector and no snapshot reached
// the datastore.
type CycleError struct {
	CycleID string
	Errors  []string
}

func (e *CycleError) Error() string {
	msg := "detection cycle " + e.CycleID + " failed"
	if len(e.Errors) > 0 {
		msg += ": " + e.Errors[0]
	}
	return msg
}
