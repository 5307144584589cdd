package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage/storetest"
	"github.com/payflux/monitor-core/pkg/logger"
)

func newTestEngine(store *storetest.Fake) *Engine {
	cfg := testDetectionConfig()
	e := NewEngine(store, func() config.DetectionConfig { return cfg }, logger.NewNop())
	e.now = func() time.Time { return testNow }
	return e
}

func TestEngine_CleanCycle(t *testing.T) {
	store := storetest.New()
	e := newTestEngine(store)

	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.CycleID)
	assert.Len(t, result.Results, 4)
	assert.Equal(t, 0, result.TotalEventsCreated)
	assert.Empty(t, result.Errors)
	require.NotNil(t, result.HealthSnapshotID)

	require.Len(t, store.Snapshots, 1)
	assert.Equal(t, models.HealthHealthy, store.Snapshots[0].OverallStatus)
}

func TestEngine_TotalIsSumOfSubResults(t *testing.T) {
	store := storetest.New()
	base := testNow.Add(-10 * time.Minute)

	// One duplicate scan cluster and one race group.
	store.Scans = []models.NFCScan{
		scanAt(1, "CARD0001", base),
		scanAt(2, "CARD0001", base.Add(2*time.Second)),
	}
	store.Transactions = []models.Transaction{
		txAt("tx-1", "CARD0002", 500, base),
		txAt("tx-2", "CARD0002", 300, base.Add(1*time.Second)),
	}

	e := newTestEngine(store)
	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	var sum int
	for _, r := range result.Results {
		sum += r.EventsCreated
	}
	assert.Equal(t, sum, result.TotalEventsCreated)
	assert.Equal(t, 2, result.TotalEventsCreated)
}

func TestEngine_PartialDetectorFailureStillSucceeds(t *testing.T) {
	store := storetest.New()
	store.ErrScans = errors.New("connection refused") // duplicate detector fails

	e := newTestEngine(store)
	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.NotNil(t, result.HealthSnapshotID)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], string(models.EventDuplicateNFC))

	var dupResult *models.DetectionResult
	for i := range result.Results {
		if result.Results[i].DetectionType == models.EventDuplicateNFC {
			dupResult = &result.Results[i]
		}
	}
	require.NotNil(t, dupResult)
	assert.False(t, dupResult.Success)
}

func TestEngine_SnapshotFailureAloneDoesNotFailCycle(t *testing.T) {
	store := storetest.New()
	store.ErrSnapshot = errors.New("disk full")

	e := newTestEngine(store)
	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Nil(t, result.HealthSnapshotID)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "health snapshot")
}

func TestEngine_TotalDatastoreFailureReturnsCycleError(t *testing.T) {
	store := storetest.New()
	dbDown := errors.New("connection refused")
	store.ErrTransactions = dbDown
	store.ErrScans = dbDown
	store.ErrCards = dbDown
	store.ErrAggregates = dbDown
	store.ErrSnapshot = dbDown

	e := newTestEngine(store)
	result, err := e.RunCycle(context.Background())

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.False(t, result.Success)
	assert.Equal(t, result.CycleID, cycleErr.CycleID)
	assert.NotEmpty(t, cycleErr.Errors)
}

func TestEngine_DegradedHealthEmitsSystemEvent(t *testing.T) {
	store := storetest.New()
	// 10 transactions in the last hour, 3 failed: 70% success rate.
	for i := 0; i < 10; i++ {
		at := testNow.Add(time.Duration(-i-1) * time.Minute)
		tx := txAt("tx-ok", "CARD0001", 100, at)
		if i < 3 {
			tx.Status = models.TxFailed
		}
		store.Transactions = append(store.Transactions, tx)
	}

	e := newTestEngine(store)
	result, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, store.Snapshots, 1)
	assert.Equal(t, models.HealthCritical, store.Snapshots[0].OverallStatus)

	var healthEvents []models.MonitoringEvent
	for _, ev := range store.Events {
		if ev.EventType == models.EventSystemHealth {
			healthEvents = append(healthEvents, ev)
		}
	}
	require.Len(t, healthEvents, 1)
	assert.Equal(t, models.SeverityCritical, healthEvents[0].Severity)

	// The health event is a cycle artifact, not a detector finding.
	var sum int
	for _, r := range result.Results {
		sum += r.EventsCreated
	}
	assert.Equal(t, sum, result.TotalEventsCreated)
}
