package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/detect"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage/storetest"
	"github.com/payflux/monitor-core/pkg/logger"
)

func testConfig() config.Config {
	return config.Config{
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
			FailureThreshold:  2,
			RecoveryTimeoutMS: 60_000,
			HalfOpenMaxCalls:  1,
			CallTimeoutMS:     30_000,
		},
		Retention: config.RetentionConfig{
			EventDays:          90,
			SnapshotDays:       30,
			SweepIntervalHours: 24,
		},
	}
}

func newTestScheduler(store *storetest.Fake) *Scheduler {
	cfg := testConfig()
	log := logger.NewNop()
	engine := detect.NewEngine(store, func() config.DetectionConfig { return cfg.Detection }, log)
	return New(engine, store, cfg, log)
}

func TestScheduler_ManualCycleSucceeds(t *testing.T) {
	store := storetest.New()
	s := newTestScheduler(store)

	result, err := s.RunDetectionCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Len(t, result.Results, 4)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalEventsCreated)
	assert.Equal(t, 1, len(store.Snapshots))
}

func TestScheduler_BreakerOpensAfterConsecutiveCycleFailures(t *testing.T) {
	store := storetest.New()
	dbDown := errors.New("connection refused")
	store.ErrTransactions = dbDown
	store.ErrScans = dbDown
	store.ErrCards = dbDown
	store.ErrAggregates = dbDown
	store.ErrSnapshot = dbDown

	s := newTestScheduler(store)

	var cycleErr *detect.CycleError
	_, err := s.RunDetectionCycle(context.Background())
	require.ErrorAs(t, err, &cycleErr)

	_, err = s.RunDetectionCycle(context.Background())
	require.Error(t, err)

	// Threshold of 2 reached, so the third trigger is rejected unrun.
	_, err = s.RunDetectionCycle(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "OPEN", string(s.GetStatus().CircuitBreaker.State))
}

func TestScheduler_RecoveryAfterDatastoreReturns(t *testing.T) {
	store := storetest.New()
	dbDown := errors.New("connection refused")
	store.ErrTransactions = dbDown
	store.ErrScans = dbDown
	store.ErrCards = dbDown
	store.ErrAggregates = dbDown
	store.ErrSnapshot = dbDown

	s := newTestScheduler(store)
	for i := 0; i < 2; i++ {
		_, err := s.RunDetectionCycle(context.Background())
		require.Error(t, err)
	}

	// Force the recovery timeout to have elapsed.
	now := time.Now()
	s.breaker.now = func() time.Time { return now.Add(2 * time.Minute) }

	// Datastore is healthy again; the half-open trial closes the breaker.
	store.ErrTransactions = nil
	store.ErrScans = nil
	store.ErrCards = nil
	store.ErrAggregates = nil
	store.ErrSnapshot = nil

	result, err := s.RunDetectionCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "CLOSED", string(s.GetStatus().CircuitBreaker.State))
}

func TestScheduler_CycleTimeoutFollowsDetectionConfig(t *testing.T) {
	store := storetest.New()
	s := newTestScheduler(store)

	// The detection cycle timeout bounds the cycle context.
	s.cfg.Detection.CycleTimeoutSeconds = 5
	s.cfg.CircuitBreaker.CallTimeoutMS = 30_000
	assert.Equal(t, 5*time.Second, s.cycleTimeout())

	// The breaker's per-call bound caps it when tighter.
	s.cfg.CircuitBreaker.CallTimeoutMS = 2_000
	assert.Equal(t, 2*time.Second, s.cycleTimeout())
}

func TestScheduler_RejectsOverlappingCycles(t *testing.T) {
	store := storetest.New()
	s := newTestScheduler(store)

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	_, err := s.RunDetectionCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	store := storetest.New()
	s := newTestScheduler(store)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	status := s.GetStatus()
	assert.True(t, status.IsRunning)
	assert.GreaterOrEqual(t, status.UptimeSeconds, 0.0)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.GetStatus().IsRunning)
}

// Seeds a realistic hour of ledger traffic with a 10% failure rate and
// checks that one cycle flags it, then that a long run of clean cycles
// stays healthy.
func TestScheduler_EndToEnd(t *testing.T) {
	store := storetest.New()
	now := time.Now()
	bal := int64(10_000)
	for i := 0; i < 90; i++ {
		store.Transactions = append(store.Transactions, models.Transaction{
			ID:                   fmt.Sprintf("tx-ok-%03d", i),
			CardID:               fmt.Sprintf("CARD%04d", i),
			Type:                 "purchase",
			Status:               models.TxCompleted,
			AmountCents:          500,
			PreviousBalanceCents: bal,
			NewBalanceCents:      bal - 500,
			CreatedAt:            now.Add(-time.Duration(i) * time.Second),
		})
	}
	// One card stuck failing; balances untouched so only the run is anomalous.
	for i := 0; i < 10; i++ {
		store.Transactions = append(store.Transactions, models.Transaction{
			ID:                   fmt.Sprintf("tx-bad-%03d", i),
			CardID:               "CARDDEAD",
			Type:                 "purchase",
			Status:               models.TxFailed,
			AmountCents:          500,
			PreviousBalanceCents: bal,
			NewBalanceCents:      bal,
			CreatedAt:            now.Add(-time.Duration(i) * time.Second),
		})
	}

	s := newTestScheduler(store)
	result, err := s.RunDetectionCycle(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Greater(t, result.TotalEventsCreated, 0)
	for _, sub := range result.Results {
		if sub.DetectionType == models.EventTransactionFailure {
			assert.True(t, sub.Success)
			assert.Greater(t, sub.EventsCreated, 0)
		}
	}

	// A clean ledger must sustain repeated cycles without a single failure.
	clean := storetest.New()
	s = newTestScheduler(clean)
	succeeded := 0
	for i := 0; i < 100; i++ {
		if r, err := s.RunDetectionCycle(context.Background()); err == nil && r.Success {
			succeeded++
		}
	}
	assert.Equal(t, 100, succeeded)
}

func TestScheduler_StatusBeforeStart(t *testing.T) {
	store := storetest.New()
	s := newTestScheduler(store)

	status := s.GetStatus()
	assert.False(t, status.IsRunning)
	assert.Zero(t, status.UptimeSeconds)
	assert.Equal(t, 0, status.ActiveJobs)
	assert.Equal(t, "CLOSED", string(status.CircuitBreaker.State))
}
