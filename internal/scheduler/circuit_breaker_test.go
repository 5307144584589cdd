package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
)

func newTestBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{
		FailureThreshold:  3,
		RecoveryTimeoutMS: 60_000,
		HalfOpenMaxCalls:  2,
		CallTimeoutMS:     30_000,
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterThresholdFailures(t *testing.T) {
	cb, _ := newTestBreaker(t)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, models.BreakerClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, models.BreakerOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(t)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	// Never three in a row, so still closed.
	assert.Equal(t, models.BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	cb, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, models.BreakerOpen, cb.State())

	*now = now.Add(59 * time.Second)
	assert.False(t, cb.Allow())

	*now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, models.BreakerHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenCapsTrialCalls(t *testing.T) {
	cb, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	*now = now.Add(61 * time.Second)

	assert.True(t, cb.Allow())  // transition claims slot 1
	assert.True(t, cb.Allow())  // slot 2
	assert.False(t, cb.Allow()) // capped
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	*now = now.Add(61 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, models.BreakerClosed, cb.State())
	assert.Equal(t, 0, cb.Info().ConsecutiveFailures)
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopensAndRestartsTimer(t *testing.T) {
	cb, now := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	*now = now.Add(61 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	require.Equal(t, models.BreakerOpen, cb.State())

	// The recovery timer restarted at the half-open failure.
	*now = now.Add(59 * time.Second)
	assert.False(t, cb.Allow())
	*now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, models.BreakerOpen, cb.State())

	cb.Reset()
	assert.Equal(t, models.BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_InfoReportsConfigAndState(t *testing.T) {
	cb, _ := newTestBreaker(t)

	cb.RecordFailure()
	info := cb.Info()

	assert.Equal(t, models.BreakerClosed, info.State)
	assert.Equal(t, 1, info.ConsecutiveFailures)
	assert.Equal(t, 3, info.FailureThreshold)
	assert.Equal(t, int64(60_000), info.RecoveryTimeoutMS)
	assert.Equal(t, 2, info.HalfOpenMaxCalls)
	require.NotNil(t, info.LastFailureAt)
}
