package scheduler

import (
	"sync"
	"time"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/monitoring"
)

// CircuitBreaker guards detection cycles against a failing datastore. One
// breaker exists per process; manual and scheduled cycle triggers share it.
//
// CLOSED passes calls through and counts consecutive failures. OPEN rejects
// everything until the recovery timeout elapses, then the next Allow moves to
// HALF_OPEN. HALF_OPEN admits a bounded number of trial calls: one success
// closes the breaker, one failure reopens it and restarts the timeout.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg config.CircuitBreakerConfig
	now func() time.Time

	state               models.CircuitBreakerState
	consecutiveFailures int
	halfOpenCalls       int
	lastFailureAt       time.Time
	openedAt            time.Time
}

func NewCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	monitoring.SetCircuitBreakerState(string(models.BreakerClosed))
	return &CircuitBreaker{
		cfg:   cfg,
		now:   time.Now,
		state: models.BreakerClosed,
	}
}

// Allow reports whether a cycle may run now. In HALF_OPEN it also claims one
// of the bounded trial slots, so callers must follow every accepted call with
// RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case models.BreakerClosed:
		return true

	case models.BreakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout() {
			cb.transitionTo(models.BreakerHalfOpen)
			cb.halfOpenCalls = 1
			return true
		}
		return false

	case models.BreakerHalfOpen:
		if cb.halfOpenCalls < cb.cfg.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess closes the breaker from HALF_OPEN; a single healthy cycle is
// taken as proof of recovery.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case models.BreakerClosed:
		cb.consecutiveFailures = 0
	case models.BreakerHalfOpen:
		cb.transitionTo(models.BreakerClosed)
	}
}

// RecordFailure counts a failed or timed-out cycle. Crossing the threshold in
// CLOSED, or any failure in HALF_OPEN, opens the breaker and restarts the
// recovery timer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.lastFailureAt = now

	switch cb.state {
	case models.BreakerClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.openedAt = now
			cb.transitionTo(models.BreakerOpen)
		}
	case models.BreakerHalfOpen:
		cb.openedAt = now
		cb.transitionTo(models.BreakerOpen)
	}
}

func (cb *CircuitBreaker) State() models.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Info snapshots the breaker for status endpoints.
func (cb *CircuitBreaker) Info() models.CircuitBreakerInfo {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	info := models.CircuitBreakerInfo{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		HalfOpenCalls:       cb.halfOpenCalls,
		FailureThreshold:    cb.cfg.FailureThreshold,
		RecoveryTimeoutMS:   cb.cfg.RecoveryTimeoutMS,
		HalfOpenMaxCalls:    cb.cfg.HalfOpenMaxCalls,
		CallTimeoutMS:       cb.cfg.CallTimeoutMS,
	}
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		info.LastFailureAt = &t
	}
	return info
}

// Reset forces the breaker closed. Manual intervention only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(models.BreakerClosed)
}

// transitionTo changes state. Must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(state models.CircuitBreakerState) {
	cb.state = state
	cb.halfOpenCalls = 0
	if state == models.BreakerClosed {
		cb.consecutiveFailures = 0
	}
	monitoring.SetCircuitBreakerState(string(state))
}
