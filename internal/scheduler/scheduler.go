// Package scheduler runs detection cycles in the background and guards them
// with a circuit breaker so a failing datastore is probed, not hammered.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/detect"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/monitoring"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

var (
	// ErrCircuitOpen means the breaker rejected the cycle without running it.
	ErrCircuitOpen = errors.New("circuit breaker open: detection cycle rejected")

	// ErrCycleInProgress means another cycle holds the single in-flight slot.
	ErrCycleInProgress = errors.New("detection cycle already in progress")
)

// Scheduler triggers detection cycles on a fixed interval and sweeps expired
// monitoring rows. Manual cycles share the breaker and the single in-flight
// slot with scheduled ones.
type Scheduler struct {
	engine  *detect.Engine
	store   storage.Store
	breaker *CircuitBreaker
	cfg     config.Config
	logger  logger.Logger

	// cycleMu serializes cycles: at most one runs at any moment.
	cycleMu sync.Mutex

	mu         sync.Mutex
	running    bool
	startedAt  time.Time
	activeJobs int
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func New(engine *detect.Engine, store storage.Store, cfg config.Config, log logger.Logger) *Scheduler {
	return &Scheduler{
		engine:  engine,
		store:   store,
		breaker: NewCircuitBreaker(cfg.CircuitBreaker),
		cfg:     cfg,
		logger:  log,
	}
}

// Start launches the cycle loop and the retention sweeper. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.startedAt = time.Now()
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info("detection scheduler starting",
		"interval", s.cfg.Detection.Interval(),
		"sweep_interval", s.cfg.Retention.SweepInterval(),
	)

	s.wg.Add(2)
	go s.cycleLoop(ctx, stopCh)
	go s.sweepLoop(ctx, stopCh)
	return nil
}

// Stop halts the loops and waits for an in-flight cycle to finish. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("detection scheduler stopped")
	return nil
}

func (s *Scheduler) cycleLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Detection.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runCycle(ctx, "scheduled"); err != nil {
				switch {
				case errors.Is(err, ErrCircuitOpen):
					s.logger.Warn("scheduled cycle rejected, circuit open")
				case errors.Is(err, ErrCycleInProgress):
					s.logger.Warn("scheduled cycle skipped, previous cycle still running")
				default:
					s.logger.Error("scheduled cycle failed", "error", err)
				}
			}
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Retention.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	now := time.Now()
	eventCutoff := now.AddDate(0, 0, -s.cfg.Retention.EventDays)
	snapshotCutoff := now.AddDate(0, 0, -s.cfg.Retention.SnapshotDays)

	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.Detection.QueryTimeout())
	defer cancel()

	purged, err := s.store.PurgeExpired(sweepCtx, eventCutoff, snapshotCutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("retention sweep purged expired rows", "rows", purged)
	}
}

// RunDetectionCycle triggers a cycle outside the schedule. It passes through
// the same breaker and in-flight slot as scheduled cycles, so it can return
// ErrCircuitOpen or ErrCycleInProgress without running anything.
func (s *Scheduler) RunDetectionCycle(ctx context.Context) (*models.DetectionCycleResult, error) {
	return s.runCycle(ctx, "manual")
}

func (s *Scheduler) runCycle(ctx context.Context, trigger string) (*models.DetectionCycleResult, error) {
	if !s.cycleMu.TryLock() {
		monitoring.RecordCycleRejected(trigger)
		return nil, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	if !s.breaker.Allow() {
		monitoring.RecordCycleRejected(trigger)
		return nil, ErrCircuitOpen
	}

	s.mu.Lock()
	s.activeJobs++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.activeJobs--
		s.mu.Unlock()
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout())
	defer cancel()

	start := time.Now()
	result, err := s.engine.RunCycle(cycleCtx)
	monitoring.RecordDetectionCycle(trigger, time.Since(start), err == nil)

	// A timed-out cycle counts as a breaker failure like any other.
	if err != nil {
		s.breaker.RecordFailure()
		s.logger.Error("detection cycle failed",
			"trigger", trigger,
			"breaker", s.breaker.State(),
			"error", err,
		)
		return result, err
	}

	s.breaker.RecordSuccess()
	return result, nil
}

// cycleTimeout is the deadline for one cycle: the configured detection cycle
// timeout, never longer than the breaker's per-call bound.
func (s *Scheduler) cycleTimeout() time.Duration {
	timeout := s.cfg.Detection.CycleTimeout()
	if call := s.cfg.CircuitBreaker.CallTimeout(); call < timeout {
		timeout = call
	}
	return timeout
}

// GetStatus returns a synchronous snapshot; it never runs a cycle.
func (s *Scheduler) GetStatus() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.SchedulerStatus{
		IsRunning:      s.running,
		ActiveJobs:     s.activeJobs,
		CircuitBreaker: s.breaker.Info(),
	}
	if s.running {
		status.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	return status
}

// ResetBreaker forces the circuit closed. Exposed for operator endpoints.
func (s *Scheduler) ResetBreaker() {
	s.breaker.Reset()
}
