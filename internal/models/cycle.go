package models

import "time"

// DetectionResult is one algorithm's sub-result within a cycle. A query or
// execution error is absorbed here (Success=false, Error set) and never
// propagated to the cycle.
type DetectionResult struct {
	DetectionType EventType        `json:"detection_type"`
	Success       bool             `json:"success"`
	EventsCreated int              `json:"events_created"`
	Error         string           `json:"error,omitempty"`
	DetectedAt    time.Time        `json:"detection_timestamp"`
	Stats         map[string]int64 `json:"stats,omitempty"` // algorithm-specific counters
}

// DetectionCycleResult is the engine's per-run output. It exists only in
// memory and logs; the durable artifacts are the events and the snapshot row
// it references.
type DetectionCycleResult struct {
	CycleID            string            `json:"cycle_id"`
	StartedAt          time.Time         `json:"started_at"`
	DurationMillis     int64             `json:"duration_ms"`
	TotalEventsCreated int               `json:"total_events_created"`
	HealthSnapshotID   *int64            `json:"health_snapshot_id"`
	Results            []DetectionResult `json:"results"`
	Success            bool              `json:"success"`
	Errors             []string          `json:"errors,omitempty"`
}

// CircuitBreakerState names the breaker's three states.
type CircuitBreakerState string

const (
	BreakerClosed   CircuitBreakerState = "CLOSED"
	BreakerOpen     CircuitBreakerState = "OPEN"
	BreakerHalfOpen CircuitBreakerState = "HALF_OPEN"
)

// CircuitBreakerInfo is the wire shape of the scheduler's breaker state.
type CircuitBreakerInfo struct {
	State               CircuitBreakerState `json:"state"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastFailureAt       *time.Time          `json:"last_failure_at,omitempty"`
	HalfOpenCalls       int                 `json:"half_open_calls"`
	FailureThreshold    int                 `json:"failure_threshold"`
	RecoveryTimeoutMS   int64               `json:"recovery_timeout_ms"`
	HalfOpenMaxCalls    int                 `json:"half_open_max_calls"`
	CallTimeoutMS       int64               `json:"call_timeout_ms"`
}

// SchedulerStatus is a synchronous snapshot of the background scheduler.
type SchedulerStatus struct {
	IsRunning      bool               `json:"is_running"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
	ActiveJobs     int                `json:"active_jobs"`
	CircuitBreaker CircuitBreakerInfo `json:"circuit_breaker"`
}
