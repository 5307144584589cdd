package models

import "time"

// HealthStatus is the overall system health classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthWarning  HealthStatus = "WARNING"
	HealthCritical HealthStatus = "CRITICAL"
	HealthUnknown  HealthStatus = "UNKNOWN"
)

// SystemHealthSnapshot is one point-in-time rollup produced per detection
// cycle. Immutable once created; the next cycle supersedes it with a new row.
type SystemHealthSnapshot struct {
	ID                     int64              `json:"id"`
	SnapshotAt             time.Time          `json:"snapshot_at"`
	TransactionsLastHour   int                `json:"transactions_last_hour"`
	TransactionSuccessRate float64            `json:"transaction_success_rate"` // 0..1
	ProcessingP50Millis    float64            `json:"processing_p50_ms"`
	ProcessingP95Millis    float64            `json:"processing_p95_ms"`
	ProcessingP99Millis    float64            `json:"processing_p99_ms"`
	NFCScansLastHour       int                `json:"nfc_scans_last_hour"`
	DuplicateScanRate      float64            `json:"duplicate_scan_rate"` // 0..1
	EventsLastHour         int                `json:"events_last_hour"`
	CriticalEventsLastHour int                `json:"critical_events_last_hour"`
	OverallStatus          HealthStatus       `json:"overall_status"`
	Metrics                map[string]float64 `json:"metrics,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
}

// ComponentHealth is one entry in the health-check report. Entries are
// timestamped independently so a stale probe is visible as such.
type ComponentHealth struct {
	Status         HealthStatus        `json:"status"`
	Message        string              `json:"message,omitempty"`
	CheckedAt      time.Time           `json:"checked_at"`
	CircuitBreaker *CircuitBreakerInfo `json:"circuit_breaker,omitempty"`
}

// HealthCheckReport is the monitoring client's operator-facing health view.
type HealthCheckReport struct {
	Status               HealthStatus               `json:"status"`
	UptimeSeconds        float64                    `json:"uptime_seconds"`
	SystemMetrics        *SystemHealthSnapshot      `json:"system_metrics,omitempty"`
	Components           map[string]ComponentHealth `json:"components"`
	RecentCriticalAlerts []MonitoringEvent          `json:"recent_critical_alerts"`
	GeneratedAt          time.Time                  `json:"generated_at"`
}
