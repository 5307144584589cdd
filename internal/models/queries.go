package models

import "time"

// EventFilter narrows event queries. Zero values mean "no constraint".
type EventFilter struct {
	EventType EventType   `json:"event_type,omitempty" form:"event_type"`
	Severity  Severity    `json:"severity,omitempty" form:"severity"`
	Status    EventStatus `json:"status,omitempty" form:"status"`
	CardID    string      `json:"card_id,omitempty" form:"card_id"`
	Since     time.Time   `json:"since,omitempty" form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Until     time.Time   `json:"until,omitempty" form:"until" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Matches reports whether an event satisfies the filter. Used by the
// subscription fan-out path; the query path pushes the same predicate into
// SQL.
func (f EventFilter) Matches(ev *MonitoringEvent) bool {
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.CardID != "" && ev.CardID != f.CardID {
		return false
	}
	if !f.Since.IsZero() && ev.DetectedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.DetectedAt.After(f.Until) {
		return false
	}
	return true
}

// Pagination for event listings.
type Pagination struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize clamps pagination to sane bounds.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the SQL offset for the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// EventPage is a paginated event listing plus the summary counts dashboards
// show alongside it.
type EventPage struct {
	Events        []MonitoringEvent `json:"events"`
	Total         int               `json:"total"`
	Page          int               `json:"page"`
	PageSize      int               `json:"page_size"`
	TotalCritical int               `json:"total_critical"`
	TotalOpen     int               `json:"total_open"`
}

// TrendPoint is one bucket in a time series.
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// FinancialMetrics aggregates monetary activity over a time range.
type FinancialMetrics struct {
	TransactionCount     int     `json:"transaction_count"`
	TotalVolumeCents     int64   `json:"total_volume_cents"`
	FailedCount          int     `json:"failed_count"`
	FailureRatePct       float64 `json:"failure_rate_pct"`
	DiscrepancyCents     int64   `json:"discrepancy_cents"`
	AffectedAmountCents  int64   `json:"affected_amount_cents"`
	AverageTicketCents   int64   `json:"average_ticket_cents"`
	TopupVolumeCents     int64   `json:"topup_volume_cents"`
	PurchaseVolumeCents  int64   `json:"purchase_volume_cents"`
}

// PerformanceMetrics aggregates processing-time behaviour over a time range.
type PerformanceMetrics struct {
	AvgProcessingMillis float64 `json:"avg_processing_ms"`
	P95ProcessingMillis float64 `json:"p95_processing_ms"`
	P99ProcessingMillis float64 `json:"p99_processing_ms"`
	ScanCount           int     `json:"scan_count"`
	DuplicateScanRate   float64 `json:"duplicate_scan_rate"`
}

// MetricsReport is the getMetrics response.
type MetricsReport struct {
	TimeRange   string             `json:"time_range"`
	Financial   FinancialMetrics   `json:"financial_metrics"`
	Performance PerformanceMetrics `json:"performance_metrics"`
	EventTrend  []TrendPoint       `json:"event_trend"`
	VolumeTrend []TrendPoint       `json:"volume_trend"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// DashboardKPIs are the headline numbers on the operator dashboard.
type DashboardKPIs struct {
	OpenEvents             int     `json:"open_events"`
	CriticalEvents         int     `json:"critical_events"`
	TransactionSuccessRate float64 `json:"transaction_success_rate"`
	EventsLastHour         int     `json:"events_last_hour"`
	AffectedAmountCents    int64   `json:"affected_amount_cents"`
}

// DashboardRealtime are the live counters refreshed each dashboard load.
type DashboardRealtime struct {
	TransactionsLastHour int `json:"transactions_last_hour"`
	ScansLastHour        int `json:"scans_last_hour"`
	ActiveSubscriptions  int `json:"active_subscriptions"`
}

// Dashboard is the composed getDashboard response.
type Dashboard struct {
	KPIs         DashboardKPIs     `json:"kpis"`
	Realtime     DashboardRealtime `json:"real_time"`
	EventTrend   []TrendPoint      `json:"event_trend"`
	VolumeTrend  []TrendPoint      `json:"volume_trend"`
	RecentEvents []MonitoringEvent `json:"recent_events"`
	SystemStatus HealthStatus      `json:"system_status"`
	GeneratedAt  time.Time         `json:"generated_at"`
}
