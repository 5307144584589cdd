package storage

import (
	"context"
	"errors"
	"time"

	"github.com/payflux/monitor-core/internal/models"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// TxAggregates summarizes ledger activity over a time range.
type TxAggregates struct {
	Count               int
	FailedCount         int
	VolumeCents         int64
	TopupVolumeCents    int64
	PurchaseVolumeCents int64
	AvgProcessingMillis float64
	P50ProcessingMillis float64
	P95ProcessingMillis float64
	P99ProcessingMillis float64
}

// ScanAggregates summarizes NFC scan activity over a time range.
type ScanAggregates struct {
	Count               int
	AvgProcessingMillis float64
}

// EventCounts is a total/critical/open rollup of monitoring events.
type EventCounts struct {
	Total    int
	Critical int
	Open     int
}

// Store is the datastore collaborator. The payment platform owns the ledger
// tables (transactions, nfc_scans, cards); this core reads them and writes
// the monitoring tables. The store never assumes exclusive access -- the
// race-condition detector exists precisely because other writers are live.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// Ledger reads used by the detection algorithms.
	RecentTransactions(ctx context.Context, since time.Time) ([]models.Transaction, error)
	RecentScans(ctx context.Context, since time.Time) ([]models.NFCScan, error)
	ActiveCards(ctx context.Context, since time.Time) ([]models.CardBalance, error)
	TransactionsForCard(ctx context.Context, cardID string) ([]models.Transaction, error)

	// Monitoring writes.
	InsertEvent(ctx context.Context, ev *models.MonitoringEvent) (int64, error)
	InsertSnapshot(ctx context.Context, snap *models.SystemHealthSnapshot) (int64, error)
	ResolveEvent(ctx context.Context, id int64, status models.EventStatus, notes string) (*models.MonitoringEvent, error)

	// Monitoring reads.
	QueryEvents(ctx context.Context, filter models.EventFilter, page models.Pagination) (*models.EventPage, error)
	EventsSince(ctx context.Context, since time.Time, filter models.EventFilter) ([]models.MonitoringEvent, error)
	LatestSnapshot(ctx context.Context) (*models.SystemHealthSnapshot, error)
	EventCountsSince(ctx context.Context, since time.Time) (*EventCounts, error)

	// Aggregates for metrics, dashboard, and health snapshots.
	TransactionAggregates(ctx context.Context, since, until time.Time) (*TxAggregates, error)
	ScanAggregates(ctx context.Context, since, until time.Time) (*ScanAggregates, error)
	EventTrend(ctx context.Context, since, until time.Time, bucket time.Duration) ([]models.TrendPoint, error)
	VolumeTrend(ctx context.Context, since, until time.Time, bucket time.Duration) ([]models.TrendPoint, error)
	AffectedAmountSince(ctx context.Context, since time.Time) (int64, error)

	// Retention.
	PurgeExpired(ctx context.Context, eventCutoff, snapshotCutoff time.Time) (int64, error)

	// SubscribeEvents delivers newly inserted monitoring events. The channel
	// closes when ctx is cancelled or the underlying connection drops; an
	// error on registration means push delivery is unavailable and the
	// caller must fall back to polling.
	SubscribeEvents(ctx context.Context) (<-chan models.MonitoringEvent, error)
}
