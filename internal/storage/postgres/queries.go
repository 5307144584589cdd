package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/monitoring"
	"github.com/payflux/monitor-core/internal/storage"
)

func (c *Client) RecentTransactions(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, card_id, tx_type, status, amount_cents,
		       previous_balance_cents, new_balance_cents, processing_ms, created_at
		FROM transactions
		WHERE created_at >= $1
		ORDER BY card_id, created_at`, since.UTC())
	monitoring.RecordDBOperation("select", "transactions", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("query recent transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.CardID, &tx.Type, &tx.Status, &tx.AmountCents,
			&tx.PreviousBalanceCents, &tx.NewBalanceCents, &tx.ProcessingMillis, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.CardID = strings.TrimSpace(tx.CardID)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (c *Client) RecentScans(ctx context.Context, since time.Time) ([]models.NFCScan, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, card_id, COALESCE(terminal_id, ''), processing_ms, scanned_at
		FROM nfc_scans
		WHERE scanned_at >= $1
		ORDER BY card_id, scanned_at`, since.UTC())
	monitoring.RecordDBOperation("select", "nfc_scans", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("query recent scans: %w", err)
	}
	defer rows.Close()

	var out []models.NFCScan
	for rows.Next() {
		var s models.NFCScan
		if err := rows.Scan(&s.ID, &s.CardID, &s.TerminalID, &s.ProcessingMillis, &s.ScannedAt); err != nil {
			return nil, fmt.Errorf("scan nfc row: %w", err)
		}
		s.CardID = strings.TrimSpace(s.CardID)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Client) ActiveCards(ctx context.Context, since time.Time) ([]models.CardBalance, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, `
		SELECT c.card_id, c.balance_cents, c.updated_at
		FROM cards c
		WHERE EXISTS (
			SELECT 1 FROM transactions t
			WHERE t.card_id = c.card_id AND t.created_at >= $1
		)`, since.UTC())
	monitoring.RecordDBOperation("select", "cards", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("query active cards: %w", err)
	}
	defer rows.Close()

	var out []models.CardBalance
	for rows.Next() {
		var cb models.CardBalance
		if err := rows.Scan(&cb.CardID, &cb.BalanceCents, &cb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan card balance: %w", err)
		}
		cb.CardID = strings.TrimSpace(cb.CardID)
		out = append(out, cb)
	}
	return out, rows.Err()
}

func (c *Client) TransactionsForCard(ctx context.Context, cardID string) ([]models.Transaction, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, card_id, tx_type, status, amount_cents,
		       previous_balance_cents, new_balance_cents, processing_ms, created_at
		FROM transactions
		WHERE card_id = $1
		ORDER BY created_at`, cardID)
	monitoring.RecordDBOperation("select", "transactions", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("query card transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.CardID, &tx.Type, &tx.Status, &tx.AmountCents,
			&tx.PreviousBalanceCents, &tx.NewBalanceCents, &tx.ProcessingMillis, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.CardID = strings.TrimSpace(tx.CardID)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (c *Client) InsertEvent(ctx context.Context, ev *models.MonitoringEvent) (int64, error) {
	data, err := models.EncodePayload(ev.EventData)
	if err != nil {
		return 0, err
	}
	ctxJSON, err := json.Marshal(ev.Context)
	if err != nil {
		return 0, fmt.Errorf("encode event context: %w", err)
	}
	if ev.Status == "" {
		ev.Status = models.StatusOpen
	}

	start := time.Now()
	var id int64
	err = c.db.QueryRowContext(ctx, `
		INSERT INTO monitoring_events
			(event_type, severity, card_id, transaction_id, amount_cents,
			 detected_at, detection_source, confidence, event_data, context, status)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		ev.EventType, ev.Severity, ev.CardID, ev.TransactionID, ev.AmountCents,
		ev.DetectedAt.UTC(), ev.DetectionSource, ev.Confidence, nullableJSON(data), ctxJSON, ev.Status,
	).Scan(&id)
	monitoring.RecordDBOperation("insert", "monitoring_events", time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("insert monitoring event: %w", err)
	}
	ev.ID = id
	return id, nil
}

func (c *Client) InsertSnapshot(ctx context.Context, snap *models.SystemHealthSnapshot) (int64, error) {
	metrics, err := json.Marshal(snap.Metrics)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot metrics: %w", err)
	}

	start := time.Now()
	var id int64
	err = c.db.QueryRowContext(ctx, `
		INSERT INTO system_health_snapshots
			(snapshot_at, transactions_last_hour, transaction_success_rate,
			 processing_p50_ms, processing_p95_ms, processing_p99_ms,
			 nfc_scans_last_hour, duplicate_scan_rate,
			 events_last_hour, critical_events_last_hour, overall_status, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		snap.SnapshotAt.UTC(), snap.TransactionsLastHour, snap.TransactionSuccessRate,
		snap.ProcessingP50Millis, snap.ProcessingP95Millis, snap.ProcessingP99Millis,
		snap.NFCScansLastHour, snap.DuplicateScanRate,
		snap.EventsLastHour, snap.CriticalEventsLastHour, snap.OverallStatus, metrics,
	).Scan(&id)
	monitoring.RecordDBOperation("insert", "system_health_snapshots", time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("insert health snapshot: %w", err)
	}
	snap.ID = id
	return id, nil
}

func (c *Client) ResolveEvent(ctx context.Context, id int64, status models.EventStatus, notes string) (*models.MonitoringEvent, error) {
	if status != models.StatusResolved && status != models.StatusFalsePositive && status != models.StatusInvestigating {
		return nil, fmt.Errorf("invalid resolution status %q", status)
	}
	start := time.Now()
	row := c.db.QueryRowContext(ctx, `
		UPDATE monitoring_events
		SET status = $2,
		    resolution_notes = NULLIF($3, ''),
		    resolved_at = CASE WHEN $2 IN ('RESOLVED', 'FALSE_POSITIVE') THEN now() ELSE resolved_at END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+eventColumns, id, status, notes)
	ev, err := scanEvent(row)
	monitoring.RecordDBOperation("update", "monitoring_events", time.Since(start), err == nil)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve event %d: %w", id, err)
	}
	return ev, nil
}

const eventColumns = `id, event_type, severity, COALESCE(card_id, ''), COALESCE(transaction_id, ''),
	amount_cents, detected_at, detection_source, confidence, event_data, context,
	status, resolved_at, COALESCE(resolution_notes, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.MonitoringEvent, error) {
	var (
		ev      models.MonitoringEvent
		data    []byte
		ctxData []byte
	)
	err := row.Scan(&ev.ID, &ev.EventType, &ev.Severity, &ev.CardID, &ev.TransactionID,
		&ev.AmountCents, &ev.DetectedAt, &ev.DetectionSource, &ev.Confidence, &data, &ctxData,
		&ev.Status, &ev.ResolvedAt, &ev.ResolutionNotes, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ev.CardID = strings.TrimSpace(ev.CardID)
	if len(ctxData) > 0 {
		if err := json.Unmarshal(ctxData, &ev.Context); err != nil {
			return nil, fmt.Errorf("decode event context: %w", err)
		}
	}
	payload, err := models.DecodePayload(ev.EventType, data)
	if err != nil {
		return nil, err
	}
	ev.EventData = payload
	return &ev, nil
}

// eventWhere builds the WHERE clause for a filter. Predicates mirror
// models.EventFilter.Matches.
func eventWhere(filter models.EventFilter) (string, []interface{}) {
	conds := []string{"1=1"}
	args := []interface{}{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.CardID != "" {
		add("card_id = $%d", filter.CardID)
	}
	if !filter.Since.IsZero() {
		add("detected_at >= $%d", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		add("detected_at <= $%d", filter.Until.UTC())
	}
	return strings.Join(conds, " AND "), args
}

func (c *Client) QueryEvents(ctx context.Context, filter models.EventFilter, page models.Pagination) (*models.EventPage, error) {
	page = page.Normalize()
	where, args := eventWhere(filter)

	start := time.Now()
	countRow := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE severity = 'CRITICAL'),
		       COUNT(*) FILTER (WHERE status = 'OPEN')
		FROM monitoring_events WHERE `+where, args...)
	var total, critical, open int
	if err := countRow.Scan(&total, &critical, &open); err != nil {
		monitoring.RecordDBOperation("select", "monitoring_events", time.Since(start), false)
		return nil, fmt.Errorf("count events: %w", err)
	}

	args = append(args, page.PageSize, page.Offset())
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM monitoring_events
		WHERE %s
		ORDER BY detected_at DESC
		LIMIT $%d OFFSET $%d`, eventColumns, where, len(args)-1, len(args)), args...)
	monitoring.RecordDBOperation("select", "monitoring_events", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []models.MonitoringEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &models.EventPage{
		Events:        events,
		Total:         total,
		Page:          page.Page,
		PageSize:      page.PageSize,
		TotalCritical: critical,
		TotalOpen:     open,
	}, nil
}

func (c *Client) EventsSince(ctx context.Context, since time.Time, filter models.EventFilter) ([]models.MonitoringEvent, error) {
	filter.Since = since
	where, args := eventWhere(filter)

	start := time.Now()
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM monitoring_events
		WHERE %s
		ORDER BY detected_at`, eventColumns, where), args...)
	monitoring.RecordDBOperation("select", "monitoring_events", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer rows.Close()

	var out []models.MonitoringEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (c *Client) LatestSnapshot(ctx context.Context) (*models.SystemHealthSnapshot, error) {
	start := time.Now()
	row := c.db.QueryRowContext(ctx, `
		SELECT id, snapshot_at, transactions_last_hour, transaction_success_rate,
		       processing_p50_ms, processing_p95_ms, processing_p99_ms,
		       nfc_scans_last_hour, duplicate_scan_rate,
		       events_last_hour, critical_events_last_hour, overall_status, metrics, created_at
		FROM system_health_snapshots
		ORDER BY snapshot_at DESC
		LIMIT 1`)

	var (
		snap    models.SystemHealthSnapshot
		metrics []byte
	)
	err := row.Scan(&snap.ID, &snap.SnapshotAt, &snap.TransactionsLastHour, &snap.TransactionSuccessRate,
		&snap.ProcessingP50Millis, &snap.ProcessingP95Millis, &snap.ProcessingP99Millis,
		&snap.NFCScansLastHour, &snap.DuplicateScanRate,
		&snap.EventsLastHour, &snap.CriticalEventsLastHour, &snap.OverallStatus, &metrics, &snap.CreatedAt)
	monitoring.RecordDBOperation("select", "system_health_snapshots", time.Since(start), err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &snap.Metrics); err != nil {
			return nil, fmt.Errorf("decode snapshot metrics: %w", err)
		}
	}
	return &snap, nil
}

func (c *Client) EventCountsSince(ctx context.Context, since time.Time) (*storage.EventCounts, error) {
	start := time.Now()
	row := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE severity = 'CRITICAL'),
		       COUNT(*) FILTER (WHERE status = 'OPEN')
		FROM monitoring_events
		WHERE detected_at >= $1`, since.UTC())
	var counts storage.EventCounts
	err := row.Scan(&counts.Total, &counts.Critical, &counts.Open)
	monitoring.RecordDBOperation("select", "monitoring_events", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("count events since: %w", err)
	}
	return &counts, nil
}

func (c *Client) TransactionAggregates(ctx context.Context, since, until time.Time) (*storage.TxAggregates, error) {
	start := time.Now()
	row := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(SUM(amount_cents) FILTER (WHERE status = 'completed'), 0),
		       COALESCE(SUM(amount_cents) FILTER (WHERE status = 'completed' AND tx_type = 'topup'), 0),
		       COALESCE(SUM(amount_cents) FILTER (WHERE status = 'completed' AND tx_type = 'purchase'), 0),
		       COALESCE(AVG(processing_ms), 0),
		       COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY processing_ms), 0),
		       COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY processing_ms), 0),
		       COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY processing_ms), 0)
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2`, since.UTC(), until.UTC())

	var agg storage.TxAggregates
	err := row.Scan(&agg.Count, &agg.FailedCount, &agg.VolumeCents,
		&agg.TopupVolumeCents, &agg.PurchaseVolumeCents,
		&agg.AvgProcessingMillis, &agg.P50ProcessingMillis,
		&agg.P95ProcessingMillis, &agg.P99ProcessingMillis)
	monitoring.RecordDBOperation("select", "transactions", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("transaction aggregates: %w", err)
	}
	return &agg, nil
}

func (c *Client) ScanAggregates(ctx context.Context, since, until time.Time) (*storage.ScanAggregates, error) {
	start := time.Now()
	row := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(processing_ms), 0)
		FROM nfc_scans
		WHERE scanned_at >= $1 AND scanned_at < $2`, since.UTC(), until.UTC())

	var agg storage.ScanAggregates
	err := row.Scan(&agg.Count, &agg.AvgProcessingMillis)
	monitoring.RecordDBOperation("select", "nfc_scans", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("scan aggregates: %w", err)
	}
	return &agg, nil
}

func (c *Client) EventTrend(ctx context.Context, since, until time.Time, bucket time.Duration) ([]models.TrendPoint, error) {
	return c.trend(ctx, `
		SELECT to_timestamp(floor(extract(epoch FROM detected_at) / $3) * $3), COUNT(*)::float8
		FROM monitoring_events
		WHERE detected_at >= $1 AND detected_at < $2
		GROUP BY 1 ORDER BY 1`, "monitoring_events", since, until, bucket)
}

func (c *Client) VolumeTrend(ctx context.Context, since, until time.Time, bucket time.Duration) ([]models.TrendPoint, error) {
	return c.trend(ctx, `
		SELECT to_timestamp(floor(extract(epoch FROM created_at) / $3) * $3),
		       COALESCE(SUM(amount_cents) FILTER (WHERE status = 'completed'), 0)::float8
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY 1 ORDER BY 1`, "transactions", since, until, bucket)
}

func (c *Client) trend(ctx context.Context, query, table string, since, until time.Time, bucket time.Duration) ([]models.TrendPoint, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, query, since.UTC(), until.UTC(), int64(bucket.Seconds()))
	monitoring.RecordDBOperation("select", table, time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("trend query: %w", err)
	}
	defer rows.Close()

	var out []models.TrendPoint
	for rows.Next() {
		var p models.TrendPoint
		if err := rows.Scan(&p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("scan trend point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Client) AffectedAmountSince(ctx context.Context, since time.Time) (int64, error) {
	start := time.Now()
	var total int64
	err := c.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM monitoring_events
		WHERE detected_at >= $1`, since.UTC()).Scan(&total)
	monitoring.RecordDBOperation("select", "monitoring_events", time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("affected amount: %w", err)
	}
	return total, nil
}

func (c *Client) PurgeExpired(ctx context.Context, eventCutoff, snapshotCutoff time.Time) (int64, error) {
	start := time.Now()
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM monitoring_events WHERE detected_at < $1`, eventCutoff.UTC())
	monitoring.RecordDBOperation("delete", "monitoring_events", time.Since(start), err == nil)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	purged, _ := res.RowsAffected()

	start = time.Now()
	res, err = c.db.ExecContext(ctx,
		`DELETE FROM system_health_snapshots WHERE snapshot_at < $1`, snapshotCutoff.UTC())
	monitoring.RecordDBOperation("delete", "system_health_snapshots", time.Since(start), err == nil)
	if err != nil {
		return purged, fmt.Errorf("purge snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return purged + n, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
