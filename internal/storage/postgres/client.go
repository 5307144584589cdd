package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

// Client implements storage.Store against the payment platform's Postgres
// instance.
type Client struct {
	db      *sql.DB
	dsn     string
	channel string
	logger  logger.Logger
}

// Connect opens the pool and verifies connectivity.
func Connect(cfg config.DatabaseConfig, log logger.Logger) (*Client, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		dsn = "postgres://localhost:5432/payflux?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	channel := cfg.NotifyChannel
	if channel == "" {
		channel = "payflux_events"
	}

	return &Client{db: db, dsn: dsn, channel: channel, logger: log}, nil
}

var _ storage.Store = (*Client)(nil)

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Init creates the monitoring tables and the insert-notification trigger.
// Ledger tables are created IF NOT EXISTS for local development; in
// production the payment platform already owns them.
func (c *Client) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			card_id CHAR(8) PRIMARY KEY,
			balance_cents BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			card_id CHAR(8) NOT NULL,
			tx_type TEXT NOT NULL,
			status TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			previous_balance_cents BIGINT NOT NULL,
			new_balance_cents BIGINT NOT NULL,
			processing_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_card_created ON transactions(card_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS nfc_scans (
			id BIGSERIAL PRIMARY KEY,
			card_id CHAR(8) NOT NULL,
			terminal_id TEXT,
			processing_ms BIGINT NOT NULL DEFAULT 0,
			scanned_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nfc_scans_card_time ON nfc_scans(card_id, scanned_at)`,
		`CREATE TABLE IF NOT EXISTS monitoring_events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			card_id TEXT,
			transaction_id TEXT,
			amount_cents BIGINT NOT NULL DEFAULT 0,
			detected_at TIMESTAMPTZ NOT NULL,
			detection_source TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			event_data JSONB,
			context JSONB,
			status TEXT NOT NULL DEFAULT 'OPEN',
			resolved_at TIMESTAMPTZ,
			resolution_notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_monitoring_events_detected ON monitoring_events(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_monitoring_events_status ON monitoring_events(status)`,
		`CREATE INDEX IF NOT EXISTS idx_monitoring_events_type ON monitoring_events(event_type)`,
		`CREATE TABLE IF NOT EXISTS system_health_snapshots (
			id BIGSERIAL PRIMARY KEY,
			snapshot_at TIMESTAMPTZ NOT NULL,
			transactions_last_hour INTEGER NOT NULL,
			transaction_success_rate DOUBLE PRECISION NOT NULL,
			processing_p50_ms DOUBLE PRECISION NOT NULL,
			processing_p95_ms DOUBLE PRECISION NOT NULL,
			processing_p99_ms DOUBLE PRECISION NOT NULL,
			nfc_scans_last_hour INTEGER NOT NULL,
			duplicate_scan_rate DOUBLE PRECISION NOT NULL,
			events_last_hour INTEGER NOT NULL,
			critical_events_last_hour INTEGER NOT NULL,
			overall_status TEXT NOT NULL,
			metrics JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_snapshots_at ON system_health_snapshots(snapshot_at)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return c.ensureNotifyTrigger(ctx)
}

// ensureNotifyTrigger installs the insert trigger that pushes new events to
// LISTENing subscribers. The channel name comes from config, so the function
// body is templated.
func (c *Client) ensureNotifyTrigger(ctx context.Context) error {
	fn := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION payflux_notify_event() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('%s', row_to_json(NEW)::text);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`, c.channel)
	if _, err := c.db.ExecContext(ctx, fn); err != nil {
		return fmt.Errorf("create notify function: %w", err)
	}
	trigger := `
		DROP TRIGGER IF EXISTS trg_payflux_notify_event ON monitoring_events;
		CREATE TRIGGER trg_payflux_notify_event
			AFTER INSERT ON monitoring_events
			FOR EACH ROW EXECUTE FUNCTION payflux_notify_event()`
	if _, err := c.db.ExecContext(ctx, trigger); err != nil {
		return fmt.Errorf("create notify trigger: %w", err)
	}
	return nil
}
