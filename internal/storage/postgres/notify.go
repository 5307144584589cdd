package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/payflux/monitor-core/internal/models"
)

// notifyRow mirrors row_to_json(NEW) from the insert trigger.
type notifyRow struct {
	ID              int64              `json:"id"`
	EventType       models.EventType   `json:"event_type"`
	Severity        models.Severity    `json:"severity"`
	CardID          *string            `json:"card_id"`
	TransactionID   *string            `json:"transaction_id"`
	AmountCents     int64              `json:"amount_cents"`
	DetectedAt      time.Time          `json:"detected_at"`
	DetectionSource string             `json:"detection_source"`
	Confidence      float64            `json:"confidence"`
	EventData       json.RawMessage    `json:"event_data"`
	Context         json.RawMessage    `json:"context"`
	Status          models.EventStatus `json:"status"`
	ResolvedAt      *time.Time         `json:"resolved_at"`
	ResolutionNotes *string            `json:"resolution_notes"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func (r *notifyRow) toEvent() (*models.MonitoringEvent, error) {
	ev := &models.MonitoringEvent{
		ID:              r.ID,
		EventType:       r.EventType,
		Severity:        r.Severity,
		AmountCents:     r.AmountCents,
		DetectedAt:      r.DetectedAt,
		DetectionSource: r.DetectionSource,
		Confidence:      r.Confidence,
		Status:          r.Status,
		ResolvedAt:      r.ResolvedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.CardID != nil {
		ev.CardID = strings.TrimSpace(*r.CardID)
	}
	if r.TransactionID != nil {
		ev.TransactionID = *r.TransactionID
	}
	if r.ResolutionNotes != nil {
		ev.ResolutionNotes = *r.ResolutionNotes
	}
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &ev.Context); err != nil {
			return nil, fmt.Errorf("decode notify context: %w", err)
		}
	}
	payload, err := models.DecodePayload(r.EventType, r.EventData)
	if err != nil {
		return nil, err
	}
	ev.EventData = payload
	return ev, nil
}

// SubscribeEvents opens a dedicated LISTEN connection and streams inserted
// monitoring events until ctx is cancelled. Registration failure (no
// connection, LISTEN rejected) is returned synchronously so the caller can
// fall back to polling.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan models.MonitoringEvent, error) {
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{c.channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", c.channel, err)
	}

	out := make(chan models.MonitoringEvent, 64)
	go func() {
		defer close(out)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = conn.Close(closeCtx)
		}()
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("event listener connection lost", "error", err)
				}
				return
			}
			var row notifyRow
			if err := json.Unmarshal([]byte(n.Payload), &row); err != nil {
				c.logger.Warn("malformed event notification", "error", err)
				continue
			}
			ev, err := row.toEvent()
			if err != nil {
				c.logger.Warn("undecodable event notification", "error", err)
				continue
			}
			select {
			case out <- *ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
