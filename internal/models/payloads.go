package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventPayload is the closed set of per-event-type detail payloads. Each
// detection algorithm produces exactly one variant, so consumers can switch
// on the concrete type instead of digging through an open map. On the wire
// (and in the event_data column) a payload is plain JSON.
type EventPayload interface {
	PayloadType() EventType
}

// TransactionFailurePayload describes one of the three failure signals the
// transaction-failure detector raises.
type TransactionFailurePayload struct {
	FailureKind          string  `json:"failure_kind"` // phantom_deduction, consecutive_failures, failure_rate_spike
	FailureCount         int     `json:"failure_count,omitempty"`
	WindowMinutes        int     `json:"window_minutes,omitempty"`
	FailureRatePct       float64 `json:"failure_rate_pct,omitempty"`
	SampleSize           int     `json:"sample_size,omitempty"`
	PreviousBalanceCents int64   `json:"previous_balance_cents,omitempty"`
	NewBalanceCents      int64   `json:"new_balance_cents,omitempty"`
}

func (TransactionFailurePayload) PayloadType() EventType { return EventTransactionFailure }

type BalanceDiscrepancyPayload struct {
	ExpectedBalanceCents int64 `json:"expected_balance_cents"`
	StoredBalanceCents   int64 `json:"stored_balance_cents"`
	DiscrepancyCents     int64 `json:"discrepancy_cents"`
	NegativeBalance      bool  `json:"negative_balance"`
	TransactionCount     int   `json:"transaction_count"`
}

func (BalanceDiscrepancyPayload) PayloadType() EventType { return EventBalanceDiscrepancy }

// DuplicateNFCPayload reports one cluster of near-simultaneous scans.
type DuplicateNFCPayload struct {
	ScanIDs    []int64     `json:"scan_ids"`
	ScanTimes  []time.Time `json:"scan_times"`
	ScanCount  int         `json:"scan_count"`
	SpanMillis int64       `json:"span_millis"`
}

func (DuplicateNFCPayload) PayloadType() EventType { return EventDuplicateNFC }

// RaceConditionPayload reports transactions that overlapped in time against
// the same card balance.
type RaceConditionPayload struct {
	TransactionIDs   []string `json:"transaction_ids"`
	TransactionTypes []string `json:"transaction_types"`
	OverlapCount     int      `json:"overlap_count"`
	WindowMillis     int64    `json:"window_millis"`
}

func (RaceConditionPayload) PayloadType() EventType { return EventRaceCondition }

// SystemHealthPayload is attached to system_health events the cycle engine
// emits when a snapshot degrades to WARNING or CRITICAL.
type SystemHealthPayload struct {
	Status                 HealthStatus `json:"status"`
	TransactionSuccessRate float64      `json:"transaction_success_rate"`
	CriticalEventsLastHour int          `json:"critical_events_last_hour"`
	SnapshotID             int64        `json:"snapshot_id,omitempty"`
}

func (SystemHealthPayload) PayloadType() EventType { return EventSystemHealth }

// DecodePayload reconstructs the typed variant for an event row read back
// from storage. Unknown event types fail loudly rather than round-tripping
// as an untyped map.
func DecodePayload(eventType EventType, raw []byte) (EventPayload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var (
		p   EventPayload
		err error
	)
	switch eventType {
	case EventTransactionFailure:
		var v TransactionFailurePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventBalanceDiscrepancy:
		var v BalanceDiscrepancyPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventDuplicateNFC:
		var v DuplicateNFCPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventRaceCondition:
		var v RaceConditionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventSystemHealth:
		var v SystemHealthPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return p, nil
}

// EncodePayload serializes a payload for the event_data column.
func EncodePayload(p EventPayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.PayloadType(), err)
	}
	return b, nil
}
