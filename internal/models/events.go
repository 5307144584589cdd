package models

import (
	"encoding/json"
	"time"
)

// EventType classifies a detected anomaly.
type EventType string

const (
	EventTransactionFailure EventType = "transaction_failure"
	EventBalanceDiscrepancy EventType = "balance_discrepancy"
	EventDuplicateNFC       EventType = "duplicate_nfc"
	EventRaceCondition      EventType = "race_condition"
	EventSystemHealth       EventType = "system_health"
)

// Severity of a monitoring event. Independent of lifecycle status: resolving
// an event never changes the severity it was detected with.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	StatusOpen          EventStatus = "OPEN"
	StatusInvestigating EventStatus = "INVESTIGATING"
	StatusResolved      EventStatus = "RESOLVED"
	StatusFalsePositive EventStatus = "FALSE_POSITIVE"
)

// EventContext carries operator-facing flags attached at detection time.
type EventContext struct {
	RequiresInvestigation bool   `json:"requires_investigation"`
	FinancialImpact       string `json:"financial_impact,omitempty"` // none, low, medium, high
	Notes                 string `json:"notes,omitempty"`
}

// MonitoringEvent is one persisted anomaly. Created only by a detection
// algorithm (or the cycle engine for system_health events), mutated only
// through an explicit resolution action, never deleted before the retention
// window expires.
type MonitoringEvent struct {
	ID              int64        `json:"id"`
	EventType       EventType    `json:"event_type"`
	Severity        Severity     `json:"severity"`
	CardID          string       `json:"card_id,omitempty"`
	TransactionID   string       `json:"transaction_id,omitempty"`
	AmountCents     int64        `json:"amount_cents,omitempty"`
	DetectedAt      time.Time    `json:"detected_at"`
	DetectionSource string       `json:"detection_source"`
	Confidence      float64      `json:"confidence"` // 0..1
	EventData       EventPayload `json:"event_data,omitempty"`
	Context         EventContext `json:"context"`
	Status          EventStatus  `json:"status"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	ResolutionNotes string       `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// UnmarshalJSON restores the typed event_data variant, which an interface
// field cannot decode on its own. Needed wherever events round-trip through
// JSON: the cache, the notify channel, and API consumers.
func (e *MonitoringEvent) UnmarshalJSON(data []byte) error {
	type alias MonitoringEvent
	aux := struct {
		*alias
		EventData json.RawMessage `json:"event_data,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.EventData) > 0 && string(aux.EventData) != "null" {
		p, err := DecodePayload(e.EventType, aux.EventData)
		if err != nil {
			return err
		}
		e.EventData = p
	}
	return nil
}

// Resolve applies a resolution action. Severity is left untouched.
func (e *MonitoringEvent) Resolve(status EventStatus, notes string, at time.Time) {
	e.Status = status
	e.ResolutionNotes = notes
	e.ResolvedAt = &at
	e.UpdatedAt = at
}
