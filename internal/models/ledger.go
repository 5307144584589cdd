package models

import "time"

// Transaction statuses as recorded by the payment platform.
const (
	TxCompleted = "completed"
	TxFailed    = "failed"
	TxPending   = "pending"
)

// Transaction is one balance deduction (or top-up) row read from the
// payment ledger. Amounts are integer cents.
type Transaction struct {
	ID                   string    `json:"id"`
	CardID               string    `json:"card_id"`
	Type                 string    `json:"type"` // purchase, topup, refund
	Status               string    `json:"status"`
	AmountCents          int64     `json:"amount_cents"`
	PreviousBalanceCents int64     `json:"previous_balance_cents"`
	NewBalanceCents      int64     `json:"new_balance_cents"`
	ProcessingMillis     int64     `json:"processing_ms"`
	CreatedAt            time.Time `json:"created_at"`
}

// NFCScan is one card read at a point-of-sale terminal.
type NFCScan struct {
	ID               int64     `json:"id"`
	CardID           string    `json:"card_id"`
	TerminalID       string    `json:"terminal_id,omitempty"`
	ProcessingMillis int64     `json:"processing_ms"`
	ScannedAt        time.Time `json:"scanned_at"`
}

// CardBalance is the stored balance for one card, the value detectors
// compare against the ledger-derived expectation.
type CardBalance struct {
	CardID       string    `json:"card_id"`
	BalanceCents int64     `json:"balance_cents"`
	UpdatedAt    time.Time `json:"updated_at"`
}
