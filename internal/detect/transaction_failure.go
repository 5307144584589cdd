package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

const transactionFailureSource = "transaction_failure_detector"

// TransactionFailureDetector flags three failure signals:
//   - phantom deductions: a transaction recorded as failed while the ledger
//     shows the balance changed anyway
//   - N or more consecutive failures on one card within the rolling window
//   - a system-wide failure-rate spike, once a minimum sample size exists
type TransactionFailureDetector struct {
	store  storage.Store
	logger logger.Logger
}

func NewTransactionFailureDetector(store storage.Store, log logger.Logger) *TransactionFailureDetector {
	return &TransactionFailureDetector{store: store, logger: log}
}

func (d *TransactionFailureDetector) Type() models.EventType {
	return models.EventTransactionFailure
}

func (d *TransactionFailureDetector) Run(ctx context.Context, now time.Time, cfg config.DetectionConfig) models.DetectionResult {
	txs, err := d.store.RecentTransactions(ctx, now.Add(-cfg.Lookback()))
	if err != nil {
		return failedResult(d.Type(), now, err)
	}

	result := models.DetectionResult{
		DetectionType: d.Type(),
		Success:       true,
		DetectedAt:    now,
		Stats:         map[string]int64{"transactions_checked": int64(len(txs))},
	}

	tfCfg := cfg.TransactionFailure
	window := time.Duration(tfCfg.WindowMinutes) * time.Minute

	var events []models.MonitoringEvent
	events = append(events, d.phantomDeductions(txs, now)...)
	events = append(events, d.consecutiveFailures(txs, now, window, tfCfg)...)
	if ev := d.failureRateSpike(txs, now, window, tfCfg); ev != nil {
		events = append(events, *ev)
	}

	result.Stats["phantom_deductions"] = countByKind(events, "phantom_deduction")
	result.Stats["cards_flagged"] = countByKind(events, "consecutive_failures")
	result.Stats["rate_spikes"] = countByKind(events, "failure_rate_spike")

	for i := range events {
		if _, err := d.store.InsertEvent(ctx, &events[i]); err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("insert event: %v", err)
			d.logger.Error("transaction failure event insert failed", "error", err)
			break
		}
		result.EventsCreated++
	}
	return result
}

// phantomDeductions finds failed transactions that moved the balance anyway.
func (d *TransactionFailureDetector) phantomDeductions(txs []models.Transaction, now time.Time) []models.MonitoringEvent {
	var events []models.MonitoringEvent
	for _, tx := range txs {
		if tx.Status != models.TxFailed || tx.NewBalanceCents == tx.PreviousBalanceCents {
			continue
		}
		events = append(events, models.MonitoringEvent{
			EventType:       models.EventTransactionFailure,
			Severity:        models.SeverityCritical,
			CardID:          tx.CardID,
			TransactionID:   tx.ID,
			AmountCents:     tx.AmountCents,
			DetectedAt:      now,
			DetectionSource: transactionFailureSource,
			Confidence:      0.95,
			EventData: models.TransactionFailurePayload{
				FailureKind:          "phantom_deduction",
				PreviousBalanceCents: tx.PreviousBalanceCents,
				NewBalanceCents:      tx.NewBalanceCents,
			},
			Context: models.EventContext{
				RequiresInvestigation: true,
				FinancialImpact:       "high",
			},
		})
	}
	return events
}

// consecutiveFailures flags cards with a run of failed transactions at or
// above the threshold. Input is ordered by card then time. A run only
// continues while each failure follows the previous one within the rate
// window; a larger gap starts a fresh run.
func (d *TransactionFailureDetector) consecutiveFailures(txs []models.Transaction, now time.Time, window time.Duration, cfg config.TransactionFailureConfig) []models.MonitoringEvent {
	var (
		events   []models.MonitoringEvent
		card     string
		run      int
		lastFail time.Time
		flagged  = map[string]bool{}
	)
	flush := func(cardID string, runLen int) {
		if runLen < cfg.ConsecutiveThreshold || flagged[cardID] {
			return
		}
		flagged[cardID] = true
		events = append(events, models.MonitoringEvent{
			EventType:       models.EventTransactionFailure,
			Severity:        models.SeverityHigh,
			CardID:          cardID,
			DetectedAt:      now,
			DetectionSource: transactionFailureSource,
			Confidence:      0.8,
			EventData: models.TransactionFailurePayload{
				FailureKind:   "consecutive_failures",
				FailureCount:  runLen,
				WindowMinutes: cfg.WindowMinutes,
			},
			Context: models.EventContext{RequiresInvestigation: true, FinancialImpact: "medium"},
		})
	}
	for _, tx := range txs {
		if tx.CardID != card {
			flush(card, run)
			card = tx.CardID
			run = 0
		}
		if tx.Status == models.TxFailed {
			if run > 0 && tx.CreatedAt.Sub(lastFail) > window {
				run = 0
			}
			run++
			lastFail = tx.CreatedAt
			flush(card, run)
		} else {
			run = 0
		}
	}
	flush(card, run)
	return events
}

// failureRateSpike checks the system-wide failure rate over the rate window.
// Sparse data is skipped entirely to avoid false alarms.
func (d *TransactionFailureDetector) failureRateSpike(txs []models.Transaction, now time.Time, window time.Duration, cfg config.TransactionFailureConfig) *models.MonitoringEvent {
	cutoff := now.Add(-window)
	var total, failed int
	for _, tx := range txs {
		if tx.CreatedAt.Before(cutoff) {
			continue
		}
		total++
		if tx.Status == models.TxFailed {
			failed++
		}
	}
	if total < cfg.MinSampleSize {
		return nil
	}
	ratePct := float64(failed) / float64(total) * 100
	if ratePct <= cfg.FailureRatePct {
		return nil
	}
	return &models.MonitoringEvent{
		EventType:       models.EventTransactionFailure,
		Severity:        models.SeverityCritical,
		DetectedAt:      now,
		DetectionSource: transactionFailureSource,
		Confidence:      0.85,
		EventData: models.TransactionFailurePayload{
			FailureKind:    "failure_rate_spike",
			FailureCount:   failed,
			SampleSize:     total,
			FailureRatePct: ratePct,
			WindowMinutes:  int(window.Minutes()),
		},
		Context: models.EventContext{RequiresInvestigation: true, FinancialImpact: "high"},
	}
}

func countByKind(events []models.MonitoringEvent, kind string) int64 {
	var n int64
	for _, ev := range events {
		if p, ok := ev.EventData.(models.TransactionFailurePayload); ok && p.FailureKind == kind {
			n++
		}
	}
	return n
}
