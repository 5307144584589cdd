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

const balanceDiscrepancySource = "balance_discrepancy_detector"

// BalanceDiscrepancyDetector recomputes each active card's expected balance
// from its transaction history and compares it to the stored balance. A
// stored balance below zero is always flagged: the ledger cannot legally
// reach that state whatever the threshold is.
type BalanceDiscrepancyDetector struct {
	store  storage.Store
	logger logger.Logger
}

func NewBalanceDiscrepancyDetector(store storage.Store, log logger.Logger) *BalanceDiscrepancyDetector {
	return &BalanceDiscrepancyDetector{store: store, logger: log}
}

func (d *BalanceDiscrepancyDetector) Type() models.EventType {
	return models.EventBalanceDiscrepancy
}

func (d *BalanceDiscrepancyDetector) Run(ctx context.Context, now time.Time, cfg config.DetectionConfig) models.DetectionResult {
	cards, err := d.store.ActiveCards(ctx, now.Add(-cfg.Lookback()))
	if err != nil {
		return failedResult(d.Type(), now, err)
	}

	result := models.DetectionResult{
		DetectionType: d.Type(),
		Success:       true,
		DetectedAt:    now,
		Stats:         map[string]int64{"cards_checked": int64(len(cards))},
	}

	threshold := cfg.BalanceDiscrepancy.ThresholdCents
	for _, card := range cards {
		txs, err := d.store.TransactionsForCard(ctx, card.CardID)
		if err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("card %s history: %v", card.CardID, err)
			d.logger.Error("balance discrepancy history query failed", "card", card.CardID, "error", err)
			return result
		}

		expected := expectedBalance(txs)
		diff := card.BalanceCents - expected
		negative := card.BalanceCents < 0
		if !negative && abs64(diff) <= threshold {
			continue
		}

		ev := models.MonitoringEvent{
			EventType:       models.EventBalanceDiscrepancy,
			Severity:        models.SeverityHigh,
			CardID:          card.CardID,
			AmountCents:     abs64(diff),
			DetectedAt:      now,
			DetectionSource: balanceDiscrepancySource,
			Confidence:      0.9,
			EventData: models.BalanceDiscrepancyPayload{
				ExpectedBalanceCents: expected,
				StoredBalanceCents:   card.BalanceCents,
				DiscrepancyCents:     diff,
				NegativeBalance:      negative,
				TransactionCount:     len(txs),
			},
			Context: models.EventContext{RequiresInvestigation: true, FinancialImpact: "high"},
		}
		if negative {
			ev.Severity = models.SeverityCritical
			ev.Confidence = 1.0
		}

		if _, err := d.store.InsertEvent(ctx, &ev); err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("insert event: %v", err)
			d.logger.Error("balance discrepancy event insert failed", "card", card.CardID, "error", err)
			return result
		}
		result.EventsCreated++
	}

	result.Stats["discrepancies_found"] = int64(result.EventsCreated)
	return result
}

// expectedBalance replays the completed transaction history. Topups and
// refunds credit the card, purchases debit it; failed and pending
// transactions must not move the balance.
func expectedBalance(txs []models.Transaction) int64 {
	var balance int64
	for _, tx := range txs {
		if tx.Status != models.TxCompleted {
			continue
		}
		switch tx.Type {
		case "topup", "refund":
			balance += tx.AmountCents
		default:
			balance -= tx.AmountCents
		}
	}
	return balance
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
