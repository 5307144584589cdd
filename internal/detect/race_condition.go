package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage"
	"github.com/payflux/monitor-core/pkg/logger"
)

const raceConditionSource = "race_condition_detector"

// RaceConditionDetector finds transactions against the same card whose
// timestamps overlap within the race window. Balance writes for one card
// must serialize; an overlapping group means they did not.
type RaceConditionDetector struct {
	store  storage.Store
	logger logger.Logger
}

func NewRaceConditionDetector(store storage.Store, log logger.Logger) *RaceConditionDetector {
	return &RaceConditionDetector{store: store, logger: log}
}

func (d *RaceConditionDetector) Type() models.EventType {
	return models.EventRaceCondition
}

func (d *RaceConditionDetector) Run(ctx context.Context, now time.Time, cfg config.DetectionConfig) models.DetectionResult {
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

	byCard := map[string][]models.Transaction{}
	for _, tx := range txs {
		byCard[tx.CardID] = append(byCard[tx.CardID], tx)
	}

	window := cfg.RaceCondition.Window()
	minOverlap := cfg.RaceCondition.MinOverlap
	var groups int64
	for cardID, cardTxs := range byCard {
		sort.Slice(cardTxs, func(i, j int) bool {
			return cardTxs[i].CreatedAt.Before(cardTxs[j].CreatedAt)
		})
		for _, group := range overlappingGroups(cardTxs, window, minOverlap) {
			groups++
			ev := raceEvent(cardID, group, window, now)
			if _, err := d.store.InsertEvent(ctx, &ev); err != nil {
				result.Success = false
				result.Error = fmt.Sprintf("insert event: %v", err)
				d.logger.Error("race condition event insert failed", "card", cardID, "error", err)
				result.Stats["race_groups"] = groups
				return result
			}
			result.EventsCreated++
		}
	}
	result.Stats["race_groups"] = groups
	return result
}

// overlappingGroups walks time-sorted transactions and collects maximal runs
// where each successive pair is within the window. Runs below minOverlap are
// normal sequential activity.
func overlappingGroups(txs []models.Transaction, window time.Duration, minOverlap int) [][]models.Transaction {
	var (
		groups  [][]models.Transaction
		current []models.Transaction
	)
	for i, tx := range txs {
		if i > 0 && tx.CreatedAt.Sub(txs[i-1].CreatedAt) <= window {
			if len(current) == 0 {
				current = append(current, txs[i-1])
			}
			current = append(current, tx)
			continue
		}
		if len(current) >= minOverlap {
			groups = append(groups, current)
		}
		current = nil
	}
	if len(current) >= minOverlap {
		groups = append(groups, current)
	}
	return groups
}

func raceEvent(cardID string, group []models.Transaction, window time.Duration, now time.Time) models.MonitoringEvent {
	ids := make([]string, len(group))
	types := make([]string, len(group))
	var amount int64
	for i, tx := range group {
		ids[i] = tx.ID
		types[i] = tx.Type
		amount += tx.AmountCents
	}
	return models.MonitoringEvent{
		EventType:       models.EventRaceCondition,
		Severity:        models.SeverityHigh,
		CardID:          cardID,
		AmountCents:     amount,
		DetectedAt:      now,
		DetectionSource: raceConditionSource,
		Confidence:      0.85,
		EventData: models.RaceConditionPayload{
			TransactionIDs:   ids,
			TransactionTypes: types,
			OverlapCount:     len(group),
			WindowMillis:     window.Milliseconds(),
		},
		Context: models.EventContext{RequiresInvestigation: true, FinancialImpact: "high"},
	}
}
