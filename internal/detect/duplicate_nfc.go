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

const duplicateNFCSource = "duplicate_nfc_detector"

// DuplicateNFCDetector flags clusters of scans of the same card whose
// successive gaps fall within the duplicate window. A 3s gap with the
// default 5s window is a duplicate; a 6s gap is not.
type DuplicateNFCDetector struct {
	store  storage.Store
	logger logger.Logger
}

func NewDuplicateNFCDetector(store storage.Store, log logger.Logger) *DuplicateNFCDetector {
	return &DuplicateNFCDetector{store: store, logger: log}
}

func (d *DuplicateNFCDetector) Type() models.EventType {
	return models.EventDuplicateNFC
}

func (d *DuplicateNFCDetector) Run(ctx context.Context, now time.Time, cfg config.DetectionConfig) models.DetectionResult {
	scans, err := d.store.RecentScans(ctx, now.Add(-cfg.Lookback()))
	if err != nil {
		return failedResult(d.Type(), now, err)
	}

	result := models.DetectionResult{
		DetectionType: d.Type(),
		Success:       true,
		DetectedAt:    now,
		Stats:         map[string]int64{"scans_checked": int64(len(scans))},
	}

	byCard := map[string][]models.NFCScan{}
	for _, s := range scans {
		byCard[s.CardID] = append(byCard[s.CardID], s)
	}

	window := cfg.DuplicateNFC.Window()
	var clusters int64
	for cardID, cardScans := range byCard {
		sort.Slice(cardScans, func(i, j int) bool {
			return cardScans[i].ScannedAt.Before(cardScans[j].ScannedAt)
		})
		for _, cluster := range clusterScans(cardScans, window) {
			clusters++
			ev := clusterEvent(cardID, cluster, now)
			if _, err := d.store.InsertEvent(ctx, &ev); err != nil {
				result.Success = false
				result.Error = fmt.Sprintf("insert event: %v", err)
				d.logger.Error("duplicate scan event insert failed", "card", cardID, "error", err)
				result.Stats["duplicate_clusters"] = clusters
				return result
			}
			result.EventsCreated++
		}
	}
	result.Stats["duplicate_clusters"] = clusters
	return result
}

// clusterScans groups time-sorted scans into runs where every successive
// gap is within the window. Singleton runs are not duplicates.
func clusterScans(scans []models.NFCScan, window time.Duration) [][]models.NFCScan {
	var (
		clusters [][]models.NFCScan
		current  []models.NFCScan
	)
	for i, s := range scans {
		if i > 0 && s.ScannedAt.Sub(scans[i-1].ScannedAt) <= window {
			if len(current) == 0 {
				current = append(current, scans[i-1])
			}
			current = append(current, s)
			continue
		}
		if len(current) >= 2 {
			clusters = append(clusters, current)
		}
		current = nil
	}
	if len(current) >= 2 {
		clusters = append(clusters, current)
	}
	return clusters
}

func clusterEvent(cardID string, cluster []models.NFCScan, now time.Time) models.MonitoringEvent {
	ids := make([]int64, len(cluster))
	times := make([]time.Time, len(cluster))
	for i, s := range cluster {
		ids[i] = s.ID
		times[i] = s.ScannedAt
	}
	span := cluster[len(cluster)-1].ScannedAt.Sub(cluster[0].ScannedAt)

	severity := models.SeverityMedium
	if len(cluster) > 2 {
		severity = models.SeverityHigh
	}
	return models.MonitoringEvent{
		EventType:       models.EventDuplicateNFC,
		Severity:        severity,
		CardID:          cardID,
		DetectedAt:      now,
		DetectionSource: duplicateNFCSource,
		Confidence:      0.9,
		EventData: models.DuplicateNFCPayload{
			ScanIDs:    ids,
			ScanTimes:  times,
			ScanCount:  len(cluster),
			SpanMillis: span.Milliseconds(),
		},
		Context: models.EventContext{RequiresInvestigation: true, FinancialImpact: "medium"},
	}
}
