package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage/storetest"
	"github.com/payflux/monitor-core/pkg/logger"
)

func scanAt(id int64, cardID string, at time.Time) models.NFCScan {
	return models.NFCScan{ID: id, CardID: cardID, TerminalID: "TERM-01", ScannedAt: at}
}

func TestDuplicateNFC_ScansWithinWindowFlagged(t *testing.T) {
	store := storetest.New()
	base := testNow.Add(-10 * time.Minute)
	store.Scans = []models.NFCScan{
		scanAt(1, "CARD0001", base),
		scanAt(2, "CARD0001", base.Add(3*time.Second)), // 3s gap, 5s window
	}

	d := NewDuplicateNFCDetector(store, logger.NewNop())
	result := d.Run(context.Background(), testNow, testDetectionConfig())

	require.True(t, result.Success)
	require.Equal(t, 1, result.EventsCreated)

	ev := store.Events[0]
	assert.Equal(t, models.SeverityMedium, ev.Severity)
	payload := ev.EventData.(models.DuplicateNFCPayload)
	assert.Equal(t, 2, payload.ScanCount)
	assert.Equal(t, []int64{1, 2}, payload.ScanIDs)
	assert.Equal(t, int64(3000), payload.SpanMillis)
}

func TestDuplicateNFC_ScansOutsideWindowIgnored(t *testing.T) {
	store := storetest.New()
	base := testNow.Add(-10 * time.Minute)
	store.Scans = []models.NFCScan{
		scanAt(1, "CARD0001", base),
		scanAt(2, "CARD0001", base.Add(6*time.Second)), // 6s gap, 5s window
	}

	d := NewDuplicateNFCDetector(store, logger.NewNop())
	result := d.Run(context.Background(), testNow, testDetectionConfig())

	require.True(t, result.Success)
	assert.Equal(t, 0, result.EventsCreated)
}

func TestDuplicateNFC_ChainedGapsFormOneCluster(t *testing.T) {
	store := storetest.New()
	base := testNow.Add(-10 * time.Minute)
	// Each successive gap is 4s; the 8s total span stays one cluster.
	store.Scans = []models.NFCScan{
		scanAt(1, "CARD0001", base),
		scanAt(2, "CARD0001", base.Add(4*time.Second)),
		scanAt(3, "CARD0001", base.Add(8*time.Second)),
	}

	d := NewDuplicateNFCDetector(store, logger.NewNop())
	result := d.Run(context.Background(), testNow, testDetectionConfig())

	require.True(t, result.Success)
	require.Equal(t, 1, result.EventsCreated)

	ev := store.Events[0]
	assert.Equal(t, models.SeverityHigh, ev.Severity) // more than 2 scans
	payload := ev.EventData.(models.DuplicateNFCPayload)
	assert.Equal(t, 3, payload.ScanCount)
	assert.Equal(t, int64(8000), payload.SpanMillis)
}

func TestDuplicateNFC_DifferentCardsNeverCluster(t *testing.T) {
	store := storetest.New()
	base := testNow.Add(-10 * time.Minute)
	store.Scans = []models.NFCScan{
		scanAt(1, "CARD0001", base),
		scanAt(2, "CARD0002", base.Add(1*time.Second)),
	}

	d := NewDuplicateNFCDetector(store, logger.NewNop())
	result := d.Run(context.Background(), testNow, testDetectionConfig())

	require.True(t, result.Success)
	assert.Equal(t, 0, result.EventsCreated)
}

func TestDuplicateNFC_QueryErrorAbsorbed(t *testing.T) {
	store := storetest.New()
	store.ErrScans = errors.New("connection refused")

	d := NewDuplicateNFCDetector(store, logger.NewNop())
	result := d.Run(context.Background(), testNow, testDetectionConfig())

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "connection refused")
}
