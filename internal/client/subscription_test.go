package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage/storetest"
)

func waitForEvent(t *testing.T, ch <-chan models.MonitoringEvent, timeout time.Duration) models.MonitoringEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatal("no event delivered before timeout")
		return models.MonitoringEvent{}
	}
}

func TestSubscribeToEvents_PushDelivery(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	received := make(chan models.MonitoringEvent, 8)
	unsubscribe := c.SubscribeToEvents(models.EventFilter{}, func(ev models.MonitoringEvent) {
		received <- ev
	})
	defer unsubscribe()

	assert.Equal(t, 1, c.SubscriptionCount())

	ev := models.MonitoringEvent{
		EventType:  models.EventDuplicateNFC,
		Severity:   models.SeverityMedium,
		CardID:     "CARD0001",
		DetectedAt: time.Now(),
	}
	_, err := store.InsertEvent(context.Background(), &ev)
	require.NoError(t, err)

	got := waitForEvent(t, received, 2*time.Second)
	assert.Equal(t, "CARD0001", got.CardID)
}

func TestSubscribeToEvents_FilterApplied(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	received := make(chan models.MonitoringEvent, 8)
	unsubscribe := c.SubscribeToEvents(models.EventFilter{Severity: models.SeverityCritical}, func(ev models.MonitoringEvent) {
		received <- ev
	})
	defer unsubscribe()

	low := models.MonitoringEvent{EventType: models.EventDuplicateNFC, Severity: models.SeverityLow, DetectedAt: time.Now()}
	_, err := store.InsertEvent(context.Background(), &low)
	require.NoError(t, err)
	critical := models.MonitoringEvent{EventType: models.EventBalanceDiscrepancy, Severity: models.SeverityCritical, DetectedAt: time.Now()}
	_, err = store.InsertEvent(context.Background(), &critical)
	require.NoError(t, err)

	got := waitForEvent(t, received, 2*time.Second)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	select {
	case extra := <-received:
		t.Fatalf("unexpected delivery of %s event", extra.Severity)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeToEvents_PollingFallback(t *testing.T) {
	store := storetest.New()
	store.ErrSubscribe = errors.New("push delivery unavailable")

	c := newTestClient(t, store)
	c.pollInterval = 20 * time.Millisecond

	received := make(chan models.MonitoringEvent, 8)
	unsubscribe := c.SubscribeToEvents(models.EventFilter{}, func(ev models.MonitoringEvent) {
		received <- ev
	})
	require.NotNil(t, unsubscribe)
	defer unsubscribe()

	ev := models.MonitoringEvent{
		EventType:  models.EventRaceCondition,
		Severity:   models.SeverityHigh,
		CardID:     "CARD0002",
		DetectedAt: time.Now().Add(time.Second),
	}
	_, err := store.InsertEvent(context.Background(), &ev)
	require.NoError(t, err)

	got := waitForEvent(t, received, 2*time.Second)
	assert.Equal(t, "CARD0002", got.CardID)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	unsubscribe := c.SubscribeToEvents(models.EventFilter{}, func(models.MonitoringEvent) {})
	require.Equal(t, 1, c.SubscriptionCount())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, c.SubscriptionCount())
}

func TestCleanup_CancelsSubscriptions(t *testing.T) {
	store := storetest.New()
	c := newTestClient(t, store)

	c.SubscribeToEvents(models.EventFilter{}, func(models.MonitoringEvent) {})
	c.SubscribeToEvents(models.EventFilter{}, func(models.MonitoringEvent) {})
	require.Equal(t, 2, c.SubscriptionCount())

	c.Cleanup()
	assert.Equal(t, 0, c.SubscriptionCount())
}
