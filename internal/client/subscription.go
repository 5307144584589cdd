package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/monitoring"
)

// EventCallback receives one matching event per invocation. Delivery is
// at-least-once; callbacks must tolerate the occasional duplicate.
type EventCallback func(models.MonitoringEvent)

const (
	modePush = "push"
	modePoll = "poll"
)

type subscription struct {
	id       string
	filter   models.EventFilter
	callback EventCallback
	cancel   context.CancelFunc
	done     chan struct{}

	mu   sync.Mutex
	mode string

	unsubOnce sync.Once
	client    *MonitoringClient
}

// SubscribeToEvents registers for new events matching the filter and returns
// an idempotent unsubscribe function. Push registration failure is not an
// error: the subscription degrades to polling and the callback still fires
// within one poll interval.
func (c *MonitoringClient) SubscribeToEvents(filter models.EventFilter, callback EventCallback) func() {
	ctx, cancel := context.WithCancel(c.rootCtx)
	sub := &subscription{
		id:       uuid.NewString(),
		filter:   filter,
		callback: callback,
		cancel:   cancel,
		done:     make(chan struct{}),
		client:   c,
	}

	ch, err := c.store.SubscribeEvents(ctx)
	if err != nil {
		c.logger.Warn("push delivery unavailable, subscription falls back to polling",
			"subscription", sub.id, "error", err)
		sub.mode = modePoll
	} else {
		sub.mode = modePush
	}

	c.subMu.Lock()
	c.subs[sub.id] = sub
	c.subMu.Unlock()
	c.updateSubscriptionGauges()

	go func() {
		defer close(sub.done)
		if ch != nil {
			sub.runPush(ctx, ch)
		} else {
			sub.runPoll(ctx, time.Now())
		}
	}()

	return sub.unsubscribe
}

func (s *subscription) unsubscribe() {
	s.unsubOnce.Do(func() {
		s.cancel()
		<-s.done

		c := s.client
		c.subMu.Lock()
		delete(c.subs, s.id)
		c.subMu.Unlock()
		c.updateSubscriptionGauges()
	})
}

// runPush consumes the notify channel. If the channel closes while the
// subscription is still wanted (connection drop), delivery degrades to
// polling from the last event seen.
func (s *subscription) runPush(ctx context.Context, ch <-chan models.MonitoringEvent) {
	cursor := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					s.client.logger.Warn("push channel closed, subscription falls back to polling",
						"subscription", s.id)
					s.setMode(modePoll)
					s.runPoll(ctx, cursor)
				}
				return
			}
			if ev.DetectedAt.After(cursor) {
				cursor = ev.DetectedAt
			}
			if s.filter.Matches(&ev) {
				s.callback(ev)
			}
		}
	}
}

// runPoll re-queries events newer than the cursor on a fixed interval. The
// cursor advances to the newest delivered timestamp, so events sharing that
// timestamp may be delivered again: at-least-once, not exactly-once.
func (s *subscription) runPoll(ctx context.Context, since time.Time) {
	ticker := time.NewTicker(s.client.pollInterval)
	defer ticker.Stop()

	cursor := since
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := s.client.store.EventsSince(ctx, cursor, s.filter)
			if err != nil {
				if ctx.Err() == nil {
					s.client.logger.Warn("subscription poll failed", "subscription", s.id, "error", err)
				}
				continue
			}
			for _, ev := range events {
				if ev.DetectedAt.After(cursor) {
					cursor = ev.DetectedAt
				}
				s.callback(ev)
			}
		}
	}
}

func (s *subscription) setMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.client.updateSubscriptionGauges()
}

func (s *subscription) currentMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SubscriptionCount returns the number of active subscriptions.
func (c *MonitoringClient) SubscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs)
}

func (c *MonitoringClient) updateSubscriptionGauges() {
	c.subMu.Lock()
	push, poll := 0, 0
	for _, s := range c.subs {
		if s.currentMode() == modePush {
			push++
		} else {
			poll++
		}
	}
	c.subMu.Unlock()
	monitoring.SetActiveSubscriptions(modePush, push)
	monitoring.SetActiveSubscriptions(modePoll, poll)
}
