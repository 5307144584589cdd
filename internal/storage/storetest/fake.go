// Package storetest provides an in-memory storage.Store for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/internal/storage"
)

// Fake is a seedable in-memory Store. Error fields inject failures per
// method; QueryCalls counts reads so cache tests can assert query volume.
type Fake struct {
	mu sync.Mutex

	Transactions []models.Transaction
	Scans        []models.NFCScan
	Cards        []models.CardBalance

	Events    []models.MonitoringEvent
	Snapshots []models.SystemHealthSnapshot

	nextEventID    int64
	nextSnapshotID int64

	ErrTransactions error
	ErrScans        error
	ErrCards        error
	ErrInsertEvent  error
	ErrSnapshot     error
	ErrAggregates   error
	ErrQueryEvents  error
	ErrSubscribe    error
	ErrPing         error

	QueryCalls map[string]int

	subscribers []chan models.MonitoringEvent
}

var _ storage.Store = (*Fake)(nil)

func New() *Fake {
	return &Fake{QueryCalls: map[string]int{}}
}

func (f *Fake) count(method string) {
	f.QueryCalls[method]++
}

func (f *Fake) Init(ctx context.Context) error { return nil }
func (f *Fake) Close() error                   { return nil }

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ErrPing
}

func (f *Fake) RecentTransactions(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("RecentTransactions")
	if f.ErrTransactions != nil {
		return nil, f.ErrTransactions
	}
	var out []models.Transaction
	for _, tx := range f.Transactions {
		if !tx.CreatedAt.Before(since) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CardID != out[j].CardID {
			return out[i].CardID < out[j].CardID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *Fake) RecentScans(ctx context.Context, since time.Time) ([]models.NFCScan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("RecentScans")
	if f.ErrScans != nil {
		return nil, f.ErrScans
	}
	var out []models.NFCScan
	for _, s := range f.Scans {
		if !s.ScannedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fake) ActiveCards(ctx context.Context, since time.Time) ([]models.CardBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ActiveCards")
	if f.ErrCards != nil {
		return nil, f.ErrCards
	}
	active := map[string]bool{}
	for _, tx := range f.Transactions {
		if !tx.CreatedAt.Before(since) {
			active[tx.CardID] = true
		}
	}
	var out []models.CardBalance
	for _, c := range f.Cards {
		if active[c.CardID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) TransactionsForCard(ctx context.Context, cardID string) ([]models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("TransactionsForCard")
	if f.ErrTransactions != nil {
		return nil, f.ErrTransactions
	}
	var out []models.Transaction
	for _, tx := range f.Transactions {
		if tx.CardID == cardID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) InsertEvent(ctx context.Context, ev *models.MonitoringEvent) (int64, error) {
	f.mu.Lock()
	if f.ErrInsertEvent != nil {
		defer f.mu.Unlock()
		return 0, f.ErrInsertEvent
	}
	f.nextEventID++
	ev.ID = f.nextEventID
	if ev.Status == "" {
		ev.Status = models.StatusOpen
	}
	now := time.Now()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	f.Events = append(f.Events, *ev)
	subs := append([]chan models.MonitoringEvent(nil), f.subscribers...)
	f.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- *ev:
		default:
		}
	}
	return ev.ID, nil
}

func (f *Fake) InsertSnapshot(ctx context.Context, snap *models.SystemHealthSnapshot) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrSnapshot != nil {
		return 0, f.ErrSnapshot
	}
	f.nextSnapshotID++
	snap.ID = f.nextSnapshotID
	snap.CreatedAt = time.Now()
	f.Snapshots = append(f.Snapshots, *snap)
	return snap.ID, nil
}

func (f *Fake) ResolveEvent(ctx context.Context, id int64, status models.EventStatus, notes string) (*models.MonitoringEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Events {
		if f.Events[i].ID == id {
			f.Events[i].Resolve(status, notes, time.Now())
			ev := f.Events[i]
			return &ev, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *Fake) QueryEvents(ctx context.Context, filter models.EventFilter, page models.Pagination) (*models.EventPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("QueryEvents")
	if f.ErrQueryEvents != nil {
		return nil, f.ErrQueryEvents
	}
	page = page.Normalize()
	var matched []models.MonitoringEvent
	var critical, open int
	for _, ev := range f.Events {
		ev := ev
		if !filter.Matches(&ev) {
			continue
		}
		matched = append(matched, ev)
		if ev.Severity == models.SeverityCritical {
			critical++
		}
		if ev.Status == models.StatusOpen {
			open++
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].DetectedAt.After(matched[j].DetectedAt) })

	total := len(matched)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.PageSize
	if end > total {
		end = total
	}
	return &models.EventPage{
		Events:        matched[start:end],
		Total:         total,
		Page:          page.Page,
		PageSize:      page.PageSize,
		TotalCritical: critical,
		TotalOpen:     open,
	}, nil
}

func (f *Fake) EventsSince(ctx context.Context, since time.Time, filter models.EventFilter) ([]models.MonitoringEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EventsSince")
	if f.ErrQueryEvents != nil {
		return nil, f.ErrQueryEvents
	}
	filter.Since = since
	var out []models.MonitoringEvent
	for _, ev := range f.Events {
		ev := ev
		if filter.Matches(&ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (f *Fake) LatestSnapshot(ctx context.Context) (*models.SystemHealthSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("LatestSnapshot")
	if len(f.Snapshots) == 0 {
		return nil, nil
	}
	snap := f.Snapshots[len(f.Snapshots)-1]
	return &snap, nil
}

func (f *Fake) EventCountsSince(ctx context.Context, since time.Time) (*storage.EventCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EventCountsSince")
	if f.ErrAggregates != nil {
		return nil, f.ErrAggregates
	}
	counts := &storage.EventCounts{}
	for _, ev := range f.Events {
		if ev.DetectedAt.Before(since) {
			continue
		}
		counts.Total++
		if ev.Severity == models.SeverityCritical {
			counts.Critical++
		}
		if ev.Status == models.StatusOpen {
			counts.Open++
		}
	}
	return counts, nil
}

func (f *Fake) TransactionAggregates(ctx context.Context, since, until time.Time) (*storage.TxAggregates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("TransactionAggregates")
	if f.ErrAggregates != nil {
		return nil, f.ErrAggregates
	}
	agg := &storage.TxAggregates{}
	var processing []float64
	for _, tx := range f.Transactions {
		if tx.CreatedAt.Before(since) || !tx.CreatedAt.Before(until) {
			continue
		}
		agg.Count++
		processing = append(processing, float64(tx.ProcessingMillis))
		if tx.Status == models.TxFailed {
			agg.FailedCount++
			continue
		}
		if tx.Status == models.TxCompleted {
			agg.VolumeCents += tx.AmountCents
			switch tx.Type {
			case "topup":
				agg.TopupVolumeCents += tx.AmountCents
			case "purchase":
				agg.PurchaseVolumeCents += tx.AmountCents
			}
		}
	}
	if len(processing) > 0 {
		var sum float64
		for _, v := range processing {
			sum += v
		}
		agg.AvgProcessingMillis = sum / float64(len(processing))
		sort.Float64s(processing)
		agg.P50ProcessingMillis = percentile(processing, 0.50)
		agg.P95ProcessingMillis = percentile(processing, 0.95)
		agg.P99ProcessingMillis = percentile(processing, 0.99)
	}
	return agg, nil
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func (f *Fake) ScanAggregates(ctx context.Context, since, until time.Time) (*storage.ScanAggregates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ScanAggregates")
	if f.ErrAggregates != nil {
		return nil, f.ErrAggregates
	}
	agg := &storage.ScanAggregates{}
	var sum float64
	for _, s := range f.Scans {
		if s.ScannedAt.Before(since) || !s.ScannedAt.Before(until) {
			continue
		}
		agg.Count++
		sum += float64(s.ProcessingMillis)
	}
	if agg.Count > 0 {
		agg.AvgProcessingMillis = sum / float64(agg.Count)
	}
	return agg, nil
}

func (f *Fake) EventTrend(ctx context.Context, since, until time.Time, bucket time.Duration) ([]models.TrendPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EventTrend")
	if f.ErrAggregates != nil {
		return nil, f.ErrAggregates
	}
	buckets := map[int64]float64{}
	for _, ev := range f.Events {
		if ev.DetectedAt.Before(since) || !ev.DetectedAt.Before(until) {
			continue
		}
		key := ev.DetectedAt.Unix() / int64(bucket.Seconds())
		buckets[key]++
	}
	return trendPoints(buckets, bucket), nil
}

func (f *Fake) VolumeTrend(ctx context.Context, since, until time.Time, bucket time.Duration) ([]models.TrendPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("VolumeTrend")
	if f.ErrAggregates != nil {
		return nil, f.ErrAggregates
	}
	buckets := map[int64]float64{}
	for _, tx := range f.Transactions {
		if tx.CreatedAt.Before(since) || !tx.CreatedAt.Before(until) || tx.Status != models.TxCompleted {
			continue
		}
		key := tx.CreatedAt.Unix() / int64(bucket.Seconds())
		buckets[key] += float64(tx.AmountCents)
	}
	return trendPoints(buckets, bucket), nil
}

func trendPoints(buckets map[int64]float64, bucket time.Duration) []models.TrendPoint {
	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]models.TrendPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.TrendPoint{
			Timestamp: time.Unix(k*int64(bucket.Seconds()), 0).UTC(),
			Value:     buckets[k],
		})
	}
	return out
}

func (f *Fake) AffectedAmountSince(ctx context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("AffectedAmountSince")
	if f.ErrAggregates != nil {
		return 0, f.ErrAggregates
	}
	var total int64
	for _, ev := range f.Events {
		if !ev.DetectedAt.Before(since) {
			total += ev.AmountCents
		}
	}
	return total, nil
}

func (f *Fake) PurgeExpired(ctx context.Context, eventCutoff, snapshotCutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var purged int64
	kept := f.Events[:0]
	for _, ev := range f.Events {
		if ev.DetectedAt.Before(eventCutoff) {
			purged++
			continue
		}
		kept = append(kept, ev)
	}
	f.Events = kept
	keptSnaps := f.Snapshots[:0]
	for _, s := range f.Snapshots {
		if s.SnapshotAt.Before(snapshotCutoff) {
			purged++
			continue
		}
		keptSnaps = append(keptSnaps, s)
	}
	f.Snapshots = keptSnaps
	return purged, nil
}

// SubscribeEvents mirrors the LISTEN/NOTIFY path: inserted events are fanned
// out to every subscriber channel.
func (f *Fake) SubscribeEvents(ctx context.Context) (<-chan models.MonitoringEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrSubscribe != nil {
		return nil, f.ErrSubscribe
	}
	ch := make(chan models.MonitoringEvent, 64)
	f.subscribers = append(f.subscribers, ch)
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		for i, sub := range f.subscribers {
			if sub == ch {
				f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
