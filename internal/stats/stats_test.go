package stats

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/open-workshop/workshop-cache/internal/storage/sqlite"
)

func TestRingWindowKeepsLatestSamples(t *testing.T) {
	agg := newTestAggregator(t, time.Now)
	for i := 0; i < 5; i++ {
		agg.Record(Full, time.Second)
	}
	for i := 0; i < RingSize; i++ {
		agg.Record(Full, 10*time.Millisecond)
	}

	if n := len(agg.Samples()); n != RingSize {
		t.Fatalf("ring holds %d samples, want %d", n, RingSize)
	}
	if d := agg.Delay(); d.Full != 10 {
		t.Fatalf("full delay = %d ms, want 10", d.Full)
	}
}

func TestDelayReportsZeroForEmptyKind(t *testing.T) {
	agg := newTestAggregator(t, time.Now)
	if d := agg.Delay(); d.Fast != 0 || d.Full != 0 {
		t.Fatalf("empty delay = %+v", d)
	}
	agg.Record(Fast, 30*time.Millisecond)
	agg.Record(Fast, 50*time.Millisecond)
	d := agg.Delay()
	if d.Fast != 40 || d.Full != 0 {
		t.Fatalf("delay = %+v, want fast=40 full=0", d)
	}
}

func TestRingSnapshotOrder(t *testing.T) {
	var r Ring
	for i := 1; i <= RingSize+3; i++ {
		r.Add(Sample{Duration: time.Duration(i)})
	}
	snap := r.Snapshot()
	if snap[0].Duration != 4 || snap[len(snap)-1].Duration != RingSize+3 {
		t.Fatalf("unexpected order: first=%d last=%d", snap[0].Duration, snap[len(snap)-1].Duration)
	}
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	agg := newTestAggregator(t, time.Now)
	ctx := context.Background()

	const (
		writers = 20
		perG    = 50
	)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				agg.Increment(EventFilesSent)
			}
		}()
	}
	stop := make(chan struct{})
	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		for {
			select {
			case <-stop:
				return
			default:
				if err := agg.Flush(ctx); err != nil {
					t.Errorf("flush: %v", err)
					return
				}
			}
		}
	}()
	wg.Wait()
	close(stop)
	<-flushed

	totals, err := agg.Totals(ctx)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals[EventFilesSent] != writers*perG {
		t.Fatalf("files_sent = %d, want %d", totals[EventFilesSent], writers*perG)
	}
	if err := agg.Flush(ctx); err != nil {
		t.Fatalf("final flush: %v", err)
	}
	totals, _ = agg.Totals(ctx)
	if totals[EventFilesSent] != writers*perG {
		t.Fatalf("after flush files_sent = %d", totals[EventFilesSent])
	}
}

func TestDaysRange(t *testing.T) {
	now := time.Date(2026, time.May, 10, 15, 30, 0, 0, time.UTC)
	clock := now
	agg := newTestAggregator(t, func() time.Time { return clock })
	ctx := context.Background()

	agg.Increment(EventModsRequest)
	if err := agg.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	clock = now.AddDate(0, 0, 1)
	agg.Increment(EventModsRequest)
	agg.Increment(EventModsRequest)

	day := time.Date(2026, time.May, 10, 0, 0, 0, 0, time.UTC)
	if _, err := agg.Days(ctx, day.AddDate(0, 0, 1), day); !errors.Is(err, ErrConflictingRange) {
		t.Fatalf("reversed range err = %v", err)
	}

	buckets, err := agg.Days(ctx, day, day)
	if err != nil {
		t.Fatalf("days: %v", err)
	}
	if len(buckets) != 1 || buckets[0].Count != 1 || !buckets[0].Time.Equal(day) {
		t.Fatalf("single day buckets = %+v", buckets)
	}

	buckets, err = agg.Days(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("days: %v", err)
	}
	if len(buckets) != 2 || buckets[1].Count != 2 {
		t.Fatalf("two-day buckets (persisted + pending) = %+v", buckets)
	}
}

func TestHoursRangeLimit(t *testing.T) {
	now := time.Date(2026, time.May, 10, 15, 30, 0, 0, time.UTC)
	agg := newTestAggregator(t, func() time.Time { return now })
	ctx := context.Background()

	agg.Increment(EventSteamOK)
	buckets, err := agg.Hours(ctx, now, now)
	if err != nil {
		t.Fatalf("hours: %v", err)
	}
	if len(buckets) != 1 || !buckets[0].Time.Equal(now.Truncate(time.Hour)) {
		t.Fatalf("hour buckets = %+v", buckets)
	}

	if _, err := agg.Hours(ctx, now.Add(-8*24*time.Hour), now); !errors.Is(err, ErrHourRange) {
		t.Fatalf("wide range err = %v", err)
	}
	if _, err := agg.Hours(ctx, now, now.Add(-time.Hour)); !errors.Is(err, ErrConflictingRange) {
		t.Fatalf("reversed range err = %v", err)
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	store := openSink(t)
	agg := New(store, Options{FlushInterval: time.Hour})
	agg.Increment(EventStart)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	totals, err := store.TotalsByType(context.Background())
	if err != nil || totals[EventStart] != 1 {
		t.Fatalf("persisted totals = %v, %v", totals, err)
	}
}

func TestTypeMapFallsBack(t *testing.T) {
	ru := TypeMap("ru")
	if ru[EventStart] != "Запусков сервера" {
		t.Fatalf("ru start = %q", ru[EventStart])
	}
	if len(ru) != len(typeNames) {
		t.Fatalf("type map size = %d", len(ru))
	}
	unknown := TypeMap("xx")
	if unknown[EventFilesSent] != ru[EventFilesSent] {
		t.Fatalf("unknown language must fall back to %s", DefaultLanguage)
	}
	if en := TypeMap("en"); en[EventFilesSent] != "Files sent" {
		t.Fatalf("en files_sent = %q", en[EventFilesSent])
	}
}

func newTestAggregator(t *testing.T, now func() time.Time) *Aggregator {
	t.Helper()
	return New(openSink(t), Options{Now: now, MaxHourRange: 7 * 24 * time.Hour})
}

func openSink(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var _ Sink = (*sqlite.Store)(nil)
