// Package stats aggregates processing latency samples and historical event
// counters. Latency lives in an in-memory ring; counters are accumulated in
// memory and flushed to persistent hour/day buckets by a background loop.
// None of its locks are shared with the cache index.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

var (
	// ErrConflictingRange 表示起始时间晚于结束时间。
	ErrConflictingRange = errors.New("start is after end")
	// ErrHourRange 表示小时统计的查询跨度超过上限。
	ErrHourRange = errors.New("hour range too large")
)

// Sink 是桶计数的持久层，由 storage/sqlite 实现。
type Sink interface {
	AddBuckets(ctx context.Context, g storage.Granularity, buckets []storage.Bucket) error
	QueryBuckets(ctx context.Context, g storage.Granularity, start, end time.Time) ([]storage.Bucket, error)
	TotalsByType(ctx context.Context) (map[string]int64, error)
}

// Options 控制刷新周期、小时查询上限与时钟。
type Options struct {
	FlushInterval time.Duration
	MaxHourRange  time.Duration
	Now           func() time.Time
	Logger        *logrus.Logger
}

// Delay 是接口返回的平均延迟（毫秒）。
type Delay struct {
	Fast int64 `json:"fast"`
	Full int64 `json:"full"`
}

type bucketKey struct {
	kind string
	at   int64
}

// Aggregator 汇总延迟样本与事件计数。
type Aggregator struct {
	ring Ring
	sink Sink
	opts Options

	mu   sync.Mutex
	hour map[bucketKey]int64
	day  map[bucketKey]int64

	// flushMu 串行化刷新与查询，查询总能看到持久化与待刷新两部分的完整计数。
	flushMu sync.Mutex
}

// New 构建聚合器。
func New(sink Sink, opts Options) *Aggregator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.MaxHourRange <= 0 {
		opts.MaxHourRange = 7 * 24 * time.Hour
	}
	return &Aggregator{
		sink: sink,
		opts: opts,
		hour: make(map[bucketKey]int64),
		day:  make(map[bucketKey]int64),
	}
}

// Record 写入一个延迟样本。
func (a *Aggregator) Record(kind Kind, d time.Duration) {
	a.ring.Add(Sample{At: a.opts.Now().UTC(), Duration: d, Kind: kind})
}

// Delay 返回窗口内 fast/full 样本的平均毫秒数，空窗口为 0。
func (a *Aggregator) Delay() Delay {
	return Delay{
		Fast: a.ring.Mean(Fast).Milliseconds(),
		Full: a.ring.Mean(Full).Milliseconds(),
	}
}

// Samples 返回窗口内的样本副本。
func (a *Aggregator) Samples() []Sample {
	return a.ring.Snapshot()
}

// Increment 为事件在当前小时与当天的桶各加一。
func (a *Aggregator) Increment(event string) {
	now := a.opts.Now().UTC()
	a.mu.Lock()
	a.hour[bucketKey{kind: event, at: truncateHour(now).UnixMilli()}]++
	a.day[bucketKey{kind: event, at: truncateDay(now).UnixMilli()}]++
	a.mu.Unlock()
}

func truncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Flush 将待刷新计数写入持久层；失败时计数回填，等待下次刷新。
func (a *Aggregator) Flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	hour, day := a.hour, a.day
	a.hour = make(map[bucketKey]int64)
	a.day = make(map[bucketKey]int64)
	a.mu.Unlock()

	if err := a.sink.AddBuckets(ctx, storage.Hourly, toBuckets(hour)); err != nil {
		a.restore(hour, day)
		return fmt.Errorf("flush hour buckets: %w", err)
	}
	if err := a.sink.AddBuckets(ctx, storage.Daily, toBuckets(day)); err != nil {
		a.restore(nil, day)
		return fmt.Errorf("flush day buckets: %w", err)
	}
	return nil
}

func (a *Aggregator) restore(hour, day map[bucketKey]int64) {
	a.mu.Lock()
	for k, v := range hour {
		a.hour[k] += v
	}
	for k, v := range day {
		a.day[k] += v
	}
	a.mu.Unlock()
}

func toBuckets(m map[bucketKey]int64) []storage.Bucket {
	out := make([]storage.Bucket, 0, len(m))
	for k, v := range m {
		out = append(out, storage.Bucket{Type: k.kind, Time: time.UnixMilli(k.at).UTC(), Count: v})
	}
	return out
}

// Run 周期性刷新计数，ctx 结束时做最后一次刷新后返回。
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.Flush(flushCtx)
			cancel()
			if err != nil {
				a.logError(err)
			}
			return nil
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logError(err)
			}
		}
	}
}

func (a *Aggregator) logError(err error) {
	if a.opts.Logger == nil {
		return
	}
	a.opts.Logger.WithFields(logrus.Fields{"action": "stats_flush"}).WithError(err).Warn("stats_flush_failed")
}

// Hours 返回 [start, end] 内（按小时截断）的桶。
func (a *Aggregator) Hours(ctx context.Context, start, end time.Time) ([]storage.Bucket, error) {
	start, end = truncateHour(start), truncateHour(end)
	if start.After(end) {
		return nil, ErrConflictingRange
	}
	if end.Sub(start) > a.opts.MaxHourRange {
		return nil, ErrHourRange
	}
	return a.query(ctx, storage.Hourly, start, end)
}

// Days 返回 [start, end] 内（按天截断）的桶，首尾均包含。
func (a *Aggregator) Days(ctx context.Context, start, end time.Time) ([]storage.Bucket, error) {
	start, end = truncateDay(start), truncateDay(end)
	if start.After(end) {
		return nil, ErrConflictingRange
	}
	return a.query(ctx, storage.Daily, start, end)
}

func (a *Aggregator) query(ctx context.Context, g storage.Granularity, start, end time.Time) ([]storage.Bucket, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	persisted, err := a.sink.QueryBuckets(ctx, g, start, end)
	if err != nil {
		return nil, err
	}

	merged := make(map[bucketKey]int64, len(persisted))
	for _, b := range persisted {
		merged[bucketKey{kind: b.Type, at: b.Time.UnixMilli()}] += b.Count
	}

	from, to := start.UnixMilli(), end.UnixMilli()
	a.mu.Lock()
	pending := a.hour
	if g == storage.Daily {
		pending = a.day
	}
	for k, v := range pending {
		if k.at >= from && k.at <= to {
			merged[k] += v
		}
	}
	a.mu.Unlock()

	out := toBuckets(merged)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].Type < out[j].Type
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out, nil
}

// Totals 返回每种事件的累计次数。
func (a *Aggregator) Totals(ctx context.Context) (map[string]int64, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	totals, err := a.sink.TotalsByType(ctx)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	for k, v := range a.day {
		totals[k.kind] += v
	}
	a.mu.Unlock()
	return totals, nil
}
