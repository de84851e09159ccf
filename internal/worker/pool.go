// Package worker runs the fetch pipeline: a fixed set of workers drains a
// FIFO of item ids, claims each item in the index, fetches it through the
// politeness gate, packages and stores the artifact, then commits the new
// metadata. A failed job never stops the pool; it is retried with backoff
// or dropped once its attempts are exhausted.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/open-workshop/workshop-cache/internal/archive"
	"github.com/open-workshop/workshop-cache/internal/cache"
	"github.com/open-workshop/workshop-cache/internal/config"
	"github.com/open-workshop/workshop-cache/internal/index"
	"github.com/open-workshop/workshop-cache/internal/logging"
	"github.com/open-workshop/workshop-cache/internal/metrics"
	"github.com/open-workshop/workshop-cache/internal/stats"
	"github.com/open-workshop/workshop-cache/internal/storage"
	"github.com/open-workshop/workshop-cache/internal/telemetry"
	"github.com/open-workshop/workshop-cache/internal/upstream"
)

const maxBackoff = 30 * time.Minute

// Games 负责游戏登记，由 storage/sqlite 实现。
type Games interface {
	HasGame(ctx context.Context, id uint64) (bool, error)
	UpsertGame(ctx context.Context, game storage.Game, genres []storage.Genre) error
}

// Recorder 接收延迟样本与事件计数，由 stats.Aggregator 实现。
type Recorder interface {
	Record(kind stats.Kind, d time.Duration)
	Increment(event string)
}

// Deps 汇总 worker 池依赖的协作者。Games、Metrics、Tracer 可以为空。
type Deps struct {
	Index    *index.Index
	Fetcher  upstream.Fetcher
	Archiver archive.Archiver
	Store    cache.Store
	Games    Games
	Stats    Recorder
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
	Logger   *logrus.Logger
}

// Options 是 worker 池的运行参数。
type Options struct {
	Workers               int
	MaxRetries            int
	InitialBackoff        time.Duration
	UpstreamTimeout       time.Duration
	MaxConcurrentUpstream int
	MinUpstreamSpacing    time.Duration
	Source                string
	Now                   func() time.Time
}

// OptionsFromConfig 从全局配置提取 worker 池参数。
func OptionsFromConfig(g config.GlobalConfig) Options {
	return Options{
		Workers:               g.Workers,
		MaxRetries:            g.MaxRetries,
		InitialBackoff:        g.InitialBackoff.DurationValue(),
		UpstreamTimeout:       g.UpstreamTimeout.DurationValue(),
		MaxConcurrentUpstream: g.MaxConcurrentUpstream,
		MinUpstreamSpacing:    g.MinUpstreamSpacing.DurationValue(),
		Source:                g.Source,
	}
}

// Pool 是固定大小的抓取 worker 池。
type Pool struct {
	deps  Deps
	opts  Options
	queue *Queue
	gate  *Gate

	games singleflight.Group

	startOnce sync.Once
	wg        sync.WaitGroup

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
	stopped  bool
}

// New 构建 worker 池，调用 Start 后才开始消费队列。
func New(deps Deps, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxConcurrentUpstream <= 0 {
		opts.MaxConcurrentUpstream = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.UpstreamTimeout <= 0 {
		opts.UpstreamTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer()
	}
	return &Pool{
		deps:   deps,
		opts:   opts,
		queue:  NewQueue(),
		gate:   NewGate(opts.MaxConcurrentUpstream, opts.MinUpstreamSpacing),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Start 启动 worker，重复调用无副作用。
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.opts.Workers; i++ {
			p.wg.Add(1)
			go p.loop()
		}
	})
}

// Run 启动 worker 并在 ctx 结束后停止，适合交给 errgroup 管理。
func (p *Pool) Run(ctx context.Context) error {
	p.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.Stop(stopCtx)
}

// Stop 关闭队列、取消待触发的重试，并等待正在执行的任务结束。
// 已认领的任务不会被取消。
func (p *Pool) Stop(ctx context.Context) error {
	p.queue.Close()
	p.timersMu.Lock()
	p.stopped = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = make(map[*time.Timer]struct{})
	p.timersMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit 将条目放入队列，由调用方保证该条目已登记存活任务。
func (p *Pool) Submit(id uint64) bool {
	ok := p.queue.Push(id)
	p.deps.Metrics.SetQueueDepth(p.queue.Len())
	return ok
}

// QueueLen 返回等待中的任务数量。
func (p *Pool) QueueLen() int {
	return p.queue.Len()
}

// Details 经礼貌闸门查询上游元信息，供失效检查使用。
func (p *Pool) Details(ctx context.Context, id uint64) (upstream.Metadata, error) {
	var meta upstream.Metadata
	err := p.gate.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.opts.UpstreamTimeout)
		defer cancel()
		started := time.Now()
		var err error
		meta, err = p.deps.Fetcher.Details(callCtx, id)
		p.deps.Metrics.ObserveUpstream("details", time.Since(started), err)
		return err
	})
	return meta, err
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		id, err := p.queue.Pop(context.Background())
		if err != nil {
			return
		}
		p.deps.Metrics.SetQueueDepth(p.queue.Len())
		p.process(id)
		p.deps.Metrics.SetLiveJobs(p.deps.Index.JobCount())
	}
}

// process 执行单个任务。任务一经认领不可取消，因此使用独立的 context。
func (p *Pool) process(id uint64) {
	ctx := context.Background()
	job, err := p.deps.Index.Claim(ctx, id)
	if err != nil {
		if !errors.Is(err, index.ErrNoJob) {
			p.deps.Logger.WithFields(logrus.Fields{"action": "fetch_job", "item_id": id}).
				WithError(err).Warn("fetch_claim_failed")
		}
		return
	}

	ctx, span := p.deps.Tracer.Start(ctx, "worker.fetch_job", trace.WithAttributes(
		attribute.Int64("workshop.item_id", int64(id)),
		attribute.Bool("workshop.updating", job.Updating),
		attribute.Int("workshop.attempts", job.Attempts),
	))
	defer span.End()

	err = p.run(ctx, job)
	if err == nil {
		kind := stats.Full
		if job.Updating {
			kind = stats.Fast
		}
		elapsed := p.opts.Now().Sub(job.CreatedAt)
		p.record(kind, elapsed)
		p.increment(stats.EventSteamOK)
		p.deps.Metrics.JobFinished("ok")
		fields := logging.JobFields(job.ID, job.ItemID, job.Attempts, job.Updating)
		fields["elapsed_ms"] = elapsed.Milliseconds()
		p.deps.Logger.WithFields(fields).Info("fetch_job_complete")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.increment(stats.EventSteamError)
	p.fail(job, err)
}

// run 包裹 fetchAndCommit 并把 panic 转为普通失败，保证条目不会卡在 Fetching。
func (p *Pool) run(ctx context.Context, job index.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in fetch job: %v", r)
		}
	}()
	return p.fetchAndCommit(ctx, job)
}

func (p *Pool) fetchAndCommit(ctx context.Context, job index.Job) error {
	id := job.ItemID

	var (
		payload upstream.Payload
		meta    upstream.Metadata
	)
	err := p.gate.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.opts.UpstreamTimeout)
		defer cancel()
		started := time.Now()
		var err error
		payload, meta, err = p.deps.Fetcher.Fetch(callCtx, id)
		p.deps.Metrics.ObserveUpstream("fetch", time.Since(started), err)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch item %d: %w", id, err)
	}
	if meta.ID == 0 {
		meta.ID = id
	}

	data, err := p.deps.Archiver.Package(payload, meta.Size)
	if err != nil {
		return fmt.Errorf("package item %d: %w", id, err)
	}

	if err := p.ensureGame(ctx, meta.GameID); err != nil {
		p.deps.Logger.WithFields(logrus.Fields{"action": "register_game", "game_id": meta.GameID, "item_id": id}).
			WithError(err).Warn("game_register_failed")
	}

	locator := cache.Locator{GameID: meta.GameID, ModID: id}
	if _, err := p.deps.Store.Put(ctx, locator, bytes.NewReader(data), cache.PutOptions{ModTime: meta.UpdatedAt}); err != nil {
		return fmt.Errorf("store item %d: %w", id, err)
	}

	previous, err := p.deps.Index.UpsertAfterFetch(ctx, p.commitFor(meta))
	if err != nil {
		if cleanupErr := p.removeStale(ctx, job, previous, locator); cleanupErr != nil {
			p.deps.Logger.WithFields(logrus.Fields{"action": "fetch_job", "item_id": id}).
				WithError(cleanupErr).Warn("artifact_cleanup_failed")
		}
		return fmt.Errorf("commit item %d: %w", id, err)
	}

	// 新产物提交后才清理旧位置，保证条目在任何时刻都有可用产物。
	if previous.GameID != 0 && previous.GameID != meta.GameID {
		old := cache.Locator{GameID: previous.GameID, ModID: id}
		if err := p.deps.Store.Remove(ctx, old); err != nil {
			p.deps.Logger.WithFields(logrus.Fields{"action": "fetch_job", "item_id": id, "locator": old.String()}).
				WithError(err).Warn("artifact_cleanup_failed")
		}
	}
	return nil
}

// removeStale 在提交失败时删除刚写入的产物。更新任务写在旧位置上时保留，
// 那里仍是该条目唯一可用的产物。
func (p *Pool) removeStale(ctx context.Context, job index.Job, previous storage.Mod, written cache.Locator) error {
	if job.Updating && previous.GameID == written.GameID {
		return nil
	}
	return p.deps.Store.Remove(ctx, written)
}

func (p *Pool) commitFor(meta upstream.Metadata) storage.ModCommit {
	source := meta.Source
	if source == "" {
		source = p.opts.Source
	}
	return storage.ModCommit{
		Mod: storage.Mod{
			ID:               meta.ID,
			GameID:           meta.GameID,
			Name:             meta.Name,
			ShortDescription: meta.ShortDescription,
			Description:      meta.Description,
			Size:             meta.Size,
			Source:           source,
			CreatedAt:        meta.CreatedAt,
			UpdatedAt:        meta.UpdatedAt,
		},
		Tags:         meta.Tags,
		Dependencies: meta.Dependencies,
		Screenshots:  meta.Screenshots,
		LogoURL:      meta.PreviewURL,
	}
}

// ensureGame 在游戏首次出现时登记它；同一游戏的并发登记只请求一次上游。
func (p *Pool) ensureGame(ctx context.Context, appID uint64) error {
	if appID == 0 || p.deps.Games == nil {
		return nil
	}
	known, err := p.deps.Games.HasGame(ctx, appID)
	if err != nil || known {
		return err
	}

	_, err, _ = p.games.Do(strconv.FormatUint(appID, 10), func() (any, error) {
		if known, err := p.deps.Games.HasGame(ctx, appID); err != nil || known {
			return nil, err
		}
		var app upstream.App
		err := p.gate.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, p.opts.UpstreamTimeout)
			defer cancel()
			started := time.Now()
			var err error
			app, err = p.deps.Fetcher.App(callCtx, appID)
			p.deps.Metrics.ObserveUpstream("app", time.Since(started), err)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("fetch app %d: %w", appID, err)
		}
		game, genres := p.gameFor(appID, app)
		return nil, p.deps.Games.UpsertGame(ctx, game, genres)
	})
	return err
}

func (p *Pool) gameFor(appID uint64, app upstream.App) (storage.Game, []storage.Genre) {
	game := storage.Game{
		ID:               appID,
		Name:             app.Name,
		Type:             app.Type,
		Logo:             app.HeaderImage,
		ShortDescription: app.ShortDescription,
		Description:      app.Description,
		Source:           p.opts.Source,
		CreatedAt:        p.opts.Now().UTC(),
	}
	genres := make([]storage.Genre, 0, len(app.Genres))
	for _, g := range app.Genres {
		genres = append(genres, storage.Genre{ID: g.ID, Name: g.Name})
	}
	return game, genres
}

// fail 记录失败并决定重试或丢弃。上游明确不存在的条目不再重试。
func (p *Pool) fail(job index.Job, cause error) {
	limit := p.opts.MaxRetries
	if errors.Is(cause, upstream.ErrNotFound) {
		limit = 0
	}
	snapshot, requeue, err := p.deps.Index.ReleaseAfterFailure(context.Background(), job.ItemID, limit)
	fields := logging.JobFields(job.ID, job.ItemID, snapshot.Attempts, job.Updating)
	if err != nil {
		p.deps.Logger.WithFields(fields).WithError(err).Error("fetch_release_failed")
	}
	if !requeue {
		p.deps.Metrics.JobFinished("dropped")
		p.deps.Logger.WithFields(fields).WithError(cause).Warn("fetch_job_dropped")
		return
	}

	delay := p.backoff(snapshot.Attempts)
	fields["retry_in"] = delay.String()
	p.deps.Metrics.JobFinished("retry")
	p.deps.Logger.WithFields(fields).WithError(cause).Warn("fetch_job_retry")
	p.schedule(job.ItemID, delay)
}

// backoff 返回 InitialBackoff·2^(attempts-1)，上限 maxBackoff。
func (p *Pool) backoff(attempts int) time.Duration {
	delay := p.opts.InitialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func (p *Pool) schedule(id uint64, delay time.Duration) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	if p.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		p.timersMu.Lock()
		delete(p.timers, t)
		p.timersMu.Unlock()
		p.Submit(id)
	})
	p.timers[t] = struct{}{}
}

func (p *Pool) record(kind stats.Kind, d time.Duration) {
	if p.deps.Stats != nil {
		p.deps.Stats.Record(kind, d)
	}
}

func (p *Pool) increment(event string) {
	if p.deps.Stats != nil {
		p.deps.Stats.Increment(event)
	}
}
