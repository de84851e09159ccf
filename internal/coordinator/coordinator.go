// Package coordinator decides what happens when a client asks for an item:
// serve the cached artifact, queue a fetch, report an in-flight job, or
// report a damaged record. It never touches the upstream itself.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/open-workshop/workshop-cache/internal/cache"
	"github.com/open-workshop/workshop-cache/internal/index"
	"github.com/open-workshop/workshop-cache/internal/logging"
	"github.com/open-workshop/workshop-cache/internal/metrics"
	"github.com/open-workshop/workshop-cache/internal/stats"
	"github.com/open-workshop/workshop-cache/internal/storage"
)

// Kind 是一次请求的判定结果。
type Kind string

const (
	Served            Kind = "served"
	Queued            Kind = "queued"
	AlreadyProcessing Kind = "already_processing"
	NotReady          Kind = "not_ready"
	Damaged           Kind = "damaged"
	NotFound          Kind = "not_found"
)

// Code 返回对外的状态码。1xx 不是最终 HTTP 状态，由 HTTP 层放进响应体。
func (k Kind) Code() int {
	switch k {
	case Served:
		return 200
	case Queued:
		return 202
	case AlreadyProcessing:
		return 102
	case NotReady:
		return 103
	default:
		return 404
	}
}

// Outcome 描述判定结果。Kind 为 Served 时 Artifact 非空，调用方负责关闭。
type Outcome struct {
	Kind     Kind
	Item     storage.Mod
	Job      index.Job
	Artifact *cache.ReadResult
}

// Queue 接收新任务，由 worker.Pool 实现。
type Queue interface {
	Submit(id uint64) bool
	QueueLen() int
}

// Checker 在缓存命中时触发失效检查，由 invalidate.Manager 实现。
type Checker interface {
	Check(id uint64) bool
}

// Counter 记录事件计数。
type Counter interface {
	Increment(event string)
}

// Deps 汇总协调器的协作者。Checker、Stats、Metrics 可以为空。
type Deps struct {
	Index   *index.Index
	Store   cache.Store
	Queue   Queue
	Checker Checker
	Stats   Counter
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
}

// Coordinator 是 "请求条目" 的唯一入口。
type Coordinator struct {
	deps  Deps
	ready atomic.Bool
}

// New 构建协调器，初始状态为未就绪。
func New(deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Coordinator{deps: deps}
}

// SetReady 标记首次预热完成。
func (c *Coordinator) SetReady() {
	c.ready.Store(true)
}

// Ready 表示是否已完成预热。
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// Request 处理 /download/steam/:id。最多两轮判定：第一轮观察到的状态在加锁
// 操作时已变化（例如刚被删除或刚完成下载）时重新判定一次。
func (c *Coordinator) Request(ctx context.Context, id uint64) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	for pass := 0; pass < 2; pass++ {
		var retry bool
		out, retry, err = c.request(ctx, id)
		if err != nil || !retry {
			break
		}
	}
	if err == nil && out.Kind == "" {
		// 两轮都在竞争中落空，让客户端稍后再问。
		out = Outcome{Kind: AlreadyProcessing}
	}
	if err == nil {
		c.deps.Metrics.RequestOutcome(string(out.Kind))
	}
	return out, err
}

func (c *Coordinator) request(ctx context.Context, id uint64) (Outcome, bool, error) {
	if job, ok := c.deps.Index.LiveJob(id); ok {
		return Outcome{Kind: AlreadyProcessing, Job: job}, false, nil
	}

	mod, err := c.deps.Index.Get(ctx, id)
	switch {
	case errors.Is(err, index.ErrNotFound):
		if !c.Ready() {
			return Outcome{Kind: NotReady}, false, nil
		}
		return c.enqueue(ctx, id)
	case err != nil:
		return Outcome{}, false, fmt.Errorf("get item %d: %w", id, err)
	}

	if index.Condition(mod.Condition) != index.Downloaded {
		return c.enqueue(ctx, id)
	}

	out, retry, err := c.serve(ctx, mod)
	if err == nil && out.Kind == Served && c.deps.Checker != nil {
		c.deps.Checker.Check(id)
	}
	return out, retry, err
}

func (c *Coordinator) enqueue(ctx context.Context, id uint64) (Outcome, bool, error) {
	job, created, err := c.deps.Index.Enqueue(ctx, id)
	if errors.Is(err, index.ErrDownloaded) {
		return Outcome{}, true, nil
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("enqueue item %d: %w", id, err)
	}
	if !created {
		return Outcome{Kind: AlreadyProcessing, Job: job}, false, nil
	}
	if !c.deps.Queue.Submit(id) {
		c.reject(ctx, job)
		return Outcome{Kind: NotReady}, false, nil
	}
	c.deps.Metrics.SetLiveJobs(c.deps.Index.JobCount())
	c.deps.Logger.WithFields(logging.JobFields(job.ID, id, job.Attempts, job.Updating)).Info("fetch_job_queued")
	return Outcome{Kind: Queued, Job: job}, false, nil
}

// reject 撤销队列拒收的任务，避免条目永久挂在存活任务表里。
func (c *Coordinator) reject(ctx context.Context, job index.Job) {
	if err := c.deps.Index.Abandon(ctx, job.ItemID); err != nil && !errors.Is(err, index.ErrNoJob) {
		c.deps.Logger.WithError(err).WithField("item_id", job.ItemID).Warn("fetch_job_abandon_failed")
	}
	c.deps.Metrics.SetLiveJobs(c.deps.Index.JobCount())
	c.deps.Logger.WithFields(logging.JobFields(job.ID, job.ItemID, job.Attempts, job.Updating)).Warn("fetch_job_rejected")
}

// serve 打开 Downloaded 条目的产物；产物缺失时删除记录并只向一个调用方报告 damaged。
func (c *Coordinator) serve(ctx context.Context, mod storage.Mod) (Outcome, bool, error) {
	locator := cache.Locator{GameID: mod.GameID, ModID: mod.ID}
	res, err := c.deps.Store.Get(ctx, locator)
	switch {
	case err == nil:
		c.delivered(ctx, mod)
		return Outcome{Kind: Served, Item: mod, Artifact: res}, false, nil
	case !errors.Is(err, cache.ErrNotFound):
		return Outcome{}, false, fmt.Errorf("open artifact %s: %w", locator, err)
	}

	removed, err := c.deps.Index.MarkDamagedAndRemove(ctx, mod.ID)
	if err != nil {
		return Outcome{}, false, err
	}
	if !removed {
		return Outcome{}, true, nil
	}
	c.increment(stats.EventDamagedMod)
	c.deps.Logger.WithFields(logging.ItemFields("serve_item", mod.ID, mod.Source, mod.Condition)).
		WithField("locator", locator.String()).Warn("item_damaged")
	return Outcome{Kind: Damaged, Item: mod}, false, nil
}

func (c *Coordinator) delivered(ctx context.Context, mod storage.Mod) {
	if err := c.deps.Index.RecordDownload(ctx, mod.ID); err != nil {
		c.deps.Logger.WithFields(logging.ItemFields("serve_item", mod.ID, mod.Source, mod.Condition)).
			WithError(err).Warn("download_counter_failed")
	}
	c.increment(stats.EventFilesSent)
}

// Serve 处理 /download/:id：只提供已有产物，从不入队。更新进行中旧产物仍可下载。
func (c *Coordinator) Serve(ctx context.Context, id uint64) (Outcome, error) {
	mod, err := c.deps.Index.Get(ctx, id)
	if errors.Is(err, index.ErrNotFound) {
		c.increment(stats.EventModNotFoundLocal)
		return Outcome{Kind: NotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get item %d: %w", id, err)
	}

	if index.Condition(mod.Condition) == index.Downloaded {
		out, retry, err := c.serve(ctx, mod)
		if err != nil {
			return Outcome{}, err
		}
		if retry {
			c.increment(stats.EventModNotFoundLocal)
			return Outcome{Kind: NotFound}, nil
		}
		return out, nil
	}

	if mod.GameID != 0 {
		res, err := c.deps.Store.Get(ctx, cache.Locator{GameID: mod.GameID, ModID: mod.ID})
		if err == nil {
			c.delivered(ctx, mod)
			return Outcome{Kind: Served, Item: mod, Artifact: res}, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return Outcome{}, err
		}
	}
	c.increment(stats.EventModNotFoundLocal)
	return Outcome{Kind: NotFound, Item: mod}, nil
}

// Warmup 把崩溃时中断的抓取恢复为 Pending，重新登记任务后标记就绪。
func (c *Coordinator) Warmup(ctx context.Context) (int, error) {
	ids, err := c.deps.Index.Recover(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		job, created, err := c.deps.Index.Enqueue(ctx, id)
		if errors.Is(err, index.ErrDownloaded) {
			continue
		}
		if err != nil {
			return queued, fmt.Errorf("requeue item %d: %w", id, err)
		}
		if !created {
			continue
		}
		if !c.deps.Queue.Submit(id) {
			c.reject(ctx, job)
			continue
		}
		queued++
	}
	c.SetReady()
	return queued, nil
}

// Status 是诊断接口返回的快照。
type Status struct {
	Ready    bool        `json:"ready"`
	Queue    int         `json:"queue"`
	LiveJobs int         `json:"live_jobs"`
	Jobs     []index.Job `json:"jobs"`
}

// Status 返回就绪状态、队列长度与存活任务。
func (c *Coordinator) Status() Status {
	jobs := c.deps.Index.Jobs()
	return Status{
		Ready:    c.Ready(),
		Queue:    c.deps.Queue.QueueLen(),
		LiveJobs: len(jobs),
		Jobs:     jobs,
	}
}

func (c *Coordinator) increment(event string) {
	if c.deps.Stats != nil {
		c.deps.Stats.Increment(event)
	}
}
