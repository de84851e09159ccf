// Package invalidate detects upstream updates of cached items. Checks run
// in the background on cache hits and never block the serving path.
package invalidate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-workshop/workshop-cache/internal/index"
	"github.com/open-workshop/workshop-cache/internal/logging"
	"github.com/open-workshop/workshop-cache/internal/stats"
	"github.com/open-workshop/workshop-cache/internal/upstream"
)

// Upstream 提供元信息查询与任务提交，由 worker.Pool 实现。
// Details 必须经过礼貌闸门。
type Upstream interface {
	Details(ctx context.Context, id uint64) (upstream.Metadata, error)
	Submit(id uint64) bool
}

// Counter 记录事件计数。
type Counter interface {
	Increment(event string)
}

// Options 控制同一条目两次检查之间的最小间隔。
type Options struct {
	Interval time.Duration
	Now      func() time.Time
	Logger   *logrus.Logger
}

// Manager 调度失效检查。同一条目同时最多一个检查，且间隔内不重复检查。
type Manager struct {
	index    *index.Index
	upstream Upstream
	counter  Counter
	opts     Options

	running sync.Map // item id -> struct{}
	checked sync.Map // item id -> time.Time
	sweptAt atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 构建失效管理器。counter 可以为空。
func New(ix *index.Index, up Upstream, counter Counter, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		index:    ix,
		upstream: up,
		counter:  counter,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Check 立即返回；需要检查时在后台启动任务并返回 true。
func (m *Manager) Check(id uint64) bool {
	if m.ctx.Err() != nil {
		return false
	}
	now := m.opts.Now()
	m.sweep(now)
	if last, ok := m.checked.Load(id); ok && now.Sub(last.(time.Time)) < m.opts.Interval {
		return false
	}
	if _, busy := m.running.LoadOrStore(id, struct{}{}); busy {
		return false
	}
	m.checked.Store(id, now)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.running.Delete(id)
		m.check(m.ctx, id)
	}()
	return true
}

// sweep 每个间隔最多执行一次，清除已过间隔的检查记录，使 checked 只保留近期命中的条目。
func (m *Manager) sweep(now time.Time) {
	last := m.sweptAt.Load()
	if now.UnixNano()-last < int64(m.opts.Interval) {
		return
	}
	if !m.sweptAt.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	m.checked.Range(func(key, value any) bool {
		if now.Sub(value.(time.Time)) >= m.opts.Interval {
			m.checked.Delete(key)
		}
		return true
	})
}

func (m *Manager) check(ctx context.Context, id uint64) {
	mod, err := m.index.Get(ctx, id)
	if err != nil || index.Condition(mod.Condition) != index.Downloaded {
		return
	}

	meta, err := m.upstream.Details(ctx, id)
	if err != nil {
		m.opts.Logger.WithFields(logging.ItemFields("invalidation_check", id, mod.Source, mod.Condition)).
			WithError(err).Warn("invalidation_check_failed")
		return
	}
	if !meta.UpdatedAt.After(mod.UpdatedAt) {
		return
	}

	job, moved, err := m.index.BeginInvalidation(ctx, id)
	if err != nil {
		m.opts.Logger.WithFields(logging.ItemFields("invalidation_check", id, mod.Source, mod.Condition)).
			WithError(err).Error("invalidation_begin_failed")
		return
	}
	if !moved {
		return
	}
	if !m.upstream.Submit(id) {
		if err := m.index.Abandon(ctx, id); err != nil {
			m.opts.Logger.WithError(err).WithField("item_id", id).Warn("invalidation_abandon_failed")
		}
		m.opts.Logger.WithFields(logging.JobFields(job.ID, id, job.Attempts, job.Updating)).Warn("invalidation_job_rejected")
		return
	}
	if m.counter != nil {
		m.counter.Increment(stats.EventUpdatingMod)
	}
	fields := logging.JobFields(job.ID, id, job.Attempts, job.Updating)
	fields["upstream_updated"] = meta.UpdatedAt
	m.opts.Logger.WithFields(fields).Info("item_invalidated")
}

// Wait 等待全部后台检查结束，主要用于测试。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close 取消进行中的检查并等待其退出。
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
