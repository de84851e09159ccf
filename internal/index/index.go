// Package index owns the availability state of every known item and the
// registry of live fetch jobs. All state changes go through per-item locks
// so concurrent callers for the same id observe one consistent decision.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

var (
	// ErrNotFound 表示索引中不存在该条目。
	ErrNotFound = storage.ErrNotFound
	// ErrNoJob 表示条目当前没有存活的抓取任务。
	ErrNoJob = errors.New("no live job")
	// ErrDownloaded 表示条目已可直接提供，无需入队。
	ErrDownloaded = errors.New("item already downloaded")
)

// Persistence 是索引依赖的持久层，由 storage/sqlite 实现。
type Persistence interface {
	GetMod(ctx context.Context, id uint64) (storage.Mod, error)
	CreatePendingMod(ctx context.Context, id uint64, source string, condition int, now time.Time) (bool, error)
	UpdateCondition(ctx context.Context, id uint64, from, to int) (bool, error)
	CommitMod(ctx context.Context, commit storage.ModCommit) error
	DeleteMod(ctx context.Context, id uint64) (bool, error)
	ResetConditions(ctx context.Context, from, to int) (int64, error)
	ModIDsByCondition(ctx context.Context, condition int) ([]uint64, error)
	RecordDownload(ctx context.Context, id uint64, at time.Time) error
}

// Job 描述一个存活的抓取任务。
type Job struct {
	ID           string    `json:"id"`
	ItemID       uint64    `json:"item_id"`
	Attempts     int       `json:"attempts"`
	Unsuccessful bool      `json:"unsuccessful_attempts"`
	Updating     bool      `json:"updating"`
	CreatedAt    time.Time `json:"created_at"`
}

// Options 控制索引的来源标记与时钟。
type Options struct {
	Source string
	Now    func() time.Time
}

// Index 是条目状态机与任务表的唯一所有者。
type Index struct {
	db     Persistence
	source string
	now    func() time.Time

	mu    sync.Mutex
	locks map[uint64]*entryLock

	jobsMu sync.RWMutex
	jobs   map[uint64]*Job
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// New 构建索引实例。
func New(db Persistence, opts Options) *Index {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Index{
		db:     db,
		source: opts.Source,
		now:    now,
		locks:  make(map[uint64]*entryLock),
		jobs:   make(map[uint64]*Job),
	}
}

func (ix *Index) lock(id uint64) func() {
	ix.mu.Lock()
	l := ix.locks[id]
	if l == nil {
		l = &entryLock{}
		ix.locks[id] = l
	}
	l.refs++
	ix.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		ix.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(ix.locks, id)
		}
		ix.mu.Unlock()
	}
}

// Get 返回条目快照，无副作用。
func (ix *Index) Get(ctx context.Context, id uint64) (storage.Mod, error) {
	return ix.db.GetMod(ctx, id)
}

// LiveJob 返回条目当前的任务副本。
func (ix *Index) LiveJob(id uint64) (Job, bool) {
	ix.jobsMu.RLock()
	defer ix.jobsMu.RUnlock()
	job, ok := ix.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Enqueue 为条目登记任务。已有存活任务时直接返回该任务且 created=false；
// 条目不存在时以 Pending 状态创建记录。
func (ix *Index) Enqueue(ctx context.Context, id uint64) (Job, bool, error) {
	unlock := ix.lock(id)
	defer unlock()

	if job, ok := ix.LiveJob(id); ok {
		return job, false, nil
	}

	mod, err := ix.db.GetMod(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if _, err := ix.db.CreatePendingMod(ctx, id, ix.source, int(Pending), ix.now().UTC()); err != nil {
			return Job{}, false, fmt.Errorf("create pending item: %w", err)
		}
	case err != nil:
		return Job{}, false, err
	default:
		switch Condition(mod.Condition) {
		case Downloaded:
			return Job{}, false, ErrDownloaded
		case Fetching:
			// 没有任务却处于 Fetching，只可能是任务被丢弃前的残留。
			if _, err := ix.db.UpdateCondition(ctx, id, int(Fetching), int(Pending)); err != nil {
				return Job{}, false, err
			}
		}
	}

	return ix.register(id, false), true, nil
}

func (ix *Index) register(id uint64, updating bool) Job {
	job := &Job{
		ID:        uuid.NewString(),
		ItemID:    id,
		Updating:  updating,
		CreatedAt: ix.now().UTC(),
	}
	ix.jobsMu.Lock()
	ix.jobs[id] = job
	ix.jobsMu.Unlock()
	return *job
}

func (ix *Index) dropJob(id uint64) {
	ix.jobsMu.Lock()
	delete(ix.jobs, id)
	ix.jobsMu.Unlock()
}

// Abandon 丢弃尚未被认领的任务，条目停留在 Pending。队列拒收时由入队方调用。
func (ix *Index) Abandon(ctx context.Context, id uint64) error {
	unlock := ix.lock(id)
	defer unlock()

	if _, ok := ix.LiveJob(id); !ok {
		return ErrNoJob
	}
	ix.dropJob(id)
	mod, err := ix.db.GetMod(ctx, id)
	if err != nil {
		return err
	}
	if Condition(mod.Condition) == Fetching {
		if _, err := ix.db.UpdateCondition(ctx, id, int(Fetching), int(Pending)); err != nil {
			return fmt.Errorf("abandon item: %w", err)
		}
	}
	return nil
}

// Claim 将条目从 Pending 迁移到 Fetching，由 worker 在出队后调用。
func (ix *Index) Claim(ctx context.Context, id uint64) (Job, error) {
	unlock := ix.lock(id)
	defer unlock()

	job, ok := ix.LiveJob(id)
	if !ok {
		return Job{}, ErrNoJob
	}
	moved, err := ix.db.UpdateCondition(ctx, id, int(Pending), int(Fetching))
	if err != nil {
		return Job{}, fmt.Errorf("claim item: %w", err)
	}
	if !moved {
		mod, err := ix.db.GetMod(ctx, id)
		if err != nil {
			ix.dropJob(id)
			return Job{}, err
		}
		return Job{}, Transition(Condition(mod.Condition), Fetching)
	}
	return job, nil
}

// UpsertAfterFetch 原子地写入抓取结果、置为 Downloaded 并清除任务，
// 返回提交前的记录，调用方据此在提交后清理旧产物。
func (ix *Index) UpsertAfterFetch(ctx context.Context, commit storage.ModCommit) (storage.Mod, error) {
	id := commit.Mod.ID
	unlock := ix.lock(id)
	defer unlock()

	previous, err := ix.db.GetMod(ctx, id)
	if err != nil {
		return storage.Mod{}, err
	}
	if err := Transition(Condition(previous.Condition), Downloaded); err != nil {
		return storage.Mod{}, err
	}
	if err := ix.db.CommitMod(ctx, commit); err != nil {
		return storage.Mod{}, fmt.Errorf("commit item: %w", err)
	}
	ix.dropJob(id)
	return previous, nil
}

// ReleaseAfterFailure 将 Fetching 退回 Pending 并记录失败次数。attempts 未超过
// maxRetries 时任务保留并返回 requeue=true，否则丢弃任务，条目停留在 Pending。
func (ix *Index) ReleaseAfterFailure(ctx context.Context, id uint64, maxRetries int) (Job, bool, error) {
	unlock := ix.lock(id)
	defer unlock()

	ix.jobsMu.Lock()
	job, ok := ix.jobs[id]
	if !ok {
		ix.jobsMu.Unlock()
		return Job{}, false, ErrNoJob
	}
	job.Attempts++
	job.Unsuccessful = true
	snapshot := *job
	requeue := job.Attempts <= maxRetries
	ix.jobsMu.Unlock()

	_, err := ix.db.UpdateCondition(ctx, id, int(Fetching), int(Pending))
	if !requeue {
		ix.dropJob(id)
	}
	if err != nil {
		return snapshot, requeue, fmt.Errorf("release item: %w", err)
	}
	return snapshot, requeue, nil
}

// MarkDamagedAndRemove 删除产物缺失的 Downloaded 记录。只有真正执行删除的
// 调用方得到 true，保证 damaged 只上报一次。
func (ix *Index) MarkDamagedAndRemove(ctx context.Context, id uint64) (bool, error) {
	unlock := ix.lock(id)
	defer unlock()

	mod, err := ix.db.GetMod(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if Condition(mod.Condition) != Downloaded {
		return false, nil
	}
	if _, ok := ix.LiveJob(id); ok {
		return false, nil
	}
	deleted, err := ix.db.DeleteMod(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove damaged item: %w", err)
	}
	return deleted, nil
}

// BeginInvalidation 仅在没有存活任务时把 Downloaded 退回 Pending，
// 并登记 updating 任务。返回是否真正发生迁移。
func (ix *Index) BeginInvalidation(ctx context.Context, id uint64) (Job, bool, error) {
	unlock := ix.lock(id)
	defer unlock()

	if _, ok := ix.LiveJob(id); ok {
		return Job{}, false, nil
	}
	moved, err := ix.db.UpdateCondition(ctx, id, int(Downloaded), int(Pending))
	if err != nil {
		return Job{}, false, fmt.Errorf("begin invalidation: %w", err)
	}
	if !moved {
		return Job{}, false, nil
	}
	return ix.register(id, true), true, nil
}

// Recover 在启动预热时把崩溃时仍在抓取的条目退回 Pending 并返回它们供重新入队。
// 其余 Pending 条目（被丢弃的任务、排队未认领的任务）不主动抓取，等客户端再次请求时入队。
func (ix *Index) Recover(ctx context.Context) ([]uint64, error) {
	ids, err := ix.db.ModIDsByCondition(ctx, int(Fetching))
	if err != nil {
		return nil, fmt.Errorf("list fetching items: %w", err)
	}
	if _, err := ix.db.ResetConditions(ctx, int(Fetching), int(Pending)); err != nil {
		return nil, fmt.Errorf("reset fetching items: %w", err)
	}
	return ids, nil
}

// RecordDownload 更新下载计数与最近请求时间。
func (ix *Index) RecordDownload(ctx context.Context, id uint64) error {
	return ix.db.RecordDownload(ctx, id, ix.now().UTC())
}

// Jobs 返回全部存活任务，按创建时间排序。
func (ix *Index) Jobs() []Job {
	ix.jobsMu.RLock()
	out := make([]Job, 0, len(ix.jobs))
	for _, job := range ix.jobs {
		out = append(out, *job)
	}
	ix.jobsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// JobCount 返回存活任务数量。
func (ix *Index) JobCount() int {
	ix.jobsMu.RLock()
	defer ix.jobsMu.RUnlock()
	return len(ix.jobs)
}
