package worker

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate 是访问上游的礼貌闸门：全局并发上限加最小调用间隔，与 worker 数量无关。
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGate 构建闸门。spacing 为 0 时不限制调用间隔。
func NewGate(maxConcurrent int, spacing time.Duration) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Gate{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Do 在占用一个并发槽并等待间隔后执行 fn。
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}
