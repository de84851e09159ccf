package stats

import (
	"sync"
	"time"
)

// RingSize 是延迟样本窗口的长度。
const RingSize = 20

// Kind 区分样本来自缓存命中路径还是首次抓取路径。
type Kind string

const (
	Fast Kind = "fast"
	Full Kind = "full"
)

// Sample 是一次处理耗时记录。
type Sample struct {
	At       time.Time
	Duration time.Duration
	Kind     Kind
}

// Ring 保存最近 RingSize 个样本，写入时覆盖最旧的样本。
type Ring struct {
	mu      sync.Mutex
	samples [RingSize]Sample
	next    int
	count   int
}

// Add 写入一个样本。
func (r *Ring) Add(s Sample) {
	r.mu.Lock()
	r.samples[r.next] = s
	r.next = (r.next + 1) % RingSize
	if r.count < RingSize {
		r.count++
	}
	r.mu.Unlock()
}

// Len 返回当前样本数量。
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Snapshot 按从旧到新的顺序返回样本副本。
func (r *Ring) Snapshot() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, 0, r.count)
	start := (r.next - r.count + RingSize) % RingSize
	for i := 0; i < r.count; i++ {
		out = append(out, r.samples[(start+i)%RingSize])
	}
	return out
}

// Mean 返回指定类型样本的平均耗时，没有样本时为 0。
func (r *Ring) Mean(kind Kind) time.Duration {
	var (
		total time.Duration
		n     int
	)
	for _, s := range r.Snapshot() {
		if s.Kind == kind {
			total += s.Duration
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
