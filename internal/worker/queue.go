package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 表示队列已关闭，worker 应退出。
var ErrQueueClosed = errors.New("queue closed")

// Queue 是无界 FIFO，每个存活任务占一个位置。
type Queue struct {
	mu     sync.Mutex
	items  []uint64
	closed bool
	notify chan struct{}
	done   chan struct{}
}

// NewQueue 创建空队列。
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push 追加条目；队列关闭后返回 false。
func (q *Queue) Push(id uint64) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, id)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop 阻塞直到有条目、ctx 结束或队列关闭。
func (q *Queue) Pop(ctx context.Context) (uint64, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrQueueClosed
		}
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = 0
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				// 唤醒信号只有一个槽位，取走后还有剩余时转交给下一个等待者。
				q.signal()
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Len 返回等待中的条目数量。
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭队列。尚未取出的条目保持 Pending，客户端再次请求时重新入队。
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
