package jobstore

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with the same delay and dedup
// semantics as the Redis implementation. Tests drain it directly.
type MemoryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[string][]entry
	seen   map[string]bool
	closed bool
}

type entry struct {
	job     *Job
	readyAt time.Time
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		queues: make(map[string][]entry),
		seen:   make(map[string]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, queue string, job *Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := queue + ":" + job.ID
	if q.seen[key] {
		return nil
	}
	q.seen[key] = true
	q.queues[queue] = append(q.queues[queue], entry{job: job, readyAt: time.Now().Add(delay)})
	q.cond.Broadcast()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, context.Canceled
		}
		now := time.Now()
		items := q.queues[queue]
		for i, e := range items {
			if !e.readyAt.After(now) {
				q.queues[queue] = append(items[:i:i], items[i+1:]...)
				q.mu.Unlock()
				return e.job, nil
			}
		}
		q.mu.Unlock()

		if timeout > 0 && time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Len reports how many jobs are parked on the queue, due or not.
func (q *MemoryQueue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}
