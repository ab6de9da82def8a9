package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue with the same lease semantics as the
// Redis implementation. It backs tests and single-process deployments.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Item
	leased  map[string]*memoryLease
	wake    chan struct{}
	closed  bool

	// PopWait bounds how long Pop blocks before returning ErrEmpty.
	PopWait time.Duration

	// now is injectable for lease-expiry tests.
	now func() time.Time
}

type memoryLease struct {
	item     Item
	deadline time.Time
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		leased:  make(map[string]*memoryLease),
		wake:    make(chan struct{}, 1),
		PopWait: time.Second,
		now:     time.Now,
	}
}

func (q *MemoryQueue) Push(ctx context.Context, item Item) error {
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, lease time.Duration) (Handle, error) {
	deadline := time.NewTimer(q.PopWait)
	defer deadline.Stop()
	for {
		if h := q.tryClaim(lease); h != nil {
			return h, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrEmpty
		case <-q.wake:
		}
	}
}

// tryClaim reclaims expired leases, then claims the head of the pending
// queue, if any.
func (q *MemoryQueue) tryClaim(lease time.Duration) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for token, l := range q.leased {
		if !l.deadline.After(now) {
			q.pending = append(q.pending, l.item)
			delete(q.leased, token)
		}
	}

	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	token := uuid.NewString()
	q.leased[token] = &memoryLease{item: item, deadline: now.Add(lease)}
	return &memoryHandle{queue: q, token: token, item: item}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Depth returns pending and leased counts, for metrics.
func (q *MemoryQueue) Depth() (pending, leased int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.leased)
}

type memoryHandle struct {
	queue *MemoryQueue
	token string
	item  Item
}

func (h *memoryHandle) Item() Item { return h.item }

func (h *memoryHandle) Renew(ctx context.Context, lease time.Duration) error {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	l, ok := h.queue.leased[h.token]
	if !ok {
		return ErrLeaseLost
	}
	l.deadline = h.queue.now().Add(lease)
	return nil
}

func (h *memoryHandle) Release(ctx context.Context) error {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	if _, ok := h.queue.leased[h.token]; !ok {
		return ErrLeaseLost
	}
	delete(h.queue.leased, h.token)
	return nil
}

func (h *memoryHandle) Abandon(ctx context.Context) error {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	l, ok := h.queue.leased[h.token]
	if !ok {
		return ErrLeaseLost
	}
	delete(h.queue.leased, h.token)
	h.queue.pending = append(h.queue.pending, l.item)
	return nil
}
