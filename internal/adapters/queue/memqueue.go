package queue

import (
	"context"
	"sync"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// MemQueue is a bounded in-memory delivery queue that preserves FIFO
// ordering. Overflow behavior is policy-driven: block the producer, reject
// the newest, or discard the oldest. Designed for many producers and a
// single consumer; the consumer drains remaining items after Close.
type MemQueue struct {
	mu      sync.Mutex
	items   []*domain.Delivery
	cap     int
	policy  ports.OverflowPolicy
	closed  bool
	dropped int64

	notEmpty chan struct{}
	notFull  chan struct{}
	closeCh  chan struct{}
}

func NewMemQueue(capacity int, policy ports.OverflowPolicy) *MemQueue {
	if capacity <= 0 {
		capacity = 256
	}
	if !policy.Valid() {
		policy = ports.OverflowBlock
	}
	return &MemQueue{
		items:    make([]*domain.Delivery, 0, capacity),
		cap:      capacity,
		policy:   policy,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
}

func (q *MemQueue) Enqueue(ctx context.Context, d *domain.Delivery) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ports.ErrQueueClosed
		}
		if len(q.items) < q.cap {
			q.items = append(q.items, d)
			q.mu.Unlock()
			q.signal(q.notEmpty)
			return nil
		}

		switch q.policy {
		case ports.OverflowDropNewest:
			q.mu.Unlock()
			return ports.ErrQueueFull
		case ports.OverflowDropOldest:
			q.items = append(q.items[:0], q.items[1:]...)
			q.items = append(q.items, d)
			q.dropped++
			q.mu.Unlock()
			q.signal(q.notEmpty)
			return nil
		default: // block
			q.mu.Unlock()
			select {
			case <-q.notFull:
			case <-q.closeCh:
				return ports.ErrQueueClosed
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (q *MemQueue) Dequeue(ctx context.Context) (*domain.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items = append(q.items[:0], q.items[1:]...)
			q.mu.Unlock()
			q.signal(q.notFull)
			return d, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ports.ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
		case <-q.closeCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports how many deliveries the drop-oldest policy has discarded.
func (q *MemQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *MemQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closeCh)
}

// signal leaves at most one wakeup hint; waiters re-check state after
// waking, so a coalesced hint is enough.
func (q *MemQueue) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

var _ ports.DeliveryQueue = (*MemQueue)(nil)
