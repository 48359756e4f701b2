// Package queue is the bounded hand-off between score commits and alert delivery.
//
// Enqueue never blocks: when the buffer is full the alert is dropped and
// counted, so a slow notifier cannot stall scoring.
package queue

import (
	"context"
	"sync"

	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/metrics"
)

const defaultCapacity = 1024

// Alert is the payload flowing through the queue.
type Alert = model.RiskAlert

// Queue provides non-blocking enqueue and channel-based dequeue.
type Queue interface {
	// Enqueue returns ErrFull or ErrClosed when the alert was not accepted.
	Enqueue(ctx context.Context, a Alert) error
	// Dequeue returns a channel closed after Close once drained.
	Dequeue(ctx context.Context) <-chan Alert
	Len() int
	Close() error
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	alerts   chan Alert
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue returns an open queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.alerts = make(chan Alert, q.capacity)
	metrics.UpdateAlertQueueCapacity(q.capacity)
	metrics.UpdateAlertQueueSize(0)
	return q
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, a Alert) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.RecordAlertDropped("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordAlertDropped("context_cancelled")
		return err
	}
	select {
	case q.alerts <- a:
		metrics.RecordAlertEnqueued()
		metrics.UpdateAlertQueueSize(len(q.alerts))
		return nil
	default:
		metrics.RecordAlertDropped("full")
		return ErrFull
	}
}

// Dequeue implements Queue. Every call returns the same underlying channel,
// so several workers share the backlog.
func (q *InMemoryQueue) Dequeue(_ context.Context) <-chan Alert {
	return q.alerts
}

// Len returns the number of waiting alerts.
func (q *InMemoryQueue) Len() int {
	n := len(q.alerts)
	metrics.UpdateAlertQueueSize(n)
	return n
}

// Close stops accepting alerts. Alerts already buffered are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.alerts)
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
