// Package queue buffers outbound notifications between request handlers and
// the dispatch workers.
package queue

import (
	"context"
	"sync"

	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/pkg/metrics"
)

const defaultCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds msg without blocking. It reports false when the queue is
	// full, closed, or ctx is already done.
	Enqueue(ctx context.Context, msg notify.Message) bool

	// Dequeue returns a channel fed from the queue. It is closed once the
	// queue is closed and drained.
	Dequeue(ctx context.Context) <-chan notify.Message

	Len() int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue on a buffered channel.
type InMemoryQueue struct {
	messages chan notify.Message
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.messages = make(chan notify.Message, q.capacity)
	metrics.UpdateNotifyQueueSize(0)
	return q
}

// Enqueue adds msg to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, msg notify.Message) bool { //nolint:gocritic // hugeParam: passed by value into the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop("closed")
		return false
	}
	if ctx.Err() != nil {
		q.drop("context_cancelled")
		return false
	}

	select {
	case q.messages <- msg:
		metrics.UpdateNotifyQueueSize(len(q.messages))
		return true
	default:
		q.drop("queue_full")
		return false
	}
}

func (q *InMemoryQueue) drop(reason string) {
	metrics.RecordNotifyDropped()
	metrics.RecordErrorByComponent("queue", reason)
}

// Dequeue returns a channel that receives messages as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan notify.Message {
	out := make(chan notify.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-q.messages:
				if !ok {
					return
				}
				metrics.UpdateNotifyQueueSize(len(q.messages))
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of buffered messages.
func (q *InMemoryQueue) Len() int {
	return len(q.messages)
}

// Close stops accepting messages. Buffered messages are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.messages)
	q.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
