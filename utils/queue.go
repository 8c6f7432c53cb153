package utils

import (
	"context"
	"errors"
)

var (
	ErrClosed   = errors.New("carbonara: queue is closed")
	ErrOverflow = errors.New("carbonara: queue is overflowed")
)

// Queue is a bounded blocking queue connecting producer and consumer
// goroutines. Drain appends, Feed removes; both suspend until they can
// proceed or until either the queue or the caller's context is done.
// Close is idempotent; items still buffered at close time are dropped,
// which is the right thing for a connection being torn down.
type Queue[T any] struct {
	ctx   context.Context
	stop  context.CancelFunc
	items chan T
}

func NewQueue[T any](limit int) *Queue[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T]{
		ctx:   ctx,
		stop:  cancel,
		items: make(chan T, limit),
	}
}

func (q *Queue[T]) Close() error {
	q.stop()
	return nil
}

func (q *Queue[T]) Closed() bool {
	return q.ctx.Err() != nil
}

func (q *Queue[T]) Size() int {
	if q.ctx.Err() != nil {
		return 0
	}
	return len(q.items)
}

// Drain enqueues one item, blocking while the queue is full. All drains
// from a single goroutine are observed by Feed in drain order.
func (q *Queue[T]) Drain(ctx context.Context, item T) error {
	if q.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case q.items <- item:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryDrain enqueues without blocking. ErrOverflow signals a full queue;
// the fan-out path uses this so one slow consumer cannot stall the rest.
func (q *Queue[T]) TryDrain(item T) error {
	if q.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case q.items <- item:
		return nil
	default:
		return ErrOverflow
	}
}

// Items exposes the buffer for single-consumer select loops; pair it
// with Done to observe closure.
func (q *Queue[T]) Items() <-chan T {
	return q.items
}

func (q *Queue[T]) Done() <-chan struct{} {
	return q.ctx.Done()
}

// Feed dequeues one item, blocking while the queue is empty.
func (q *Queue[T]) Feed(ctx context.Context) (item T, err error) {
	if q.ctx.Err() != nil {
		return item, ErrClosed
	}

	select {
	case item = <-q.items:
		return item, nil
	case <-q.ctx.Done():
		return item, ErrClosed
	case <-ctx.Done():
		return item, ctx.Err()
	}
}
