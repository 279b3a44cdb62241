package framed

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO, so read loops never block on slow consumers.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	err    error
	notify chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.err == nil {
		q.items = append(q.items, v)
	}
	q.mu.Unlock()
	q.wake()
}

// Fail makes Pop return err once the queue is drained.
func (q *Queue[T]) Fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	q.wake()
}

func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0 || q.err != nil
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return v, nil
		}
		if err := q.err; err != nil {
			q.mu.Unlock()
			q.wake()
			var zero T
			return zero, err
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
