// File: queue/normal.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Normal mode: unsynchronized growable ring over eapache/queue. The ring
// doubles its capacity when full, so Enqueue only fails on allocation
// exhaustion, which Go surfaces as a runtime error rather than a return.
// Single-threaded contract: callers needing multi-thread safety must supply
// external locking, as the thread pool does for its Normal configuration.

package queue

import (
	"code.hybscloud.com/iox"
	eaq "github.com/eapache/queue"

	"github.com/momentics/hioload-aio/api"
)

type normalQueue[T any] struct {
	ring *eaq.Queue
}

// NewNormal creates an unbounded single-threaded FIFO queue.
func NewNormal[T any]() api.Queue[T] {
	return &normalQueue[T]{ring: eaq.New()}
}

func (q *normalQueue[T]) Enqueue(item T) error {
	q.ring.Add(item)
	return nil
}

func (q *normalQueue[T]) Dequeue() (T, error) {
	var zero T
	if q.ring.Length() == 0 {
		return zero, iox.ErrWouldBlock
	}
	return q.ring.Remove().(T), nil
}

func (q *normalQueue[T]) Peek() (T, error) {
	var zero T
	if q.ring.Length() == 0 {
		return zero, iox.ErrWouldBlock
	}
	return q.ring.Peek().(T), nil
}

func (q *normalQueue[T]) Len() int { return q.ring.Length() }

// Cap returns -1: the ring grows on demand.
func (q *normalQueue[T]) Cap() int { return -1 }

func (q *normalQueue[T]) Clear() {
	q.ring = eaq.New()
}

func (q *normalQueue[T]) Range(fn func(item T) bool) {
	for i := 0; i < q.ring.Length(); i++ {
		if !fn(q.ring.Get(i).(T)) {
			return
		}
	}
}
