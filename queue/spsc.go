// File: queue/spsc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SPSC mode: fixed power-of-two ring with masked head/tail indices. One slot
// stays reserved to disambiguate full from empty, so a ring of capacity C
// accepts C-1 elements. The producer release-stores tail after writing the
// slot; the consumer acquire-loads tail before reading and release-stores
// head after, which is the entire synchronization protocol.

package queue

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/momentics/hioload-aio/api"
)

type spscQueue[T any] struct {
	mask uint64
	data []T
	_    pad
	head atomix.Uint64 // consumer-owned masked index
	_    pad
	tail atomix.Uint64 // producer-owned masked index
	_    pad
}

// NewSPSC creates a single-producer single-consumer ring. capacity is
// rounded up to a power of two; usable capacity is one less.
func NewSPSC[T any](capacity int) api.Queue[T] {
	size := nextPowerOfTwo(capacity)
	return &spscQueue[T]{
		mask: size - 1,
		data: make([]T, size),
	}
}

func (q *spscQueue[T]) Enqueue(item T) error {
	tail := q.tail.LoadRelaxed()
	next := (tail + 1) & q.mask
	if next == q.head.LoadAcquire() {
		return iox.ErrWouldBlock
	}
	q.data[tail] = item
	q.tail.StoreRelease(next)
	return nil
}

func (q *spscQueue[T]) Dequeue() (T, error) {
	var zero T
	head := q.head.LoadRelaxed()
	if head == q.tail.LoadAcquire() {
		return zero, iox.ErrWouldBlock
	}
	item := q.data[head]
	q.data[head] = zero
	q.head.StoreRelease((head + 1) & q.mask)
	return item, nil
}

func (q *spscQueue[T]) Peek() (T, error) {
	var zero T
	head := q.head.LoadRelaxed()
	if head == q.tail.LoadAcquire() {
		return zero, iox.ErrWouldBlock
	}
	return q.data[head], nil
}

// Len is exact when called from either endpoint's thread, best-effort under
// torn reads, and always within [0, Cap].
func (q *spscQueue[T]) Len() int {
	head := q.head.LoadAcquire()
	tail := q.tail.LoadAcquire()
	return int((tail - head) & q.mask)
}

func (q *spscQueue[T]) Cap() int { return len(q.data) }

// Clear discards all elements. Caller guarantees the producer is quiescent.
func (q *spscQueue[T]) Clear() {
	for {
		if _, err := q.Dequeue(); err != nil {
			return
		}
	}
}

func (q *spscQueue[T]) Range(fn func(item T) bool) {
	head := q.head.LoadAcquire()
	tail := q.tail.LoadAcquire()
	for i := head; i != tail; i = (i + 1) & q.mask {
		if !fn(q.data[i]) {
			return
		}
	}
}
