// File: queue/mpsc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MPSC mode: bounded ring with per-slot atomic sequence numbers. For the
// slot at ring index i and lap L (positions are monotonically increasing,
// index = position & mask):
//
//   - seq == position            slot is empty and claimable at position
//   - seq == position + 1        slot holds a published element
//   - seq == position + capacity slot was consumed; empty for the next lap
//
// Producers claim a position by CAS on tail and publish with a release-store
// of seq; the consumer retires a slot with a release-store of
// seq = position + capacity. All seq accesses pair acquire loads with
// release stores; seq-cst is deliberately not used.
//
// The dequeue path is CAS-guarded even though the contract is single
// consumer; that safety margin is what lets the thread pool run several
// workers against one task ring.

package queue

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"

	"github.com/momentics/hioload-aio/api"
)

type mpscSlot[T any] struct {
	seq  atomix.Uint64
	data T
}

type mpscQueue[T any] struct {
	mask  uint64
	slots []mpscSlot[T]
	_     pad
	head  atomix.Uint64 // consumer position, monotonic
	_     pad
	tail  atomix.Uint64 // producer position, monotonic
	_     pad
}

// NewMPSC creates a multi-producer single-consumer ring. capacity is
// rounded up to a power of two; all slots are usable.
func NewMPSC[T any](capacity int) api.Queue[T] {
	size := nextPowerOfTwo(capacity)
	q := &mpscQueue[T]{
		mask:  size - 1,
		slots: make([]mpscSlot[T], size),
	}
	for i := uint64(0); i < size; i++ {
		q.slots[i].seq.StoreRelaxed(i)
	}
	return q
}

func (q *mpscQueue[T]) Enqueue(item T) error {
	sw := spin.Wait{}
	for {
		pos := q.tail.LoadRelaxed()
		slot := &q.slots[pos&q.mask]
		seq := slot.seq.LoadAcquire()
		switch {
		case seq == pos:
			if q.tail.CompareAndSwapAcqRel(pos, pos+1) {
				slot.data = item
				slot.seq.StoreRelease(pos + 1)
				return nil
			}
			// Another producer won the slot; re-read tail.
		case seq < pos:
			// Slot not yet retired from the previous lap: full.
			return iox.ErrWouldBlock
		default:
			// Reserved but not yet published by another producer.
			sw.Once()
		}
	}
}

func (q *mpscQueue[T]) Dequeue() (T, error) {
	var zero T
	sw := spin.Wait{}
	for {
		pos := q.head.LoadRelaxed()
		slot := &q.slots[pos&q.mask]
		seq := slot.seq.LoadAcquire()
		switch {
		case seq == pos+1:
			if q.head.CompareAndSwapAcqRel(pos, pos+1) {
				item := slot.data
				slot.data = zero
				slot.seq.StoreRelease(pos + uint64(len(q.slots)))
				return item, nil
			}
			// Another consumer advanced head; re-read.
		case seq == pos:
			return zero, iox.ErrWouldBlock
		default:
			// Stale head view (slot already retired this lap).
			sw.Once()
		}
	}
}

// Peek is only meaningful from the consumer side.
func (q *mpscQueue[T]) Peek() (T, error) {
	var zero T
	pos := q.head.LoadRelaxed()
	slot := &q.slots[pos&q.mask]
	if slot.seq.LoadAcquire() != pos+1 {
		return zero, iox.ErrWouldBlock
	}
	return slot.data, nil
}

// Len is best-effort under concurrency; torn reads clamp to [0, Cap].
func (q *mpscQueue[T]) Len() int {
	head := q.head.LoadAcquire()
	tail := q.tail.LoadAcquire()
	n := int64(tail) - int64(head)
	if n < 0 {
		n = 0
	}
	if n > int64(len(q.slots)) {
		n = int64(len(q.slots))
	}
	return int(n)
}

func (q *mpscQueue[T]) Cap() int { return len(q.slots) }

// Clear discards all elements. Caller guarantees no concurrent producers.
func (q *mpscQueue[T]) Clear() {
	for {
		if _, err := q.Dequeue(); err != nil {
			return
		}
	}
}

// Range iterates a best-effort snapshot in FIFO order, skipping slots whose
// publication it cannot observe.
func (q *mpscQueue[T]) Range(fn func(item T) bool) {
	head := q.head.LoadAcquire()
	tail := q.tail.LoadAcquire()
	for pos := head; pos != tail; pos++ {
		slot := &q.slots[pos&q.mask]
		if slot.seq.LoadAcquire() != pos+1 {
			continue
		}
		if !fn(slot.data) {
			return
		}
	}
}
