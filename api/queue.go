// File: api/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded FIFO queue contract shared by the loop and the thread pool.

package api

// Queue is the FIFO contract implemented by the queue package in its three
// modes (Normal, SPSC, MPSC). Operations never block: full and empty are
// ordinary iox.ErrWouldBlock returns, not failures.
type Queue[T any] interface {
	// Enqueue appends item; iox.ErrWouldBlock when the ring is full.
	Enqueue(item T) error

	// Dequeue removes and returns the oldest item; iox.ErrWouldBlock when
	// empty.
	Dequeue() (T, error)

	// Peek returns the oldest item without removing it.
	Peek() (T, error)

	// Len returns the current element count. Under concurrent access the
	// value is best-effort but always within [0, Cap].
	Len() int

	// Cap returns the fixed capacity, or -1 for growable queues.
	Cap() int

	// Clear discards all elements. The caller must guarantee no concurrent
	// producers for the SPSC and MPSC modes.
	Clear()

	// Range calls fn on a best-effort snapshot of the queued elements in
	// FIFO order, stopping early when fn returns false.
	Range(fn func(item T) bool)
}
