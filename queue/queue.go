// File: queue/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Three-mode bounded FIFO queue. Mode is fixed at creation:
//
//   - Normal: unsynchronized growable ring, single-threaded use only.
//   - SPSC:   fixed power-of-two ring, one producer and one consumer.
//   - MPSC:   fixed power-of-two ring with sequence-numbered slots, any
//     number of producers, one consumer (the CAS-guarded dequeue also
//     tolerates multiple consumers, which the thread pool relies on).
//
// Full and empty are ordinary iox.ErrWouldBlock returns; nothing blocks.

package queue

import (
	"fmt"

	"github.com/momentics/hioload-aio/api"
)

// Mode selects the queue discipline at creation time.
type Mode int

const (
	Normal Mode = iota
	SPSC
	MPSC
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case SPSC:
		return "spsc"
	case MPSC:
		return "mpsc"
	default:
		return "unknown"
	}
}

// New creates a queue of the given mode. capacity is rounded up to a power
// of two for the SPSC and MPSC modes and ignored by Normal (which grows).
func New[T any](mode Mode, capacity int) (api.Queue[T], error) {
	switch mode {
	case Normal:
		return NewNormal[T](), nil
	case SPSC:
		return NewSPSC[T](capacity), nil
	case MPSC:
		return NewMPSC[T](capacity), nil
	default:
		return nil, fmt.Errorf("queue: unknown mode %d", int(mode))
	}
}

// nextPowerOfTwo rounds v up to the nearest power of two, minimum 2.
func nextPowerOfTwo(v int) uint64 {
	if v < 2 {
		v = 2
	}
	n := uint64(v)
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// pad separates hot atomic cells onto their own cache lines.
type pad [64]byte
