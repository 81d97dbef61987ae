// File: api/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event mask bits, backend selection, loop run modes and handle typing.

package api

// EventMask describes I/O readiness or completion conditions on a descriptor.
type EventMask uint32

const (
	// EventRead indicates the descriptor is readable (readiness backends)
	// or that a receive-class operation completed (completion backend).
	EventRead EventMask = 1 << iota
	// EventWrite indicates writability or a send-class completion.
	EventWrite
	// EventError indicates an error condition on the descriptor.
	EventError
	// EventHangup indicates the peer closed its end.
	EventHangup
)

// Has reports whether all bits of m are set in e.
func (e EventMask) Has(m EventMask) bool { return e&m == m }

// Any reports whether at least one bit of m is set in e.
func (e EventMask) Any(m EventMask) bool { return e&m != 0 }

// BackendType selects the kernel notification mechanism for a loop.
type BackendType int

const (
	// BackendAuto picks the platform default: epoll on Linux, kqueue on
	// Darwin/BSD, IOCP on Windows.
	BackendAuto BackendType = iota
	BackendEpoll
	BackendIOUring
	BackendKqueue
	BackendIOCP
	BackendSelect
)

// String returns the canonical lower-case backend name.
func (t BackendType) String() string {
	switch t {
	case BackendAuto:
		return "auto"
	case BackendEpoll:
		return "epoll"
	case BackendIOUring:
		return "io_uring"
	case BackendKqueue:
		return "kqueue"
	case BackendIOCP:
		return "iocp"
	case BackendSelect:
		return "select"
	default:
		return "unknown"
	}
}

// RunMode controls how long Loop.Run drives the reactor.
type RunMode int

const (
	// RunDefault runs until no active handles, loop references, pending
	// callbacks or timers remain.
	RunDefault RunMode = iota
	// RunOnce processes one batch of events, blocking for them if needed,
	// then returns.
	RunOnce
	// RunNoWait performs a single non-blocking pass and returns.
	RunNoWait
)

// HandleType tags the concrete resource type behind a handle, used to route
// backend events to the matching handler.
type HandleType int

const (
	HandleTCP HandleType = iota
	HandleUDP
)

// String returns the handle type name.
func (t HandleType) String() string {
	switch t {
	case HandleTCP:
		return "tcp"
	case HandleUDP:
		return "udp"
	default:
		return "unknown"
	}
}
