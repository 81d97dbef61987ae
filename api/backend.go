// File: api/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Polymorphic backend contract over the five kernel notification models.

package api

// Event is delivered to an EventSink when the backend observes activity on a
// registered descriptor.
//
// Readiness backends (epoll, kqueue, select, io_uring in polling mode) fill
// only FD and Events: the sink must perform the actual syscall afterwards and
// treat EAGAIN as "not actually ready".
//
// The completion backend (IOCP) reports the result of an operation the sink
// issued earlier: N carries the transferred byte count, Op the opaque token
// identifying the operation (the OVERLAPPED pointer), and Err the completion
// status. There is no "wait until ready then act" step.
type Event struct {
	FD     uintptr
	Events EventMask
	N      uint32
	Op     uintptr
	Err    error
}

// EventSink receives backend events for one registered descriptor. Concrete
// handle types (TCP, UDP) implement it; the backend never inspects what is
// behind the interface.
//
// OnBackendEvent is always invoked on the loop thread, from inside
// Backend.Poll.
type EventSink interface {
	OnBackendEvent(ev Event)
}

// Backend is the uniform multiplexer contract. Exactly one backend instance
// exists per loop. All methods except Wakeup must be called from the loop
// thread.
//
// Registration is 1:1 between descriptor and sink: Add of an already
// registered descriptor fails with ErrFDRegistered. On IOCP the association
// is permanent for the socket lifetime; Modify and Remove degrade to
// bookkeeping there, which the TCP layer accounts for.
type Backend interface {
	// Add registers fd for the events in mask, routing them to sink.
	Add(fd uintptr, mask EventMask, sink EventSink) error

	// Modify replaces the interest mask of a registered fd.
	Modify(fd uintptr, mask EventMask) error

	// Remove unregisters fd. Events already harvested may still be
	// dispatched to a dead registration and are dropped.
	Remove(fd uintptr) error

	// Poll blocks up to timeoutMs (-1 blocks indefinitely, 0 polls) and
	// dispatches pending events to their sinks. Returns the number of
	// events dispatched.
	Poll(timeoutMs int) (int, error)

	// Wakeup causes a blocked Poll to return promptly. Safe to call from
	// any thread.
	Wakeup() error

	// Name returns the backend name ("epoll", "kqueue", ...).
	Name() string

	// Close releases kernel resources. The backend must not be used after.
	Close() error
}
