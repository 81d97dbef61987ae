// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sentinel errors of the public surface. Transient would-block conditions
// are not listed here: they are iox.ErrWouldBlock throughout the module.

package api

import "errors"

var (
	// ErrLoopClosed is returned by cross-thread submission once the loop
	// has decided to exit.
	ErrLoopClosed = errors.New("aio: loop closed")

	// ErrLoopRunning is returned by Run when the loop is already running.
	ErrLoopRunning = errors.New("aio: loop already running")

	// ErrHandleClosed is returned by operations on a closing or closed
	// handle, and delivered to queued write callbacks during teardown.
	ErrHandleClosed = errors.New("aio: handle closed")

	// ErrInvalidState is returned for operations issued in the wrong
	// lifecycle state (write before connect, double bind, ...).
	ErrInvalidState = errors.New("aio: invalid handle state")

	// ErrFDRegistered is returned by Backend.Add for a live registration.
	ErrFDRegistered = errors.New("aio: fd already registered")

	// ErrFDNotRegistered is returned by Modify/Remove for an unknown fd.
	ErrFDNotRegistered = errors.New("aio: fd not registered")

	// ErrBackendUnavailable is returned when the requested backend type is
	// not compiled in or not supported on this platform.
	ErrBackendUnavailable = errors.New("aio: backend unavailable")

	// ErrNotSupported is returned for operations the platform cannot
	// provide (for example UDP handles on Windows).
	ErrNotSupported = errors.New("aio: not supported")

	// ErrPoolClosed is returned by Executor.Submit after shutdown began.
	ErrPoolClosed = errors.New("aio: thread pool closed")

	// ErrAcceptPoolBusy is returned when every slot of the completion
	// backend's pre-posted accept pool is in flight.
	ErrAcceptPoolBusy = errors.New("aio: accept operation pool exhausted")
)
