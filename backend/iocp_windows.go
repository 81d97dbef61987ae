// File: backend/iocp_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Windows completion port. Sockets associate with the port once and stay
// associated until closed; the completion key is the socket handle, and key
// zero is reserved for cross-thread wakeup posts. Events carry the finished
// OVERLAPPED pointer and transfer count instead of a readiness mask.

package backend

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-aio/api"
)

const wakeKey = 0

type iocpBackend struct {
	port      windows.Handle
	maxEvents int

	mu         sync.RWMutex
	sinks      map[uintptr]api.EventSink
	associated map[uintptr]bool
}

func newIOCP(maxEvents int) (api.Backend, error) {
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("backend: create completion port: %w", err)
	}
	return &iocpBackend{
		port:       port,
		maxEvents:  maxEvents,
		sinks:      make(map[uintptr]api.EventSink),
		associated: make(map[uintptr]bool),
	}, nil
}

func (b *iocpBackend) Add(fd uintptr, _ api.EventMask, sink api.EventSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sinks[fd]; ok {
		return api.ErrFDRegistered
	}
	if !b.associated[fd] {
		if _, err := windows.CreateIoCompletionPort(windows.Handle(fd), b.port, fd, 0); err != nil {
			return fmt.Errorf("backend: associate handle %#x: %w", fd, err)
		}
		// Association is permanent for the life of the handle.
		b.associated[fd] = true
	}
	b.sinks[fd] = sink
	return nil
}

// Modify is bookkeeping only: completion ports have no interest mask, the
// driver decides what to issue.
func (b *iocpBackend) Modify(fd uintptr, _ api.EventMask) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.sinks[fd]; !ok {
		return api.ErrFDNotRegistered
	}
	return nil
}

func (b *iocpBackend) Remove(fd uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sinks[fd]; !ok {
		return api.ErrFDNotRegistered
	}
	delete(b.sinks, fd)
	delete(b.associated, fd)
	return nil
}

func (b *iocpBackend) Poll(timeoutMs int) (int, error) {
	wait := uint32(windows.INFINITE)
	if timeoutMs >= 0 {
		wait = uint32(timeoutMs)
	}
	delivered := 0
	for delivered < b.maxEvents {
		var qty uint32
		var key uintptr
		var ov *windows.Overlapped
		err := windows.GetQueuedCompletionStatus(b.port, &qty, &key, &ov, wait)
		// Only the first call blocks; the rest just drain the queue.
		wait = 0
		if err != nil {
			if ov == nil {
				// Timeout or spurious failure with nothing dequeued.
				if err == windows.WAIT_TIMEOUT {
					return delivered, nil
				}
				return delivered, fmt.Errorf("backend: GetQueuedCompletionStatus: %w", err)
			}
			// A completion dequeued with failure status; hand the error to
			// the owner alongside the overlapped op.
		}
		if key == wakeKey && ov == nil {
			continue
		}
		b.mu.RLock()
		sink := b.sinks[key]
		b.mu.RUnlock()
		if sink == nil {
			continue
		}
		sink.OnBackendEvent(api.Event{
			FD:  key,
			N:   qty,
			Op:  uintptr(unsafe.Pointer(ov)),
			Err: err,
		})
		delivered++
	}
	return delivered, nil
}

func (b *iocpBackend) Wakeup() error {
	return windows.PostQueuedCompletionStatus(b.port, 0, wakeKey, nil)
}

func (b *iocpBackend) Name() string { return "iocp" }

func (b *iocpBackend) Close() error {
	return windows.CloseHandle(b.port)
}
