// File: backend/kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package backend

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
)

// wakeIdent is the EVFILT_USER identifier reserved for cross-thread wakeups.
const wakeIdent = 0

// kqueueBackend drives the BSDs and Darwin. Read and write interest are
// separate kevent filters, so Modify issues per-filter add and delete
// changes. Wakeup triggers a registered EVFILT_USER event.
type kqueueBackend struct {
	kq     int
	events []unix.Kevent_t
	table  fdTable
}

func newKqueue(maxEvents int) (api.Backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("backend: kqueue: %w", err)
	}
	b := &kqueueBackend{
		kq:     kq,
		events: make([]unix.Kevent_t, maxEvents),
	}
	var kev unix.Kevent_t
	unix.SetKevent(&kev, wakeIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("backend: register wakeup: %w", err)
	}
	return b, nil
}

// filterChanges builds the kevent change list that moves fd from the old
// interest mask to the new one.
func filterChanges(fd int, old, mask api.EventMask, changes []unix.Kevent_t) []unix.Kevent_t {
	apply := func(bit api.EventMask, filter int) []unix.Kevent_t {
		switch {
		case mask.Has(bit) && !old.Has(bit):
			var kev unix.Kevent_t
			unix.SetKevent(&kev, fd, filter, unix.EV_ADD|unix.EV_ENABLE)
			return append(changes, kev)
		case !mask.Has(bit) && old.Has(bit):
			var kev unix.Kevent_t
			unix.SetKevent(&kev, fd, filter, unix.EV_DELETE)
			return append(changes, kev)
		}
		return changes
	}
	changes = apply(api.EventRead, unix.EVFILT_READ)
	changes = apply(api.EventWrite, unix.EVFILT_WRITE)
	return changes
}

func (b *kqueueBackend) Add(fd uintptr, mask api.EventMask, sink api.EventSink) error {
	if err := b.table.add(int(fd), mask, sink); err != nil {
		return err
	}
	changes := filterChanges(int(fd), 0, mask, nil)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
		b.table.remove(int(fd))
		return fmt.Errorf("backend: kevent add fd %d: %w", fd, err)
	}
	return nil
}

func (b *kqueueBackend) Modify(fd uintptr, mask api.EventMask) error {
	old := b.table.maskOf(int(fd))
	if err := b.table.modify(int(fd), mask); err != nil {
		return err
	}
	changes := filterChanges(int(fd), old, mask, nil)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("backend: kevent mod fd %d: %w", fd, err)
	}
	return nil
}

func (b *kqueueBackend) Remove(fd uintptr) error {
	old := b.table.maskOf(int(fd))
	if err := b.table.remove(int(fd)); err != nil {
		return err
	}
	changes := filterChanges(int(fd), old, 0, nil)
	if len(changes) != 0 {
		// Closing the fd also removes its filters; ignore ENOENT races.
		unix.Kevent(b.kq, changes, nil, nil)
	}
	return nil
}

func (b *kqueueBackend) Poll(timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(b.kq, nil, b.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("backend: kevent wait: %w", err)
	}
	delivered := 0
	for i := 0; i < n; i++ {
		kev := &b.events[i]
		if kev.Filter == unix.EVFILT_USER && kev.Ident == wakeIdent {
			continue
		}
		fd := int(kev.Ident)
		sink := b.table.get(fd)
		if sink == nil {
			continue
		}
		var mask api.EventMask
		switch kev.Filter {
		case unix.EVFILT_READ:
			mask |= api.EventRead
		case unix.EVFILT_WRITE:
			mask |= api.EventWrite
		}
		if kev.Flags&unix.EV_EOF != 0 {
			mask |= api.EventHangup
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			mask |= api.EventError
		}
		sink.OnBackendEvent(api.Event{FD: uintptr(fd), Events: mask})
		delivered++
	}
	return delivered, nil
}

func (b *kqueueBackend) Wakeup() error {
	var kev unix.Kevent_t
	unix.SetKevent(&kev, wakeIdent, unix.EVFILT_USER, 0)
	kev.Fflags = unix.NOTE_TRIGGER
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (b *kqueueBackend) Name() string { return "kqueue" }

func (b *kqueueBackend) Close() error {
	return unix.Close(b.kq)
}
