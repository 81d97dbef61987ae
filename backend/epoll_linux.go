// File: backend/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package backend

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
)

// epollBackend is the Linux default: level-triggered epoll with an eventfd
// for cross-thread wakeups.
type epollBackend struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
	table  fdTable
}

func newEpoll(maxEvents int) (api.Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("backend: epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("backend: eventfd: %w", err)
	}
	b := &epollBackend{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("backend: register wakeup: %w", err)
	}
	return b, nil
}

func maskToEpoll(mask api.EventMask) uint32 {
	var ev uint32
	if mask.Has(api.EventRead) {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask.Has(api.EventWrite) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func epollToMask(ev uint32) api.EventMask {
	var mask api.EventMask
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		mask |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		mask |= api.EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		mask |= api.EventError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		mask |= api.EventHangup
	}
	return mask
}

func (b *epollBackend) Add(fd uintptr, mask api.EventMask, sink api.EventSink) error {
	if err := b.table.add(int(fd), mask, sink); err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: maskToEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		b.table.remove(int(fd))
		return fmt.Errorf("backend: epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (b *epollBackend) Modify(fd uintptr, mask api.EventMask) error {
	if err := b.table.modify(int(fd), mask); err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: maskToEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return fmt.Errorf("backend: epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

func (b *epollBackend) Remove(fd uintptr) error {
	if err := b.table.remove(int(fd)); err != nil {
		return err
	}
	// The fd may already be closed; DEL on a closed fd is harmless here.
	unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	return nil
}

func (b *epollBackend) Poll(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("backend: epoll_wait: %w", err)
	}
	delivered := 0
	for i := 0; i < n; i++ {
		fd := int(b.events[i].Fd)
		if fd == b.wakefd {
			b.drainWakeup()
			continue
		}
		sink := b.table.get(fd)
		if sink == nil {
			continue
		}
		sink.OnBackendEvent(api.Event{
			FD:     uintptr(fd),
			Events: epollToMask(b.events[i].Events),
		})
		delivered++
	}
	return delivered, nil
}

func (b *epollBackend) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(b.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (b *epollBackend) Wakeup() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(b.wakefd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// Counter saturated; a wakeup is already pending.
			return nil
		}
		return err
	}
}

func (b *epollBackend) Name() string { return "epoll" }

func (b *epollBackend) Close() error {
	unix.Close(b.wakefd)
	return unix.Close(b.epfd)
}
