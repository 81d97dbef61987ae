// File: backend/iouring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring poller in poll-driven mode: readiness interest is expressed as
// one-shot IORING_OP_POLL_ADD submissions keyed by fd, re-armed after every
// completion. Blocking waits ride an IORING_OP_TIMEOUT entry, and an eventfd
// poll provides cross-thread wakeups. Built only with the io_uring tag;
// without it the loop falls back to epoll.

//go:build linux && io_uring

package backend

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
)

const (
	opPollAdd    = 6
	opPollRemove = 7
	opTimeout    = 11

	offSqRing = 0x0
	offCqRing = 0x8000000
	offSqes   = 0x10000000

	enterGetevents = 1 << 0

	timeoutData = ^uint64(0)
)

type sqringOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type cqringOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type uringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFD         uint32
	resv         [3]uint32
	sqOff        sqringOffsets
	cqOff        cqringOffsets
}

type uringSqe struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	pad2        [2]uint64
}

type uringCqe struct {
	userData uint64
	res      int32
	flags    uint32
}

type uringBackend struct {
	ringFD int
	wakefd int

	sqRing []byte
	cqRing []byte
	sqMem  []byte

	sqHead    *uint32
	sqTail    *uint32
	sqMask    uint32
	sqArray   []uint32
	sqes      []uringSqe
	cqHead    *uint32
	cqTail    *uint32
	cqMask    uint32
	cqes      []uringCqe
	toSubmit  uint32
	timeout   unix.Timespec
	maxEvents int
	table     fdTable
}

func newIOUring(maxEvents int) (api.Backend, error) {
	entries := uint32(nextRingSize(maxEvents))
	var params uringParams
	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("backend: io_uring_setup: %w", errno)
	}
	b := &uringBackend{ringFD: int(fd), maxEvents: maxEvents}

	var err error
	sqSize := int(params.sqOff.array + params.sqEntries*4)
	b.sqRing, err = unix.Mmap(b.ringFD, offSqRing, sqSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err == nil {
		cqSize := int(params.cqOff.cqes) + int(params.cqEntries)*int(unsafe.Sizeof(uringCqe{}))
		b.cqRing, err = unix.Mmap(b.ringFD, offCqRing, cqSize,
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	}
	if err == nil {
		b.sqMem, err = unix.Mmap(b.ringFD, offSqes,
			int(params.sqEntries)*int(unsafe.Sizeof(uringSqe{})),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	}
	if err != nil {
		b.unmap()
		unix.Close(b.ringFD)
		return nil, fmt.Errorf("backend: io_uring mmap: %w", err)
	}

	b.sqHead = (*uint32)(unsafe.Pointer(&b.sqRing[params.sqOff.head]))
	b.sqTail = (*uint32)(unsafe.Pointer(&b.sqRing[params.sqOff.tail]))
	b.sqMask = *(*uint32)(unsafe.Pointer(&b.sqRing[params.sqOff.ringMask]))
	b.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&b.sqRing[params.sqOff.array])), params.sqEntries)
	b.sqes = unsafe.Slice((*uringSqe)(unsafe.Pointer(&b.sqMem[0])), params.sqEntries)
	b.cqHead = (*uint32)(unsafe.Pointer(&b.cqRing[params.cqOff.head]))
	b.cqTail = (*uint32)(unsafe.Pointer(&b.cqRing[params.cqOff.tail]))
	b.cqMask = *(*uint32)(unsafe.Pointer(&b.cqRing[params.cqOff.ringMask]))
	b.cqes = unsafe.Slice((*uringCqe)(unsafe.Pointer(&b.cqRing[params.cqOff.cqes])), params.cqEntries)

	b.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		b.unmap()
		unix.Close(b.ringFD)
		return nil, fmt.Errorf("backend: eventfd: %w", err)
	}
	b.armPoll(b.wakefd, unix.POLLIN)
	if err := b.submit(0, 0); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func nextRingSize(n int) int {
	size := 32
	for size < n*2 {
		size <<= 1
	}
	if size > 4096 {
		size = 4096
	}
	return size
}

func (b *uringBackend) unmap() {
	if b.sqMem != nil {
		unix.Munmap(b.sqMem)
	}
	if b.cqRing != nil {
		unix.Munmap(b.cqRing)
	}
	if b.sqRing != nil {
		unix.Munmap(b.sqRing)
	}
}

// getSqe claims the next submission slot. The ring is sized generously, but
// a full ring flushes synchronously first.
func (b *uringBackend) getSqe() *uringSqe {
	for {
		head := atomic.LoadUint32(b.sqHead)
		tail := *b.sqTail
		if tail-head < uint32(len(b.sqes)) {
			idx := tail & b.sqMask
			sqe := &b.sqes[idx]
			*sqe = uringSqe{}
			b.sqArray[idx] = idx
			atomic.StoreUint32(b.sqTail, tail+1)
			b.toSubmit++
			return sqe
		}
		b.submit(0, 0)
	}
}

func pollBits(mask api.EventMask) uint32 {
	var ev uint32
	if mask.Has(api.EventRead) {
		ev |= unix.POLLIN | unix.POLLRDHUP
	}
	if mask.Has(api.EventWrite) {
		ev |= unix.POLLOUT
	}
	return ev
}

func (b *uringBackend) armPoll(fd int, events uint32) {
	sqe := b.getSqe()
	sqe.opcode = opPollAdd
	sqe.fd = int32(fd)
	sqe.opcodeFlags = events
	sqe.userData = uint64(fd)
}

func (b *uringBackend) submit(minComplete uint32, flags uintptr) error {
	n := b.toSubmit
	b.toSubmit = 0
	_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(b.ringFD), uintptr(n), uintptr(minComplete), flags, 0, 0)
	if errno != 0 && errno != unix.EINTR {
		return fmt.Errorf("backend: io_uring_enter: %w", errno)
	}
	return nil
}

func (b *uringBackend) Add(fd uintptr, mask api.EventMask, sink api.EventSink) error {
	if err := b.table.add(int(fd), mask, sink); err != nil {
		return err
	}
	if ev := pollBits(mask); ev != 0 {
		b.armPoll(int(fd), ev)
	}
	return nil
}

func (b *uringBackend) Modify(fd uintptr, mask api.EventMask) error {
	old := b.table.maskOf(int(fd))
	if err := b.table.modify(int(fd), mask); err != nil {
		return err
	}
	if pollBits(old) == pollBits(mask) {
		return nil
	}
	b.cancelPoll(int(fd))
	if ev := pollBits(mask); ev != 0 {
		b.armPoll(int(fd), ev)
	}
	return nil
}

func (b *uringBackend) Remove(fd uintptr) error {
	if err := b.table.remove(int(fd)); err != nil {
		return err
	}
	b.cancelPoll(int(fd))
	return nil
}

func (b *uringBackend) cancelPoll(fd int) {
	sqe := b.getSqe()
	sqe.opcode = opPollRemove
	sqe.addr = uint64(fd)
	sqe.userData = timeoutData - 1 // cancel completions carry no sink
}

func (b *uringBackend) Poll(timeoutMs int) (int, error) {
	if n := b.reap(); n > 0 {
		// Completions already queued; submit interest and return them.
		if err := b.submit(0, 0); err != nil {
			return n, err
		}
		return n, nil
	}
	switch {
	case timeoutMs == 0:
		if err := b.submit(0, 0); err != nil {
			return 0, err
		}
	case timeoutMs > 0:
		b.timeout = unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		sqe := b.getSqe()
		sqe.opcode = opTimeout
		sqe.fd = -1
		sqe.addr = uint64(uintptr(unsafe.Pointer(&b.timeout)))
		sqe.len = 1
		sqe.userData = timeoutData
		fallthrough
	default:
		if err := b.submit(1, enterGetevents); err != nil {
			return 0, err
		}
	}
	return b.reap(), nil
}

// reap drains the completion ring, dispatching poll results and re-arming
// one-shot interest for fds that are still registered.
func (b *uringBackend) reap() int {
	delivered := 0
	head := atomic.LoadUint32(b.cqHead)
	tail := atomic.LoadUint32(b.cqTail)
	for ; head != tail; head++ {
		cqe := b.cqes[head&b.cqMask]
		atomic.StoreUint32(b.cqHead, head+1)
		switch cqe.userData {
		case timeoutData, timeoutData - 1:
			continue
		}
		fd := int(cqe.userData)
		if fd == b.wakefd {
			b.drainWakeup()
			b.armPoll(b.wakefd, unix.POLLIN)
			continue
		}
		sink := b.table.get(fd)
		if sink == nil {
			continue
		}
		var mask api.EventMask
		if cqe.res < 0 {
			mask = api.EventError
		} else {
			res := uint32(cqe.res)
			if res&(unix.POLLIN|unix.POLLPRI) != 0 {
				mask |= api.EventRead
			}
			if res&unix.POLLOUT != 0 {
				mask |= api.EventWrite
			}
			if res&unix.POLLERR != 0 {
				mask |= api.EventError
			}
			if res&(unix.POLLHUP|unix.POLLRDHUP) != 0 {
				mask |= api.EventHangup
			}
		}
		if ev := pollBits(b.table.maskOf(fd)); ev != 0 {
			b.armPoll(fd, ev)
		}
		sink.OnBackendEvent(api.Event{FD: uintptr(fd), Events: mask})
		delivered++
		tail = atomic.LoadUint32(b.cqTail)
	}
	return delivered
}

func (b *uringBackend) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(b.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (b *uringBackend) Wakeup() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(b.wakefd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
}

func (b *uringBackend) Name() string { return "io_uring" }

func (b *uringBackend) Close() error {
	unix.Close(b.wakefd)
	b.unmap()
	return unix.Close(b.ringFD)
}
