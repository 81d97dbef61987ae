// File: backend/select_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build unix

package backend

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
)

// selectBackend is the portable fallback. Interest sets are rebuilt from the
// fd table on every call, which keeps correctness trivial at O(n) cost. A
// nonblocking self-pipe provides wakeups.
type selectBackend struct {
	pipeR int
	pipeW int
	fds   []int
	masks []api.EventMask
	table fdTable
}

func newSelect(maxEvents int) (api.Backend, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("backend: pipe: %w", err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, fmt.Errorf("backend: pipe nonblock: %w", err)
		}
		unix.CloseOnExec(fd)
	}
	_ = maxEvents // select has no completion buffer to size
	return &selectBackend{pipeR: p[0], pipeW: p[1]}, nil
}

func (b *selectBackend) Add(fd uintptr, mask api.EventMask, sink api.EventSink) error {
	if int(fd) >= unix.FD_SETSIZE {
		return fmt.Errorf("backend: fd %d exceeds FD_SETSIZE: %w", fd, api.ErrBackendUnavailable)
	}
	return b.table.add(int(fd), mask, sink)
}

func (b *selectBackend) Modify(fd uintptr, mask api.EventMask) error {
	return b.table.modify(int(fd), mask)
}

func (b *selectBackend) Remove(fd uintptr) error {
	return b.table.remove(int(fd))
}

func (b *selectBackend) Poll(timeoutMs int) (int, error) {
	var rset, wset, eset unix.FdSet
	rset.Zero()
	wset.Zero()
	eset.Zero()

	b.fds = b.fds[:0]
	b.masks = b.masks[:0]
	b.fds, b.masks = b.table.snapshot(b.fds, b.masks)

	nfds := b.pipeR
	rset.Set(b.pipeR)
	for i, fd := range b.fds {
		if b.masks[i].Has(api.EventRead) {
			rset.Set(fd)
		}
		if b.masks[i].Has(api.EventWrite) {
			wset.Set(fd)
		}
		eset.Set(fd)
		if fd > nfds {
			nfds = fd
		}
	}

	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * 1e6)
		tv = &t
	}
	n, err := unix.Select(nfds+1, &rset, &wset, &eset, tv)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("backend: select: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if rset.IsSet(b.pipeR) {
		b.drainWakeup()
	}
	delivered := 0
	for _, fd := range b.fds {
		var mask api.EventMask
		if rset.IsSet(fd) {
			mask |= api.EventRead
		}
		if wset.IsSet(fd) {
			mask |= api.EventWrite
		}
		if eset.IsSet(fd) {
			mask |= api.EventError
		}
		if mask == 0 {
			continue
		}
		sink := b.table.get(fd)
		if sink == nil {
			continue
		}
		sink.OnBackendEvent(api.Event{FD: uintptr(fd), Events: mask})
		delivered++
	}
	return delivered, nil
}

func (b *selectBackend) drainWakeup() {
	var buf [64]byte
	for {
		if _, err := unix.Read(b.pipeR, buf[:]); err != nil {
			return
		}
	}
}

func (b *selectBackend) Wakeup() error {
	_, err := unix.Write(b.pipeW, []byte{1})
	if err == unix.EAGAIN {
		// Pipe full means a wakeup is already pending.
		return nil
	}
	return err
}

func (b *selectBackend) Name() string { return "select" }

func (b *selectBackend) Close() error {
	unix.Close(b.pipeW)
	return unix.Close(b.pipeR)
}
