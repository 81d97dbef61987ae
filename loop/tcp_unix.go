// File: loop/tcp_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness driver: epoll, kqueue and select report when the socket can
// make progress, and this file performs the nonblocking syscalls. Interest
// tracks the state machine: listeners want readability, connecting sockets
// want writability, connected sockets want whatever reads and queued writes
// need.

//go:build unix

package loop

import (
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
)

// tcpOS carries no state on unix; readiness drivers are stateless between
// events.
type tcpOS struct{}

const readBufSize = 64 * 1024

func (t *TCP) sockBind(ta *net.TCPAddr) error {
	if t.h.fd == invalidFD {
		fd, err := newStreamFD(addrFamily(ta.IP), unix.SOCK_STREAM)
		if err != nil {
			return err
		}
		t.h.fd = fd
		t.applySockOpts()
	}
	sa, err := ipPortSockaddr(ta.IP, ta.Port)
	if err != nil {
		return err
	}
	if err := unix.Bind(int(t.h.fd), sa); err != nil {
		return wrapSysErr("bind", err)
	}
	return nil
}

func (t *TCP) sockListen(backlog int) error {
	if err := unix.Listen(int(t.h.fd), backlog); err != nil {
		return wrapSysErr("listen", err)
	}
	// An ephemeral port is only known after bind+listen.
	if sa, err := unix.Getsockname(int(t.h.fd)); err == nil {
		t.local = sockaddrToTCP(sa)
	}
	return t.h.register(api.EventRead, t)
}

func (t *TCP) sockConnect(ta *net.TCPAddr) error {
	if t.h.fd == invalidFD {
		fd, err := newStreamFD(addrFamily(ta.IP), unix.SOCK_STREAM)
		if err != nil {
			return err
		}
		t.h.fd = fd
		t.applySockOpts()
	}
	sa, err := ipPortSockaddr(ta.IP, ta.Port)
	if err != nil {
		return err
	}
	err = unix.Connect(int(t.h.fd), sa)
	if err != nil && err != unix.EINPROGRESS {
		return wrapSysErr("connect", err)
	}
	// Even an instant success resolves through the writable event, so the
	// callback never fires from inside Connect.
	return t.h.register(api.EventWrite, t)
}

func (t *TCP) armRead() error {
	return t.updateInterest()
}

func (t *TCP) disarmRead() {
	t.updateInterest()
}

func (t *TCP) kickWrite() error {
	t.flushWrites()
	return nil
}

func (t *TCP) sockShutdownWrite() error {
	if err := unix.Shutdown(int(t.h.fd), unix.SHUT_WR); err != nil {
		return wrapSysErr("shutdown", err)
	}
	return nil
}

func (t *TCP) teardown() {
	t.h.unregister()
	t.h.l.queueClosing(func() {
		closeFD(t.h.fd)
		t.h.fd = invalidFD
		t.finishClose()
	})
}

func (t *TCP) applyReuseAddr() {
	unix.SetsockoptInt(int(t.h.fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func (t *TCP) applyNoDelay() error {
	v := 0
	if t.noDelay {
		v = 1
	}
	if err := unix.SetsockoptInt(int(t.h.fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return wrapSysErr("setsockopt", err)
	}
	return nil
}

func (t *TCP) applyKeepAlive() error {
	on := 0
	if t.keepAlive > 0 {
		on = 1
	}
	if err := unix.SetsockoptInt(int(t.h.fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, on); err != nil {
		return wrapSysErr("setsockopt", err)
	}
	if on == 1 {
		setKeepAlivePeriod(int(t.h.fd), t.keepAlive)
	}
	return nil
}

// updateInterest recomputes the backend mask from the current state.
func (t *TCP) updateInterest() error {
	var mask api.EventMask
	switch t.h.state {
	case stateListening:
		mask = api.EventRead
	case stateConnecting:
		mask = api.EventWrite
	case stateConnected, stateShutdown:
		if t.reading {
			mask |= api.EventRead
		}
		if t.wq.Len() > 0 {
			mask |= api.EventWrite
		}
	}
	if !t.h.inReg && mask == 0 {
		return nil
	}
	return t.h.register(mask, t)
}

// OnBackendEvent dispatches a readiness report according to handle state.
func (t *TCP) OnBackendEvent(ev api.Event) {
	if t.h.closedOrClosing() {
		return
	}
	switch t.h.state {
	case stateListening:
		t.acceptReady()
	case stateConnecting:
		t.connectReady()
	case stateConnected, stateShutdown:
		if ev.Events.Has(api.EventWrite) {
			t.flushWrites()
		}
		if t.h.closedOrClosing() {
			return
		}
		if ev.Events.Any(api.EventRead | api.EventHangup | api.EventError) {
			if t.reading {
				t.readReady()
			} else if ev.Events.Any(api.EventHangup|api.EventError) && t.wq.Len() == 0 {
				// Nobody to tell; silence the fd so a dead peer cannot
				// spin the poller.
				t.h.unregister()
			}
		}
	}
}

func (t *TCP) acceptReady() {
	for t.h.state == stateListening {
		nfd, sa, err := unix.Accept(int(t.h.fd))
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			default:
				t.acceptCb(nil, wrapSysErr("accept", err))
				return
			}
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		unix.CloseOnExec(nfd)

		conn := &TCP{wq: queue.NewNormal[*writeReq]()}
		conn.h.attach(t.h.l, api.HandleTCP)
		conn.h.fd = uintptr(nfd)
		conn.h.state = stateConnected
		conn.remote = sockaddrToTCP(sa)
		if lsa, err := unix.Getsockname(nfd); err == nil {
			conn.local = sockaddrToTCP(lsa)
		}
		t.acceptCb(conn, nil)
	}
}

func (t *TCP) connectReady() {
	err := sockError(t.h.fd)
	cb := t.connectCb
	t.connectCb = nil
	if err != nil {
		t.h.state = stateInit
		t.h.unregister()
		cb(wrapSysErr("connect", err))
		return
	}
	t.h.state = stateConnected
	if lsa, gerr := unix.Getsockname(int(t.h.fd)); gerr == nil {
		t.local = sockaddrToTCP(lsa)
	}
	t.updateInterest()
	cb(nil)
}

// readReady drains the socket until it would block or the reader stops.
func (t *TCP) readReady() {
	pool := t.h.l.bufs
	for t.reading && !t.h.closedOrClosing() {
		buf := pool.Get(readBufSize)
		n, err := unix.Read(int(t.h.fd), buf)
		switch {
		case n > 0:
			t.readCb(buf[:n], nil)
			pool.Put(buf)
		case n == 0 && err == nil:
			pool.Put(buf)
			t.stopReadingWith(io.EOF)
			return
		case err == unix.EINTR:
			pool.Put(buf)
		case err == unix.EAGAIN:
			pool.Put(buf)
			return
		default:
			pool.Put(buf)
			t.stopReadingWith(wrapSysErr("read", err))
			return
		}
	}
}

// stopReadingWith delivers a terminal read result and pauses delivery, as
// if ReadStop had been called.
func (t *TCP) stopReadingWith(err error) {
	t.reading = false
	cb := t.readCb
	t.updateInterest()
	if cb != nil {
		cb(nil, err)
	}
}

// flushWrites pushes the queue head into the kernel until it blocks.
// Completed requests resolve in the finalization phase of this iteration.
func (t *TCP) flushWrites() {
	for {
		req, err := t.wq.Peek()
		if err != nil {
			break
		}
		n, werr := unix.Write(int(t.h.fd), req.data[req.off:])
		if n > 0 {
			req.off += n
		}
		if werr == unix.EINTR {
			continue
		}
		if werr == unix.EAGAIN {
			break
		}
		if werr != nil {
			t.wq.Dequeue()
			if cb := req.cb; cb != nil {
				n := req.off
				e := wrapSysErr("write", werr)
				t.h.l.queueClosing(func() { cb(n, e) })
			}
			continue
		}
		if req.off == len(req.data) {
			t.wq.Dequeue()
			if cb := req.cb; cb != nil {
				n := req.off
				t.h.l.queueClosing(func() { cb(n, nil) })
			}
		}
	}
	if t.wq.Len() == 0 && t.shutPending {
		t.shutPending = false
		if err := t.sockShutdownWrite(); err == nil {
			t.h.state = stateShutdown
		}
	}
	t.updateInterest()
}
