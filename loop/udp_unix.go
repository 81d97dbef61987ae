// File: loop/udp_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build unix

package loop

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
)

const udpSupported = true

// udpOS carries no state on unix.
type udpOS struct{}

func (u *UDP) sockBindUDP(ua *net.UDPAddr) error {
	if u.h.fd == invalidFD {
		fd, err := newStreamFD(addrFamily(ua.IP), unix.SOCK_DGRAM)
		if err != nil {
			return err
		}
		u.h.fd = fd
		if u.broadcast {
			u.applyBroadcast()
		}
	}
	sa, err := ipPortSockaddr(ua.IP, ua.Port)
	if err != nil {
		return err
	}
	if err := unix.Bind(int(u.h.fd), sa); err != nil {
		return wrapSysErr("bind", err)
	}
	if lsa, err := unix.Getsockname(int(u.h.fd)); err == nil {
		u.local = sockaddrToUDP(lsa)
	}
	return nil
}

func (u *UDP) applyBroadcast() error {
	v := 0
	if u.broadcast {
		v = 1
	}
	if err := unix.SetsockoptInt(int(u.h.fd), unix.SOL_SOCKET, unix.SO_BROADCAST, v); err != nil {
		return wrapSysErr("setsockopt", err)
	}
	return nil
}

func (u *UDP) updateUDPInterest() error {
	var mask api.EventMask
	if u.receiving {
		mask |= api.EventRead
	}
	if u.sq.Len() > 0 {
		mask |= api.EventWrite
	}
	if !u.h.inReg && mask == 0 {
		return nil
	}
	return u.h.register(mask, u)
}

func (u *UDP) kickSend() error {
	u.flushSends()
	return nil
}

func (u *UDP) teardownUDP() {
	u.h.unregister()
	u.h.l.queueClosing(func() {
		closeFD(u.h.fd)
		u.h.fd = invalidFD
		u.finishClose()
	})
}

// OnBackendEvent dispatches a readiness report for the datagram socket.
func (u *UDP) OnBackendEvent(ev api.Event) {
	if u.h.closedOrClosing() {
		return
	}
	if ev.Events.Has(api.EventWrite) {
		u.flushSends()
	}
	if u.h.closedOrClosing() {
		return
	}
	if ev.Events.Any(api.EventRead|api.EventError) && u.receiving {
		u.recvReady()
	}
}

func (u *UDP) recvReady() {
	pool := u.h.l.bufs
	for u.receiving && !u.h.closedOrClosing() {
		buf := pool.Get(readBufSize)
		n, sa, err := unix.Recvfrom(int(u.h.fd), buf, 0)
		switch {
		case err == unix.EINTR:
			pool.Put(buf)
		case err == unix.EAGAIN:
			pool.Put(buf)
			return
		case err != nil:
			pool.Put(buf)
			u.receiving = false
			cb := u.recvCb
			u.updateUDPInterest()
			if cb != nil {
				cb(nil, nil, wrapSysErr("recvfrom", err))
			}
			return
		default:
			u.recvCb(buf[:n], sockaddrToUDP(sa), nil)
			pool.Put(buf)
		}
	}
}

// flushSends pushes queued datagrams until the socket would block. A
// datagram either leaves whole or fails; there are no partial sends.
func (u *UDP) flushSends() {
	for {
		req, err := u.sq.Peek()
		if err != nil {
			break
		}
		sa, aerr := ipPortSockaddr(req.to.IP, req.to.Port)
		if aerr == nil {
			aerr = unix.Sendto(int(u.h.fd), req.data, 0, sa)
		}
		if aerr == unix.EINTR {
			continue
		}
		if aerr == unix.EAGAIN {
			break
		}
		u.sq.Dequeue()
		if cb := req.cb; cb != nil {
			var e error
			if aerr != nil {
				e = wrapSysErr("sendto", aerr)
			}
			u.h.l.queueClosing(func() { cb(e) })
		}
	}
	u.updateUDPInterest()
}
