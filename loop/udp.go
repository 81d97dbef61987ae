// File: loop/udp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Asynchronous UDP handle, readiness platforms only. Windows reports
// api.ErrNotSupported from NewUDP; datagram completions there need a
// different driver than the stream path and are not carried yet.

package loop

import (
	"net"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
)

type (
	// RecvFunc receives one datagram or a terminal error. The buffer is
	// reused after the callback returns.
	RecvFunc func(data []byte, from *net.UDPAddr, err error)
	// SendFunc resolves a Send call.
	SendFunc func(err error)
)

type sendReq struct {
	data []byte
	to   *net.UDPAddr
	cb   SendFunc
}

// UDP is a datagram socket bound to a loop. All methods must run on the
// loop thread.
type UDP struct {
	// Data is an opaque slot for the caller; the loop never touches it.
	Data any

	h  handle
	os udpOS

	sq api.Queue[*sendReq]

	recvCb    RecvFunc
	closeCb   CloseFunc
	receiving bool
	broadcast bool

	local *net.UDPAddr
}

// NewUDP creates an unopened UDP handle.
func (l *Loop) NewUDP() (*UDP, error) {
	if !udpSupported {
		return nil, api.ErrNotSupported
	}
	u := &UDP{sq: queue.NewNormal[*sendReq]()}
	u.h.attach(l, api.HandleUDP)
	return u, nil
}

// Bind assigns the local address and creates the socket.
func (u *UDP) Bind(addr string) error {
	if u.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if u.h.state != stateInit {
		return api.ErrInvalidState
	}
	ua, err := resolveUDP(addr)
	if err != nil {
		return err
	}
	if err := u.sockBindUDP(ua); err != nil {
		return err
	}
	u.h.state = stateBound
	return nil
}

// RecvStart begins delivering datagrams to cb.
func (u *UDP) RecvStart(cb RecvFunc) error {
	if u.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if u.h.state != stateBound || cb == nil {
		return api.ErrInvalidState
	}
	u.recvCb = cb
	if u.receiving {
		return nil
	}
	u.receiving = true
	return u.updateUDPInterest()
}

// RecvStop pauses delivery. Idempotent.
func (u *UDP) RecvStop() {
	if !u.receiving || u.h.closedOrClosing() {
		u.receiving = false
		return
	}
	u.receiving = false
	u.updateUDPInterest()
}

// Send queues one datagram to addr. cb, if non-nil, resolves on the loop
// thread once the datagram is handed to the kernel.
func (u *UDP) Send(p []byte, addr string, cb SendFunc) error {
	if u.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if u.h.state != stateBound {
		return api.ErrInvalidState
	}
	ua, err := resolveUDP(addr)
	if err != nil {
		return err
	}
	u.sq.Enqueue(&sendReq{data: p, to: ua, cb: cb})
	return u.kickSend()
}

// SetBroadcast permits sending to broadcast addresses.
func (u *UDP) SetBroadcast(on bool) error {
	u.broadcast = on
	if u.h.fd == invalidFD {
		return nil
	}
	return u.applyBroadcast()
}

// LocalAddr returns the bound address, or nil before Bind.
func (u *UDP) LocalAddr() *net.UDPAddr { return u.local }

// Close tears the handle down. Queued sends resolve with
// api.ErrHandleClosed; cb runs after the socket is gone. Idempotent.
func (u *UDP) Close(cb CloseFunc) {
	if u.h.closedOrClosing() {
		return
	}
	u.h.state = stateClosing
	u.closeCb = cb
	u.receiving = false
	u.teardownUDP()
}

func (u *UDP) finishClose() {
	for {
		req, err := u.sq.Dequeue()
		if err != nil {
			break
		}
		if req.cb != nil {
			cb := req.cb
			u.h.l.queueClosing(func() { cb(api.ErrHandleClosed) })
		}
	}
	u.recvCb = nil
	u.h.l.reg.remove(u.h.id)
	u.h.state = stateClosed
	if cb := u.closeCb; cb != nil {
		u.closeCb = nil
		u.h.l.queueClosing(cb)
	}
}
