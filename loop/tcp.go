// File: loop/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Asynchronous TCP handle. The portable layer owns the state machine and
// the write queue; the platform layer (tcp_unix.go, tcp_windows.go) turns
// readiness or completion events into the same callback contract:
//
//   - callbacks run on the loop thread, never from inside the call that
//     requested them;
//   - every pending operation resolves exactly once, with
//     api.ErrHandleClosed if the handle goes away first;
//   - read buffers borrow from the loop buffer pool and are only valid for
//     the duration of the read callback.

package loop

import (
	"net"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
)

// Callback signatures for TCP operations.
type (
	// AcceptFunc receives each inbound connection, already nonblocking and
	// registered with the loop.
	AcceptFunc func(conn *TCP, err error)
	// ConnectFunc resolves a Connect call.
	ConnectFunc func(err error)
	// ReadFunc receives data or a terminal error; io.EOF reports a clean
	// peer shutdown. The buffer is reused after the callback returns.
	ReadFunc func(data []byte, err error)
	// WriteFunc resolves a Write call with the bytes transferred.
	WriteFunc func(n int, err error)
	// CloseFunc runs after the handle is fully torn down.
	CloseFunc func()
)

type writeReq struct {
	data []byte
	off  int
	cb   WriteFunc
}

// TCP is a stream socket bound to a loop. All methods must run on the loop
// thread.
type TCP struct {
	// Data is an opaque slot for the caller; the loop never touches it.
	Data any

	h  handle
	os tcpOS

	wq api.Queue[*writeReq]

	acceptCb  AcceptFunc
	connectCb ConnectFunc
	readCb    ReadFunc
	closeCb   CloseFunc

	reading     bool
	shutPending bool // CloseWrite waits for the write queue to drain

	reuseAddr bool
	reusePort bool
	noDelay   bool
	keepAlive time.Duration

	local  *net.TCPAddr
	remote *net.TCPAddr
}

// NewTCP creates an unopened TCP handle. The socket itself is created by
// Bind or Connect, once the address family is known.
func (l *Loop) NewTCP() *TCP {
	t := &TCP{wq: queue.NewNormal[*writeReq]()}
	t.h.attach(l, api.HandleTCP)
	return t
}

// Bind assigns the local address. Must precede Listen; optional before
// Connect.
func (t *TCP) Bind(addr string) error {
	if t.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if t.h.state != stateInit {
		return api.ErrInvalidState
	}
	ta, err := resolveTCP(addr)
	if err != nil {
		return err
	}
	if err := t.sockBind(ta); err != nil {
		return err
	}
	t.h.state = stateBound
	t.local = ta
	return nil
}

// Listen starts accepting. cb receives every inbound connection until the
// handle closes.
func (t *TCP) Listen(backlog int, cb AcceptFunc) error {
	if t.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if t.h.state != stateBound || cb == nil {
		return api.ErrInvalidState
	}
	if backlog <= 0 {
		backlog = 128
	}
	if err := t.sockListen(backlog); err != nil {
		return err
	}
	t.acceptCb = cb
	t.h.state = stateListening
	t.h.l.log.Debug().Str("addr", t.local.String()).Log("tcp listening")
	return nil
}

// Connect starts a connection attempt. cb resolves exactly once, on the
// loop thread, never from inside this call.
func (t *TCP) Connect(addr string, cb ConnectFunc) error {
	if t.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if (t.h.state != stateInit && t.h.state != stateBound) || cb == nil {
		return api.ErrInvalidState
	}
	ta, err := resolveTCP(addr)
	if err != nil {
		return err
	}
	if err := t.sockConnect(ta); err != nil {
		return err
	}
	t.connectCb = cb
	t.remote = ta
	t.h.state = stateConnecting
	return nil
}

// ReadStart begins delivering inbound data to cb. Calling it again replaces
// the callback.
func (t *TCP) ReadStart(cb ReadFunc) error {
	if t.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if (t.h.state != stateConnected && t.h.state != stateShutdown) || cb == nil {
		return api.ErrInvalidState
	}
	t.readCb = cb
	if t.reading {
		return nil
	}
	t.reading = true
	if err := t.armRead(); err != nil {
		t.reading = false
		t.readCb = nil
		return err
	}
	return nil
}

// ReadStop pauses delivery. Idempotent; a no-op on a handle that never
// started reading.
func (t *TCP) ReadStop() {
	if !t.reading || t.h.closedOrClosing() {
		t.reading = false
		return
	}
	t.reading = false
	t.disarmRead()
}

// Write sends p, preserving submission order. cb, if non-nil, resolves on
// the loop thread once the bytes are handed to the kernel. p must stay
// untouched until then.
func (t *TCP) Write(p []byte, cb WriteFunc) error {
	if t.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if t.h.state != stateConnected {
		return api.ErrInvalidState
	}
	if t.shutPending {
		return api.ErrInvalidState
	}
	if len(p) == 0 {
		if cb != nil {
			t.h.l.queueClosing(func() { cb(0, nil) })
		}
		return nil
	}
	t.wq.Enqueue(&writeReq{data: p, cb: cb})
	return t.kickWrite()
}

// CloseWrite shuts down the send side once every queued write has drained.
// Reads continue until the peer closes.
func (t *TCP) CloseWrite() error {
	if t.h.closedOrClosing() {
		return api.ErrHandleClosed
	}
	if t.h.state != stateConnected {
		return api.ErrInvalidState
	}
	if t.wq.Len() > 0 {
		t.shutPending = true
		return nil
	}
	if err := t.sockShutdownWrite(); err != nil {
		return err
	}
	t.h.state = stateShutdown
	return nil
}

// Close tears the handle down. Queued writes resolve with
// api.ErrHandleClosed; cb runs after the socket is gone. Idempotent.
func (t *TCP) Close(cb CloseFunc) {
	if t.h.closedOrClosing() {
		return
	}
	t.h.state = stateClosing
	t.closeCb = cb
	t.reading = false
	t.teardown()
}

// failPendingWrites resolves every queued write with err. Runs during
// finalization.
func (t *TCP) failPendingWrites(err error) {
	for {
		req, derr := t.wq.Dequeue()
		if derr != nil {
			return
		}
		if req.cb != nil {
			cb, n := req.cb, req.off
			t.h.l.queueClosing(func() { cb(n, err) })
		}
	}
}

// finishClose releases the registry slot and fires the close callback. The
// platform teardown calls this once no event can reference the handle.
func (t *TCP) finishClose() {
	t.failPendingWrites(api.ErrHandleClosed)
	if t.connectCb != nil {
		cb := t.connectCb
		t.connectCb = nil
		t.h.l.queueClosing(func() { cb(api.ErrHandleClosed) })
	}
	t.readCb = nil
	t.acceptCb = nil
	t.h.l.reg.remove(t.h.id)
	t.h.state = stateClosed
	if cb := t.closeCb; cb != nil {
		t.closeCb = nil
		t.h.l.queueClosing(cb)
	}
}

// LocalAddr returns the bound address, or nil before Bind or Connect.
func (t *TCP) LocalAddr() *net.TCPAddr { return t.local }

// RemoteAddr returns the peer address, or nil until connected or accepted.
func (t *TCP) RemoteAddr() *net.TCPAddr { return t.remote }

// Loop returns the owning loop.
func (t *TCP) Loop() *Loop { return t.h.l }

// SetReuseAddr takes effect when the socket is created by Bind or Connect.
func (t *TCP) SetReuseAddr(on bool) {
	t.reuseAddr = on
	if t.h.fd != invalidFD {
		t.applyReuseAddr()
	}
}

// SetReusePort enables load-balanced binds on platforms with SO_REUSEPORT;
// elsewhere it reports api.ErrNotSupported.
func (t *TCP) SetReusePort(on bool) error {
	t.reusePort = on
	if t.h.fd == invalidFD {
		return nil
	}
	return t.applyReusePort()
}

// SetNoDelay toggles Nagle's algorithm.
func (t *TCP) SetNoDelay(on bool) error {
	t.noDelay = on
	if t.h.fd == invalidFD {
		return nil
	}
	return t.applyNoDelay()
}

// SetKeepAlive enables keepalive probes at the given period; zero disables.
func (t *TCP) SetKeepAlive(period time.Duration) error {
	t.keepAlive = period
	if t.h.fd == invalidFD {
		return nil
	}
	return t.applyKeepAlive()
}

func wrapSysErr(op string, err error) error {
	return &net.OpError{Op: op, Net: "tcp", Err: err}
}

// applySockOpts replays recorded options onto a freshly created socket.
func (t *TCP) applySockOpts() {
	if t.reuseAddr {
		t.applyReuseAddr()
	}
	if t.reusePort {
		t.applyReusePort()
	}
	if t.noDelay {
		t.applyNoDelay()
	}
	if t.keepAlive > 0 {
		t.applyKeepAlive()
	}
}
