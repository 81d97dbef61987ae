// File: loop/tcp_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion driver. The kernel finishes operations the driver issued
// beforehand: a pool of AcceptEx calls per listener, one outstanding WSARecv
// per reading socket, one outstanding WSASend per draining write queue.
// Every issued operation is pinned in the handle's pending set so its
// OVERLAPPED memory survives until the completion arrives, including the
// aborted completions that follow CancelIoEx and closesocket. A closing
// handle therefore lingers in the registry until its pending set is empty.

package loop

import (
	"io"
	"net"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
)

const (
	readBufSize = 64 * 1024

	// Room for a sockaddr plus the 16 bytes AcceptEx demands, twice.
	acceptAddrLen = 144

	// Ceiling on outstanding AcceptEx operations per listener.
	maxAcceptPool = 64
)

type opKind uint8

const (
	opAccept opKind = iota + 1
	opConnect
	opRecv
	opSend
)

// iocpOp is one in-flight overlapped operation. The Overlapped must stay
// the first field: completions hand back its address and the driver casts
// it to the containing op.
type iocpOp struct {
	ov        windows.Overlapped
	kind      opKind
	sock      windows.Handle // accept: the pre-created inbound socket
	buf       []byte
	wsa       windows.WSABuf
	cb        WriteFunc
	acceptBuf [2 * acceptAddrLen]byte
}

// tcpOS is the per-handle completion state.
type tcpOS struct {
	family  int
	pending map[*iocpOp]struct{}
	recvOp  *iocpOp
	sendOp  *iocpOp
}

func (t *TCP) pin(op *iocpOp) {
	if t.os.pending == nil {
		t.os.pending = make(map[*iocpOp]struct{})
	}
	t.os.pending[op] = struct{}{}
}

func (t *TCP) unpin(op *iocpOp) {
	delete(t.os.pending, op)
	if t.os.recvOp == op {
		t.os.recvOp = nil
	}
	if t.os.sendOp == op {
		t.os.sendOp = nil
	}
	if t.h.state == stateClosing && len(t.os.pending) == 0 {
		t.h.unregister()
		t.h.fd = invalidFD
		t.finishClose()
	}
}

func (t *TCP) sockBind(ta *net.TCPAddr) error {
	if t.h.fd == invalidFD {
		fd, err := newStreamFD(addrFamily(ta.IP), windows.SOCK_STREAM)
		if err != nil {
			return err
		}
		t.h.fd = fd
		t.os.family = addrFamily(ta.IP)
		t.applySockOpts()
	}
	sa, err := ipPortSockaddr(ta.IP, ta.Port)
	if err != nil {
		return err
	}
	if err := windows.Bind(windows.Handle(t.h.fd), sa); err != nil {
		return wrapSysErr("bind", err)
	}
	return nil
}

func (t *TCP) sockListen(backlog int) error {
	h := windows.Handle(t.h.fd)
	if err := windows.Listen(h, backlog); err != nil {
		return wrapSysErr("listen", err)
	}
	if sa, err := windows.Getsockname(h); err == nil {
		t.local = sockaddrToTCP(sa)
	}
	if err := t.h.register(api.EventRead, t); err != nil {
		return err
	}
	// Listen has not returned yet, so acceptCb is still unset; the state
	// flips before completions can arrive because they only surface in
	// Poll, on this same thread.
	pool := backlog
	if pool > maxAcceptPool {
		pool = maxAcceptPool
	}
	for i := 0; i < pool; i++ {
		if err := t.postAccept(); err != nil {
			return err
		}
	}
	return nil
}

func (t *TCP) postAccept() error {
	as, err := newStreamFD(t.os.family, windows.SOCK_STREAM)
	if err != nil {
		return err
	}
	op := &iocpOp{kind: opAccept, sock: windows.Handle(as)}
	var recvd uint32
	err = windows.AcceptEx(windows.Handle(t.h.fd), op.sock,
		&op.acceptBuf[0], 0, acceptAddrLen, acceptAddrLen, &recvd, &op.ov)
	if err != nil && err != windows.ERROR_IO_PENDING {
		windows.Closesocket(op.sock)
		return wrapSysErr("acceptex", err)
	}
	t.pin(op)
	return nil
}

func (t *TCP) sockConnect(ta *net.TCPAddr) error {
	if t.h.fd == invalidFD {
		fd, err := newStreamFD(addrFamily(ta.IP), windows.SOCK_STREAM)
		if err != nil {
			return err
		}
		t.h.fd = fd
		t.os.family = addrFamily(ta.IP)
		t.applySockOpts()
		// ConnectEx requires a bound socket.
		wildcard, _ := ipPortSockaddr(wildcardIP(t.os.family), 0)
		if err := windows.Bind(windows.Handle(t.h.fd), wildcard); err != nil {
			return wrapSysErr("bind", err)
		}
	}
	if err := t.h.register(api.EventWrite, t); err != nil {
		return err
	}
	sa, err := ipPortSockaddr(ta.IP, ta.Port)
	if err != nil {
		return err
	}
	op := &iocpOp{kind: opConnect}
	err = windows.ConnectEx(windows.Handle(t.h.fd), sa, nil, 0, nil, &op.ov)
	if err != nil && err != windows.ERROR_IO_PENDING {
		return wrapSysErr("connectex", err)
	}
	t.pin(op)
	return nil
}

func wildcardIP(family int) net.IP {
	if family == windows.AF_INET6 {
		return net.IPv6unspecified
	}
	return nil
}

func (t *TCP) armRead() error {
	if err := t.h.register(api.EventRead, t); err != nil {
		return err
	}
	return t.postRecv()
}

func (t *TCP) disarmRead() {
	if t.os.recvOp != nil {
		// The aborted completion unpins the op and returns its buffer.
		windows.CancelIoEx(windows.Handle(t.h.fd), &t.os.recvOp.ov)
	}
}

func (t *TCP) postRecv() error {
	if t.os.recvOp != nil {
		return nil
	}
	op := &iocpOp{kind: opRecv, buf: t.h.l.bufs.Get(readBufSize)}
	op.wsa.Buf = &op.buf[0]
	op.wsa.Len = uint32(len(op.buf))
	var flags uint32
	err := windows.WSARecv(windows.Handle(t.h.fd), &op.wsa, 1, nil, &flags, &op.ov, nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		t.h.l.bufs.Put(op.buf)
		return wrapSysErr("recv", err)
	}
	t.os.recvOp = op
	t.pin(op)
	return nil
}

func (t *TCP) kickWrite() error {
	if err := t.h.register(api.EventWrite|t.h.mask, t); err != nil {
		return err
	}
	return t.postSend()
}

// postSend issues at most one outstanding WSASend for the queue head;
// completions chain the next one.
func (t *TCP) postSend() error {
	if t.os.sendOp != nil {
		return nil
	}
	req, err := t.wq.Peek()
	if err != nil {
		return nil
	}
	op := &iocpOp{kind: opSend, cb: req.cb}
	op.wsa.Buf = &req.data[req.off]
	op.wsa.Len = uint32(len(req.data) - req.off)
	werr := windows.WSASend(windows.Handle(t.h.fd), &op.wsa, 1, nil, 0, &op.ov, nil)
	if werr != nil && werr != windows.ERROR_IO_PENDING {
		return wrapSysErr("send", werr)
	}
	t.os.sendOp = op
	t.pin(op)
	return nil
}

func (t *TCP) sockShutdownWrite() error {
	if err := windows.Shutdown(windows.Handle(t.h.fd), windows.SHUT_WR); err != nil {
		return wrapSysErr("shutdown", err)
	}
	return nil
}

func (t *TCP) teardown() {
	if t.h.fd == invalidFD {
		t.h.l.queueClosing(t.finishClose)
		return
	}
	h := windows.Handle(t.h.fd)
	if len(t.os.pending) > 0 {
		windows.CancelIoEx(h, nil)
	}
	windows.Closesocket(h)
	if len(t.os.pending) == 0 {
		t.h.unregister()
		t.h.fd = invalidFD
		t.h.l.queueClosing(t.finishClose)
		return
	}
	// Aborted completions still reference the pinned ops; the last unpin
	// unregisters and runs finishClose. The socket handle must stay valid
	// as a backend key until then.
	for op := range t.os.pending {
		if op.kind == opAccept {
			windows.Closesocket(op.sock)
		}
	}
}

// OnBackendEvent receives one finished overlapped operation.
func (t *TCP) OnBackendEvent(ev api.Event) {
	op := (*iocpOp)(unsafe.Pointer(ev.Op))
	if op == nil {
		return
	}
	if t.h.state == stateClosing {
		t.discardOp(op)
		return
	}
	switch op.kind {
	case opAccept:
		t.acceptDone(op, ev.Err)
	case opConnect:
		t.connectDone(op, ev.Err)
	case opRecv:
		t.recvDone(op, int(ev.N), ev.Err)
	case opSend:
		t.sendDone(op, int(ev.N), ev.Err)
	}
}

// discardOp drops a completion that arrived after Close.
func (t *TCP) discardOp(op *iocpOp) {
	if op.buf != nil {
		t.h.l.bufs.Put(op.buf)
		op.buf = nil
	}
	t.unpin(op)
}

func (t *TCP) acceptDone(op *iocpOp, err error) {
	t.unpin(op)
	if t.h.state != stateListening {
		windows.Closesocket(op.sock)
		return
	}
	if err != nil {
		windows.Closesocket(op.sock)
		t.acceptCb(nil, wrapSysErr("accept", err))
		if t.h.state == stateListening && t.postAccept() != nil {
			// The pool shrank; the caller can re-listen to recover.
			t.acceptCb(nil, api.ErrAcceptPoolBusy)
		}
		return
	}

	ls := windows.Handle(t.h.fd)
	windows.Setsockopt(op.sock, windows.SOL_SOCKET, windows.SO_UPDATE_ACCEPT_CONTEXT,
		(*byte)(unsafe.Pointer(&ls)), int32(unsafe.Sizeof(ls)))

	conn := &TCP{wq: queue.NewNormal[*writeReq]()}
	conn.h.attach(t.h.l, api.HandleTCP)
	conn.h.fd = uintptr(op.sock)
	conn.h.state = stateConnected
	conn.os.family = t.os.family
	if rsa, err := windows.Getpeername(op.sock); err == nil {
		conn.remote = sockaddrToTCP(rsa)
	}
	if lsa, err := windows.Getsockname(op.sock); err == nil {
		conn.local = sockaddrToTCP(lsa)
	}
	if t.postAccept() != nil {
		t.acceptCb(nil, api.ErrAcceptPoolBusy)
	}
	t.acceptCb(conn, nil)
}

func (t *TCP) connectDone(op *iocpOp, err error) {
	t.unpin(op)
	cb := t.connectCb
	t.connectCb = nil
	if cb == nil {
		return
	}
	if err != nil {
		t.h.state = stateInit
		cb(wrapSysErr("connect", err))
		return
	}
	h := windows.Handle(t.h.fd)
	windows.Setsockopt(h, windows.SOL_SOCKET, windows.SO_UPDATE_CONNECT_CONTEXT, nil, 0)
	t.h.state = stateConnected
	if lsa, gerr := windows.Getsockname(h); gerr == nil {
		t.local = sockaddrToTCP(lsa)
	}
	cb(nil)
}

func (t *TCP) recvDone(op *iocpOp, n int, err error) {
	buf := op.buf
	op.buf = nil
	t.unpin(op)
	defer t.h.l.bufs.Put(buf)
	if !t.reading {
		return
	}
	switch {
	case err != nil:
		t.reading = false
		if cb := t.readCb; cb != nil {
			cb(nil, wrapSysErr("read", err))
		}
	case n == 0:
		t.reading = false
		if cb := t.readCb; cb != nil {
			cb(nil, io.EOF)
		}
	default:
		t.readCb(buf[:n], nil)
		if t.reading && !t.h.closedOrClosing() {
			t.postRecv()
		}
	}
}

func (t *TCP) sendDone(op *iocpOp, n int, err error) {
	t.unpin(op)
	req, perr := t.wq.Peek()
	if perr != nil {
		return
	}
	if err != nil {
		t.wq.Dequeue()
		if cb := req.cb; cb != nil {
			off := req.off
			e := wrapSysErr("write", err)
			t.h.l.queueClosing(func() { cb(off, e) })
		}
	} else {
		req.off += n
		if req.off >= len(req.data) {
			t.wq.Dequeue()
			if cb := req.cb; cb != nil {
				off := req.off
				t.h.l.queueClosing(func() { cb(off, nil) })
			}
		}
	}
	if t.h.closedOrClosing() {
		return
	}
	if t.wq.Len() > 0 {
		t.postSend()
		return
	}
	if t.shutPending {
		t.shutPending = false
		if e := t.sockShutdownWrite(); e == nil {
			t.h.state = stateShutdown
		}
	}
}

func (t *TCP) applyReuseAddr() {
	windows.SetsockoptInt(windows.Handle(t.h.fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}

// Winsock has no SO_REUSEPORT equivalent.
func (t *TCP) applyReusePort() error { return api.ErrNotSupported }

func (t *TCP) applyNoDelay() error {
	v := 0
	if t.noDelay {
		v = 1
	}
	if err := windows.SetsockoptInt(windows.Handle(t.h.fd), windows.IPPROTO_TCP, windows.TCP_NODELAY, v); err != nil {
		return wrapSysErr("setsockopt", err)
	}
	return nil
}

func (t *TCP) applyKeepAlive() error {
	on := 0
	if t.keepAlive > 0 {
		on = 1
	}
	if err := windows.SetsockoptInt(windows.Handle(t.h.fd), windows.SOL_SOCKET, windows.SO_KEEPALIVE, on); err != nil {
		return wrapSysErr("setsockopt", err)
	}
	return nil
}
