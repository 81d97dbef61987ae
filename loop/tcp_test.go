// File: loop/tcp_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/loop"
)

// startListener binds an ephemeral port and returns the listener and its
// address.
func startListener(t *testing.T, l *loop.Loop, accept loop.AcceptFunc) (*loop.TCP, string) {
	t.Helper()
	srv := l.NewTCP()
	if err := srv.Bind("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(16, accept); err != nil {
		t.Fatal(err)
	}
	return srv, srv.LocalAddr().String()
}

func TestEchoRoundTrip(t *testing.T) {
	l := newLoop(t)
	payload := []byte("ping over the loop")

	var srv *loop.TCP
	var addr string
	srv, addr = startListener(t, l, func(conn *loop.TCP, err error) {
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		conn.ReadStart(func(data []byte, err error) {
			if err != nil {
				if !errors.Is(err, io.EOF) {
					t.Errorf("server read: %v", err)
				}
				conn.Close(nil)
				return
			}
			// Echo back; the read buffer is loaned, so copy.
			conn.Write(append([]byte(nil), data...), nil)
		})
	})

	var got bytes.Buffer
	cli := l.NewTCP()
	err := cli.Connect(addr, func(err error) {
		if err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		cli.Write(payload, nil)
		cli.ReadStart(func(data []byte, err error) {
			if err != nil {
				t.Errorf("client read: %v", err)
				return
			}
			got.Write(data)
			if got.Len() >= len(payload) {
				cli.Close(nil)
				srv.Close(nil)
			}
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("echoed %q, want %q", got.Bytes(), payload)
	}
}

// TestLargeTransfer pushes enough data to force partial writes and multiple
// readiness cycles.
func TestLargeTransfer(t *testing.T) {
	l := newLoop(t)
	const total = 8 << 20

	payload := make([]byte, total)
	for i := range payload {
		payload[i] = byte(i)
	}

	received := 0
	var srv *loop.TCP
	var addr string
	srv, addr = startListener(t, l, func(conn *loop.TCP, err error) {
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		conn.ReadStart(func(data []byte, err error) {
			if errors.Is(err, io.EOF) {
				conn.Close(nil)
				return
			}
			if err != nil {
				t.Errorf("server read: %v", err)
				conn.Close(nil)
				return
			}
			received += len(data)
		})
	})

	cli := l.NewTCP()
	wrote := 0
	err := cli.Connect(addr, func(err error) {
		if err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		cli.Write(payload, func(n int, err error) {
			if err != nil {
				t.Errorf("write: %v", err)
			}
			wrote = n
			cli.CloseWrite()
			// EOF on the server side closes everything down.
			cli.ReadStart(func(data []byte, err error) {
				cli.Close(nil)
				srv.Close(nil)
			})
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	done := l.AddTimer(30*time.Second, 0, func() {
		t.Error("transfer timed out")
		l.Stop()
	})
	// The timer must not hold the loop open after the sockets finish.
	srvDone := l.AddTimer(50*time.Millisecond, 50*time.Millisecond, func() {})
	_ = srvDone

	go func() {
		for {
			time.Sleep(100 * time.Millisecond)
			if err := l.QueueWork(func() {
				if received >= total {
					done.Stop()
					srvDone.Stop()
				}
			}); err != nil {
				return
			}
		}
	}()

	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if wrote != total {
		t.Fatalf("write callback reported %d bytes, want %d", wrote, total)
	}
	if received != total {
		t.Fatalf("received %d bytes, want %d", received, total)
	}
}

func TestCloseWriteDeliversEOF(t *testing.T) {
	l := newLoop(t)
	sawEOF := false

	var srv *loop.TCP
	var addr string
	srv, addr = startListener(t, l, func(conn *loop.TCP, err error) {
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		conn.ReadStart(func(data []byte, err error) {
			if errors.Is(err, io.EOF) {
				sawEOF = true
				conn.Close(nil)
				return
			}
			if err != nil {
				t.Errorf("read: %v", err)
			}
		})
	})

	cli := l.NewTCP()
	err := cli.Connect(addr, func(err error) {
		if err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		cli.Write([]byte("last words"), nil)
		if err := cli.CloseWrite(); err != nil {
			t.Errorf("CloseWrite: %v", err)
		}
		l.AddTimer(200*time.Millisecond, 0, func() {
			cli.Close(nil)
			srv.Close(nil)
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if !sawEOF {
		t.Fatal("server never saw EOF after CloseWrite")
	}
}

func TestConnectRefused(t *testing.T) {
	l := newLoop(t)

	// Grab a port, then free it so the connect has nobody to talk to.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := probe.Addr().String()
	probe.Close()

	var connectErr error
	gotCb := false
	cli := l.NewTCP()
	err = cli.Connect(addr, func(err error) {
		connectErr = err
		gotCb = true
		cli.Close(nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotCb {
		t.Fatal("connect callback fired synchronously")
	}
	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if !gotCb {
		t.Fatal("connect callback never fired")
	}
	if connectErr == nil {
		t.Fatal("connect to dead port succeeded")
	}
}

func TestReadStopIsIdempotent(t *testing.T) {
	l := newLoop(t)
	var first, second []byte
	var srvConn *loop.TCP

	var srv *loop.TCP
	var addr string
	srv, addr = startListener(t, l, func(conn *loop.TCP, err error) {
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		srvConn = conn
		conn.Write([]byte("one"), func(int, error) {
			l.AddTimer(100*time.Millisecond, 0, func() {
				conn.Write([]byte("two"), nil)
			})
		})
	})

	cli := l.NewTCP()
	err := cli.Connect(addr, func(err error) {
		if err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		cli.ReadStart(func(data []byte, err error) {
			if err != nil {
				return
			}
			first = append(first, data...)
			cli.ReadStop()
			cli.ReadStop() // second stop is a no-op
			l.AddTimer(50*time.Millisecond, 0, func() {
				cli.ReadStart(func(data []byte, err error) {
					if err != nil {
						return
					}
					second = append(second, data...)
					cli.Close(nil)
					srv.Close(nil)
					if srvConn != nil {
						srvConn.Close(nil)
					}
				})
			})
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if string(first) != "one" || string(second) != "two" {
		t.Fatalf("reads = (%q, %q), want (one, two)", first, second)
	}
}

func TestCloseResolvesQueuedWrites(t *testing.T) {
	l := newLoop(t)

	var srv *loop.TCP
	var addr string
	srv, addr = startListener(t, l, func(conn *loop.TCP, err error) {
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		// Never read; drop the connection so it cannot hold the loop open.
		conn.Close(nil)
	})

	const writes = 4
	resolved := 0
	closed := false
	cli := l.NewTCP()
	err := cli.Connect(addr, func(err error) {
		if err != nil {
			t.Errorf("connect: %v", err)
			return
		}
		big := make([]byte, 4<<20)
		for i := 0; i < writes; i++ {
			cli.Write(big, func(int, error) { resolved++ })
		}
		cli.Close(func() { closed = true })
		srv.Close(nil)
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if !closed {
		t.Fatal("close callback never ran")
	}
	if resolved != writes {
		t.Fatalf("resolved %d write callbacks, want %d", resolved, writes)
	}
}

func TestInvalidStateErrors(t *testing.T) {
	l := newLoop(t)
	h := l.NewTCP()
	if err := h.Listen(1, func(*loop.TCP, error) {}); !errors.Is(err, api.ErrInvalidState) {
		t.Fatalf("Listen before Bind = %v, want ErrInvalidState", err)
	}
	if err := h.Write([]byte("x"), nil); !errors.Is(err, api.ErrInvalidState) {
		t.Fatalf("Write before connect = %v, want ErrInvalidState", err)
	}
	if err := h.ReadStart(func([]byte, error) {}); !errors.Is(err, api.ErrInvalidState) {
		t.Fatalf("ReadStart before connect = %v, want ErrInvalidState", err)
	}
	h.Close(nil)
	if err := h.Bind("127.0.0.1:0"); !errors.Is(err, api.ErrHandleClosed) {
		t.Fatalf("Bind after Close = %v, want ErrHandleClosed", err)
	}
	// Run drains the closing handle.
	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
}

// TestReadFiresOnReadable drives the read path from a plain client socket,
// so the only event the poller reports on the server side is readability.
func TestReadFiresOnReadable(t *testing.T) {
	l := newLoop(t)
	var got []byte
	var fallback *loop.Timer

	var srv *loop.TCP
	var addr string
	srv, addr = startListener(t, l, func(conn *loop.TCP, err error) {
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		conn.ReadStart(func(data []byte, err error) {
			if err != nil {
				return
			}
			got = append(got, data...)
			fallback.Stop()
			conn.Close(nil)
			srv.Close(nil)
		})
	})

	go func() {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			t.Errorf("dial: %v", err)
			l.Stop()
			return
		}
		c.Write([]byte("ping"))
		// Keep the socket open until the loop is done with it.
		buf := make([]byte, 1)
		c.Read(buf)
		c.Close()
	}()

	fallback = l.AddTimer(3*time.Second, 0, func() {
		t.Error("read callback never fired for a readable connected socket")
		srv.Close(nil)
	})

	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if string(got) != "ping" {
		t.Fatalf("read %q, want %q", got, "ping")
	}
}
