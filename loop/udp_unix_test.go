// File: loop/udp_unix_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build unix

package loop_test

import (
	"errors"
	"net"
	"testing"

	"github.com/momentics/hioload-aio/api"
)

func TestUDPRoundTrip(t *testing.T) {
	l := newLoop(t)

	recv, err := l.NewUDP()
	if err != nil {
		t.Fatal(err)
	}
	if err := recv.Bind("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	addr := recv.LocalAddr().String()

	send, err := l.NewUDP()
	if err != nil {
		t.Fatal(err)
	}
	if err := send.Bind("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}

	var got []byte
	var sent bool
	err = recv.RecvStart(func(data []byte, from *net.UDPAddr, err error) {
		if err != nil {
			t.Errorf("recv: %v", err)
			return
		}
		got = append([]byte(nil), data...)
		recv.Close(nil)
		send.Close(nil)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = send.Send([]byte("datagram"), addr, func(err error) {
		if err != nil {
			t.Errorf("send: %v", err)
		}
		sent = true
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
	if !sent {
		t.Fatal("send callback never ran")
	}
	if string(got) != "datagram" {
		t.Fatalf("received %q, want %q", got, "datagram")
	}
}

func TestUDPSendBeforeBind(t *testing.T) {
	l := newLoop(t)
	u, err := l.NewUDP()
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Send([]byte("x"), "127.0.0.1:9", nil); !errors.Is(err, api.ErrInvalidState) {
		t.Fatalf("Send before Bind = %v, want ErrInvalidState", err)
	}
	u.Close(nil)
	if err := l.Run(api.RunDefault); err != nil {
		t.Fatal(err)
	}
}
