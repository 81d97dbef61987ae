// File: backend/backend_unix_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build unix

package backend_test

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/backend"
)

type captureSink struct {
	events []api.Event
}

func (s *captureSink) OnBackendEvent(ev api.Event) {
	s.events = append(s.events, ev)
}

func newPipe(t *testing.T) (int, int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		t.Fatal(err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func backendsUnderTest(t *testing.T) map[string]api.BackendType {
	t.Helper()
	return map[string]api.BackendType{
		"auto":   api.BackendAuto,
		"select": api.BackendSelect,
	}
}

func TestReadReadiness(t *testing.T) {
	for name, typ := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			b, err := backend.New(typ, 32)
			if err != nil {
				t.Fatal(err)
			}
			defer b.Close()

			r, w := newPipe(t)
			sink := &captureSink{}
			if err := b.Add(uintptr(r), api.EventRead, sink); err != nil {
				t.Fatal(err)
			}

			// Nothing readable yet.
			if n, err := b.Poll(0); err != nil || n != 0 {
				t.Fatalf("Poll(0) = (%d, %v), want (0, nil)", n, err)
			}

			if _, err := unix.Write(w, []byte("x")); err != nil {
				t.Fatal(err)
			}
			n, err := b.Poll(1000)
			if err != nil || n != 1 {
				t.Fatalf("Poll = (%d, %v), want (1, nil)", n, err)
			}
			if len(sink.events) != 1 || !sink.events[0].Events.Has(api.EventRead) {
				t.Fatalf("events = %+v", sink.events)
			}
			if sink.events[0].FD != uintptr(r) {
				t.Fatalf("event fd = %d, want %d", sink.events[0].FD, r)
			}
		})
	}
}

func TestRegistrationErrors(t *testing.T) {
	b, err := backend.New(api.BackendAuto, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	r, _ := newPipe(t)
	sink := &captureSink{}
	if err := b.Add(uintptr(r), api.EventRead, sink); err != nil {
		t.Fatal(err)
	}
	if err := b.Add(uintptr(r), api.EventRead, sink); !errors.Is(err, api.ErrFDRegistered) {
		t.Fatalf("double Add = %v, want ErrFDRegistered", err)
	}
	if err := b.Remove(uintptr(r)); err != nil {
		t.Fatal(err)
	}
	if err := b.Remove(uintptr(r)); !errors.Is(err, api.ErrFDNotRegistered) {
		t.Fatalf("double Remove = %v, want ErrFDNotRegistered", err)
	}
	if err := b.Modify(uintptr(r), api.EventWrite); !errors.Is(err, api.ErrFDNotRegistered) {
		t.Fatalf("Modify unregistered = %v, want ErrFDNotRegistered", err)
	}
}

func TestModifySwitchesInterest(t *testing.T) {
	b, err := backend.New(api.BackendAuto, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	r, w := newPipe(t)
	sink := &captureSink{}
	// Watch the write end for writability.
	if err := b.Add(uintptr(w), api.EventWrite, sink); err != nil {
		t.Fatal(err)
	}
	if n, err := b.Poll(1000); err != nil || n != 1 {
		t.Fatalf("Poll = (%d, %v), want writable", n, err)
	}
	if !sink.events[0].Events.Has(api.EventWrite) {
		t.Fatalf("events = %+v", sink.events)
	}

	// Drop write interest; an empty pipe stays silent.
	if err := b.Modify(uintptr(w), 0); err != nil {
		t.Fatal(err)
	}
	sink.events = nil
	if n, err := b.Poll(0); err != nil || n != 0 {
		t.Fatalf("Poll after Modify = (%d, %v), want (0, nil)", n, err)
	}
	_ = r
}

func TestWakeupUnblocksPoll(t *testing.T) {
	b, err := backend.New(api.BackendAuto, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	unblocked := make(chan struct{})
	go func() {
		b.Poll(-1)
		close(unblocked)
	}()
	time.Sleep(50 * time.Millisecond)
	if err := b.Wakeup(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-unblocked:
	case <-time.After(5 * time.Second):
		t.Fatal("Wakeup did not unblock Poll")
	}
}

func TestBackendName(t *testing.T) {
	b, err := backend.New(api.BackendAuto, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if b.Name() == "" {
		t.Fatal("empty backend name")
	}
}
