// File: threadpool/pool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package threadpool_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/iox"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
	"github.com/momentics/hioload-aio/threadpool"
)

// submitRetry resubmits while the task ring is full. A full ring is the
// contract's fail-fast answer, not a failure.
func submitRetry(t *testing.T, p *threadpool.Pool, fn func() error) {
	t.Helper()
	bo := iox.Backoff{}
	for {
		err := p.Submit(fn, nil)
		if err == nil {
			return
		}
		if !errors.Is(err, iox.ErrWouldBlock) {
			t.Fatalf("Submit: %v", err)
		}
		bo.Wait()
	}
}

func TestSubmitAndWait(t *testing.T) {
	p, err := threadpool.New(threadpool.Config{Workers: 4, QueueCapacity: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown()

	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		submitRetry(t, p, func() error {
			ran.Add(1)
			return nil
		})
	}
	p.Wait()
	if got := ran.Load(); got != 100 {
		t.Fatalf("ran %d tasks, want 100", got)
	}
	st := p.Stats()
	if st.Completed != 100 || st.Failed != 0 || st.Pending != 0 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestDoneCallbackReceivesError(t *testing.T) {
	p, err := threadpool.New(threadpool.Config{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown()

	boom := errors.New("boom")
	got := make(chan error, 1)
	if err := p.Submit(func() error { return boom }, func(err error) { got <- err }); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, boom) {
			t.Fatalf("done received %v, want boom", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("done callback never ran")
	}
	p.Wait()
	if st := p.Stats(); st.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", st.Failed)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	p, err := threadpool.New(threadpool.Config{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown()

	got := make(chan error, 1)
	if err := p.Submit(func() error { panic("kaboom") }, func(err error) { got <- err }); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-got:
		if err == nil {
			t.Fatal("panic surfaced as nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("done callback never ran")
	}
	// The worker that recovered must still serve new tasks.
	done := make(chan error, 1)
	if err := p.Submit(func() error { return nil }, func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool stopped serving after a panic")
	}
}

func TestShutdownDrainsBacklog(t *testing.T) {
	p, err := threadpool.New(threadpool.Config{Workers: 1, QueueCapacity: 256})
	if err != nil {
		t.Fatal(err)
	}

	var ran atomic.Int64
	gate := make(chan struct{})
	// First task blocks the lone worker so the rest stack up.
	if err := p.Submit(func() error { <-gate; ran.Add(1); return nil }, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		if err := p.Submit(func() error { ran.Add(1); return nil }, nil); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	close(gate)
	p.Shutdown()
	if got := ran.Load(); got != 51 {
		t.Fatalf("ran %d tasks through Shutdown, want 51", got)
	}
	if err := p.Submit(func() error { return nil }, nil); !errors.Is(err, api.ErrPoolClosed) {
		t.Fatalf("Submit after Shutdown = %v, want ErrPoolClosed", err)
	}
}

func TestForceShutdownAbandonsBacklog(t *testing.T) {
	p, err := threadpool.New(threadpool.Config{Workers: 1, QueueCapacity: 256})
	if err != nil {
		t.Fatal(err)
	}

	var ran atomic.Int64
	gate := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(func() error { close(started); <-gate; return nil }, nil); err != nil {
		t.Fatal(err)
	}
	<-started
	for i := 0; i < 50; i++ {
		if err := p.Submit(func() error { ran.Add(1); return nil }, nil); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	close(gate)
	p.ForceShutdown()
	if got := ran.Load(); got == 50 {
		t.Log("all queued tasks happened to finish before the kill was seen")
	}
	if err := p.Submit(func() error { return nil }, nil); !errors.Is(err, api.ErrPoolClosed) {
		t.Fatalf("Submit after ForceShutdown = %v, want ErrPoolClosed", err)
	}
}

func TestNormalModeQueue(t *testing.T) {
	p, err := threadpool.New(threadpool.Config{
		Workers:       4,
		QueueCapacity: 128,
		QueueMode:     queue.Normal,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown()

	var ran atomic.Int64
	for i := 0; i < 100; i++ {
		if err := p.Submit(func() error { ran.Add(1); return nil }, nil); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	p.Wait()
	if got := ran.Load(); got != 100 {
		t.Fatalf("ran %d tasks, want 100", got)
	}
}

func TestSPSCModeRejected(t *testing.T) {
	if _, err := threadpool.New(threadpool.Config{QueueMode: queue.SPSC}); err == nil {
		t.Fatal("New accepted an spsc task queue")
	}
}
