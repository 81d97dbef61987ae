// File: queue/mpsc_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package queue_test

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"code.hybscloud.com/iox"

	"github.com/momentics/hioload-aio/queue"
)

func TestMPSCBoundary(t *testing.T) {
	q := queue.NewMPSC[int](8)
	if q.Cap() != 8 {
		t.Fatalf("Cap() = %d, want 8", q.Cap())
	}
	// Sequence-numbered slots: all 8 are usable.
	for i := 0; i < 8; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}
	if err := q.Enqueue(8); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Enqueue on full = %v, want ErrWouldBlock", err)
	}
	for i := 0; i < 8; i++ {
		v, err := q.Dequeue()
		if err != nil || v != i {
			t.Fatalf("Dequeue() = (%d, %v), want (%d, nil)", v, err, i)
		}
	}
	if _, err := q.Dequeue(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Dequeue on empty = %v, want ErrWouldBlock", err)
	}
}

func TestMPSCCapacityRounding(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, 2}, {1, 2}, {3, 4}, {8, 8}, {1000, 1024},
	} {
		q := queue.NewMPSC[int](tc.in)
		if q.Cap() != tc.want {
			t.Fatalf("NewMPSC(%d).Cap() = %d, want %d", tc.in, q.Cap(), tc.want)
		}
	}
}

func TestMPSCLenClamped(t *testing.T) {
	q := queue.NewMPSC[int](4)
	if n := q.Len(); n != 0 {
		t.Fatalf("Len() = %d, want 0", n)
	}
	_ = q.Enqueue(1)
	_ = q.Enqueue(2)
	if n := q.Len(); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}
}

// TestMPSCManyProducers drives several producers against one consumer and
// checks that every element arrives exactly once and per-producer order is
// preserved.
func TestMPSCManyProducers(t *testing.T) {
	const (
		producers   = 8
		perProducer = 20000
	)
	q := queue.NewMPSC[[2]int](256)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for q.Enqueue([2]int{p, i}) != nil {
					// Full ring; yield so the consumer can make room even
					// on a single CPU.
					runtime.Gosched()
				}
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	received := 0
	for received < producers*perProducer {
		v, err := q.Dequeue()
		if err != nil {
			runtime.Gosched()
			continue
		}
		p, seq := v[0], v[1]
		if seq != last[p]+1 {
			t.Fatalf("producer %d: got seq %d after %d", p, seq, last[p])
		}
		last[p] = seq
		received++
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after drain, want 0", q.Len())
	}
}

func TestMPSCPeekAndRange(t *testing.T) {
	q := queue.NewMPSC[int](8)
	if _, err := q.Peek(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Peek on empty = %v, want ErrWouldBlock", err)
	}
	for i := 1; i <= 3; i++ {
		_ = q.Enqueue(i * 10)
	}
	if v, err := q.Peek(); err != nil || v != 10 {
		t.Fatalf("Peek() = (%d, %v), want (10, nil)", v, err)
	}
	var got []int
	q.Range(func(v int) bool {
		got = append(got, v)
		return true
	})
	if len(got) != 3 || got[0] != 10 || got[2] != 30 {
		t.Fatalf("Range snapshot = %v", got)
	}
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len after Clear = %d", q.Len())
	}
}
