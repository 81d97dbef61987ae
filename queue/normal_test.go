// File: queue/normal_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package queue_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/iox"

	"github.com/momentics/hioload-aio/queue"
)

func TestNormalFIFO(t *testing.T) {
	q := queue.NewNormal[int]()
	if q.Cap() != -1 {
		t.Fatalf("Cap() = %d, want -1", q.Cap())
	}
	for i := 0; i < 100; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d) = %v", i, err)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("Len() = %d, want 100", q.Len())
	}
	for i := 0; i < 100; i++ {
		v, err := q.Dequeue()
		if err != nil || v != i {
			t.Fatalf("Dequeue() = (%d, %v), want (%d, nil)", v, err, i)
		}
	}
	if _, err := q.Dequeue(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Dequeue on empty = %v, want ErrWouldBlock", err)
	}
	if _, err := q.Peek(); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Peek on empty = %v, want ErrWouldBlock", err)
	}
}

func TestNormalRangeEarlyStop(t *testing.T) {
	q := queue.NewNormal[int]()
	for i := 0; i < 5; i++ {
		_ = q.Enqueue(i)
	}
	seen := 0
	q.Range(func(int) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Fatalf("Range visited %d elements, want 3", seen)
	}
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len after Clear = %d", q.Len())
	}
}

func TestNewByMode(t *testing.T) {
	for _, mode := range []queue.Mode{queue.Normal, queue.SPSC, queue.MPSC} {
		q, err := queue.New[int](mode, 16)
		if err != nil || q == nil {
			t.Fatalf("New(%v) = (%v, %v)", mode, q, err)
		}
	}
	if _, err := queue.New[int](queue.Mode(42), 16); err == nil {
		t.Fatal("New with bogus mode succeeded")
	}
}
