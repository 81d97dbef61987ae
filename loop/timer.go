// File: loop/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"container/heap"
	"time"
)

// TimerFunc runs on the loop thread when a timer fires.
type TimerFunc func()

// Timer is a one-shot or periodic timer owned by a loop. Active timers keep
// the loop alive.
type Timer struct {
	l      *Loop
	cb     TimerFunc
	when   time.Time
	period time.Duration
	seq    uint64 // ties broken by insertion order
	idx    int    // heap position, -1 when inactive
}

// Stop cancels the timer. Safe to call from the timer's own callback and
// idempotent afterwards. Must run on the loop thread.
func (t *Timer) Stop() {
	if t.idx < 0 {
		return
	}
	heap.Remove(&t.l.timers, t.idx)
}

// Active reports whether the timer is scheduled to fire.
func (t *Timer) Active() bool { return t.idx >= 0 }

// AddTimer schedules cb to run after delay. A non-zero period re-arms the
// timer after each fire. Must run on the loop thread; use QueueWork from
// other threads.
func (l *Loop) AddTimer(delay, period time.Duration, cb TimerFunc) *Timer {
	if delay < 0 {
		delay = 0
	}
	l.timerSeq++
	t := &Timer{
		l:      l,
		cb:     cb,
		when:   l.now.Add(delay),
		period: period,
		seq:    l.timerSeq,
		idx:    -1,
	}
	heap.Push(&l.timers, t)
	return t
}

// fireTimers runs every timer due at the refreshed clock. Equal deadlines
// fire in insertion order. A periodic timer re-arms from its scheduled fire
// time, skipping ahead if the loop fell behind.
func (l *Loop) fireTimers() {
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.when.After(l.now) {
			return
		}
		heap.Pop(&l.timers)
		if t.period > 0 {
			next := t.when.Add(t.period)
			if !next.After(l.now) {
				next = l.now.Add(t.period)
			}
			t.when = next
			heap.Push(&l.timers, t)
		}
		t.cb()
	}
}

// nextTimerMs converts the earliest deadline into a poll timeout.
// Returns -1 with no timers armed.
func (l *Loop) nextTimerMs() int {
	if len(l.timers) == 0 {
		return -1
	}
	d := l.timers[0].when.Sub(l.now)
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if d%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// timerHeap orders timers by deadline, then insertion sequence.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.idx = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.idx = -1
	*h = old[:n-1]
	return t
}
