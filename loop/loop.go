// File: loop/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-threaded reactor. One goroutine owns the loop; every handle
// operation and callback runs on it. Other goroutines reach the loop only
// through QueueWork, which pairs a lock-free enqueue with a backend wakeup.
//
// Each iteration: refresh the cached clock, fire due timers, drain a bounded
// batch of queued work, poll the backend, finalize closing handles, then
// decide whether anything keeps the loop alive.

package loop

import (
	"fmt"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/joeycumines/logiface"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/backend"
	"github.com/momentics/hioload-aio/bufpool"
	"github.com/momentics/hioload-aio/queue"
	"github.com/momentics/hioload-aio/threadpool"
)

const invalidFD = ^uintptr(0)

// maxIdlePollMs bounds a poll with no armed timer, so a lost wakeup can
// never park the loop forever.
const maxIdlePollMs = 10000

// Loop is an event loop. Create with New, drive with Run, release with
// Close. Not safe for concurrent use except where noted (QueueWork, Stop).
type Loop struct {
	cfg  api.Config
	b    api.Backend
	log  *logiface.Logger[logiface.Event]
	exec *threadpool.Pool
	bufs *bufpool.Pool

	now      time.Time
	timers   timerHeap
	timerSeq uint64

	work api.Queue[*workItem]

	reg     registry
	refs    int
	closing []func()

	running atomix.Uint64
	stopReq atomix.Uint64
	closed  atomix.Uint64
}

// New creates a loop with its backend, worker pool and buffer pool.
func New(cfg api.Config) (*Loop, error) {
	cfg.Normalize()
	b, err := backend.New(cfg.Backend, cfg.MaxEvents)
	if err != nil {
		return nil, err
	}
	work, err := queue.New[*workItem](queue.MPSC, cfg.PendingCapacity)
	if err != nil {
		b.Close()
		return nil, err
	}
	exec, err := threadpool.New(threadpool.Config{
		Workers:       cfg.Workers,
		QueueCapacity: cfg.TaskQueueCapacity,
		QueueMode:     poolMode(cfg.TaskQueueMode),
		LockOSThread:  cfg.LockOSThread,
		Logger:        cfg.Logger,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	l := &Loop{
		cfg:  cfg,
		b:    b,
		log:  cfg.Logger,
		exec: exec,
		bufs: bufpool.New(),
		work: work,
		now:  time.Now(),
	}
	l.log.Info().Str("backend", b.Name()).Log("loop created")
	return l, nil
}

func poolMode(m api.QueueMode) queue.Mode {
	if m == api.QueueNormal {
		return queue.Normal
	}
	return queue.MPSC
}

// Run drives the loop on the calling goroutine.
//
//   - api.RunDefault: iterate until nothing keeps the loop alive or Stop is
//     called.
//   - api.RunOnce: one iteration, blocking in the poller if idle.
//   - api.RunNoWait: one iteration without blocking.
//
// A loop that runs out of work closes itself; Run on a closed or already
// running loop fails.
func (l *Loop) Run(mode api.RunMode) error {
	if l.closed.Load() != 0 {
		return api.ErrLoopClosed
	}
	if !l.running.CompareAndSwapAcqRel(0, 1) {
		return api.ErrLoopRunning
	}
	defer l.running.StoreRelease(0)
	l.stopReq.StoreRelease(0)

	for {
		alive := l.iterate(mode)
		if !alive {
			// Sequentially consistent store: a producer whose post-enqueue
			// load still saw 0 enqueued before this point, so the final
			// drain below observes its item.
			l.closed.Store(1)
			l.drainFinalWork()
			return nil
		}
		if mode != api.RunDefault || l.stopReq.LoadAcquire() != 0 {
			return nil
		}
	}
}

func (l *Loop) iterate(mode api.RunMode) bool {
	l.now = time.Now()
	l.fireTimers()
	l.drainWork()

	timeout := l.pollTimeout(mode)
	if _, err := l.b.Poll(timeout); err != nil {
		l.log.Err().Err(err).Log("poll failed")
	}
	l.now = time.Now()
	l.finalizeClosing()
	return l.alive()
}

// pollTimeout picks the backend wait. Zero whenever blocking would delay
// known work or the loop is about to exit.
func (l *Loop) pollTimeout(mode api.RunMode) int {
	if mode == api.RunNoWait {
		return 0
	}
	if l.work.Len() > 0 || len(l.closing) > 0 || l.stopReq.LoadAcquire() != 0 {
		return 0
	}
	if !l.alive() {
		return 0
	}
	if ms := l.nextTimerMs(); ms >= 0 {
		return ms
	}
	return maxIdlePollMs
}

// alive reports whether anything can still generate events.
func (l *Loop) alive() bool {
	return l.reg.len() > 0 || l.refs > 0 || len(l.timers) > 0 ||
		l.work.Len() > 0 || len(l.closing) > 0
}

// workItem is a queued cross-thread callback. The claim flag settles the
// race between the loop's final drain and a producer that observed the
// closed flag after enqueueing: exactly one side wins, so the callback
// either runs or its QueueWork call reports ErrLoopClosed, never both and
// never neither.
type workItem struct {
	fn      func()
	claimed atomix.Uint64
}

func (w *workItem) claim() bool { return w.claimed.CompareAndSwapAcqRel(0, 1) }

// drainWork runs at most one queue capacity's worth of callbacks, so
// producers cannot starve the poller.
func (l *Loop) drainWork() {
	limit := l.work.Cap()
	for i := 0; i < limit; i++ {
		it, err := l.work.Dequeue()
		if err != nil {
			return
		}
		if it.claim() {
			it.fn()
		}
	}
}

// drainFinalWork runs everything still queued after the exit decision.
// Anything visible here was enqueued by a producer that saw closed==0 and
// was promised execution.
func (l *Loop) drainFinalWork() {
	for {
		it, err := l.work.Dequeue()
		if err != nil {
			return
		}
		if it.claim() {
			it.fn()
		}
	}
}

// discardWork empties the queue without running anything; used by Close,
// where the handles the callbacks refer to are already gone.
func (l *Loop) discardWork() {
	for {
		it, err := l.work.Dequeue()
		if err != nil {
			return
		}
		it.claim()
	}
}

func (l *Loop) finalizeClosing() {
	for len(l.closing) > 0 {
		batch := l.closing
		l.closing = nil
		for _, fin := range batch {
			fin()
		}
	}
}

// QueueWork schedules fn on the loop thread and wakes the poller. Safe from
// any goroutine. Fails with iox.ErrWouldBlock when the pending queue is
// full and api.ErrLoopClosed once the loop has shut down. The outcome is
// exact: a nil return means fn runs before Run returns, an error means it
// never runs.
func (l *Loop) QueueWork(fn func()) error {
	if fn == nil {
		return fmt.Errorf("loop: nil callback")
	}
	if l.closed.Load() != 0 {
		return api.ErrLoopClosed
	}
	it := &workItem{fn: fn}
	if err := l.work.Enqueue(it); err != nil {
		return err
	}
	if l.closed.Load() != 0 {
		// Racing the exit path. If the final drain got here first the
		// callback runs and this call succeeded; otherwise claiming the
		// item withdraws it.
		if it.claim() {
			return api.ErrLoopClosed
		}
		return nil
	}
	return l.b.Wakeup()
}

// SubmitWork runs fn on the worker pool; done, if non-nil, is marshaled
// back onto the loop thread with fn's result.
func (l *Loop) SubmitWork(fn func() error, done func(error)) error {
	if done == nil {
		return l.exec.Submit(fn, nil)
	}
	return l.exec.Submit(fn, func(err error) {
		if qerr := l.QueueWork(func() { done(err) }); qerr != nil {
			l.log.Err().Err(qerr).Log("work completion dropped")
		}
	})
}

// Stop makes a running Run return after the current iteration. Safe from
// any goroutine. The loop stays open and can run again.
func (l *Loop) Stop() {
	l.stopReq.StoreRelease(1)
	l.b.Wakeup()
}

// Ref adds an external liveness reference, keeping Run from exiting while
// work is expected from outside the loop. Loop thread only.
func (l *Loop) Ref() { l.refs++ }

// Unref drops a reference added by Ref.
func (l *Loop) Unref() {
	if l.refs > 0 {
		l.refs--
	}
}

// ActiveHandles reports how many handles are registered with the loop,
// closing ones included until finalization.
func (l *Loop) ActiveHandles() int { return l.reg.len() }

// Now returns the clock cached at the start of the current iteration.
func (l *Loop) Now() time.Time { return l.now }

// BackendName reports which poller the loop runs on.
func (l *Loop) BackendName() string { return l.b.Name() }

// Buffers exposes the loop's byte buffer pool.
func (l *Loop) Buffers() *bufpool.Pool { return l.bufs }

// PoolStats reports worker pool counters.
func (l *Loop) PoolStats() api.PoolStats { return l.exec.Stats() }

// queueClosing defers fin to the finalization phase of the current
// iteration.
func (l *Loop) queueClosing(fin func()) {
	l.closing = append(l.closing, fin)
}

// Close releases the loop. It fails on a running loop; stop it first.
// Remaining handles are torn down without their close callbacks.
func (l *Loop) Close() error {
	if l.running.LoadAcquire() != 0 {
		return api.ErrLoopRunning
	}
	l.closed.Store(1)
	l.exec.Shutdown()
	l.reg.each(func(h *handle) {
		h.unregister()
		closeFD(h.fd)
		h.fd = invalidFD
		h.state = stateClosed
	})
	l.discardWork()
	err := l.b.Close()
	l.log.Info().Log("loop closed")
	return err
}
