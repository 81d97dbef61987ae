// File: threadpool/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed worker pool over the queue package. Producers enqueue a task and then
// post a token on a buffered semaphore channel sized to the queue capacity;
// workers block on the semaphore, so a token is only ever posted after its
// task is visible in the ring. Two shutdown channels: quit drains the backlog,
// kill abandons it.

package threadpool

import (
	"fmt"
	"runtime"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/joeycumines/logiface"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/queue"
)

// Config carries pool construction parameters. Zero values are filled in by
// New: one worker per CPU, queue capacity api.DefaultTaskQueueCap, MPSC mode.
type Config struct {
	Workers       int
	QueueCapacity int
	QueueMode     queue.Mode
	LockOSThread  bool
	Logger        *logiface.Logger[logiface.Event]
}

type task struct {
	fn   func() error
	done func(error)
}

// Pool implements api.Executor.
type Pool struct {
	tasks   api.Queue[task]
	mu      sync.Mutex // guards tasks in Normal mode only
	normal  bool
	sem     chan struct{}
	quitCh  chan struct{}
	killCh  chan struct{}
	wg      sync.WaitGroup
	workers int
	lockOS  bool
	log     *logiface.Logger[logiface.Event]

	closed    atomix.Uint64
	quitOnce  sync.Once
	killOnce  sync.Once
	pending   atomix.Uint64
	running   atomix.Uint64
	completed atomix.Uint64
	failed    atomix.Uint64
}

// New creates and starts the pool. Workers begin blocking on the task
// semaphore immediately.
func New(cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = api.DefaultTaskQueueCap
	}
	if cfg.QueueMode == queue.SPSC {
		return nil, fmt.Errorf("threadpool: spsc task queue cannot feed %d workers", cfg.Workers)
	}
	q, err := queue.New[task](cfg.QueueMode, cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}
	// The ring rounds capacity up; the semaphore must hold one token per
	// slot or Submit could block after a successful enqueue.
	semCap := cfg.QueueCapacity
	if c := q.Cap(); c > 0 {
		semCap = c
	}
	p := &Pool{
		tasks:   q,
		normal:  cfg.QueueMode == queue.Normal,
		sem:     make(chan struct{}, semCap),
		quitCh:  make(chan struct{}),
		killCh:  make(chan struct{}),
		workers: cfg.Workers,
		lockOS:  cfg.LockOSThread,
		log:     cfg.Logger,
	}
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit enqueues a task. done, if non-nil, runs on the worker after the
// task returns. A full queue reports iox.ErrWouldBlock without blocking.
func (p *Pool) Submit(fn func() error, done func(error)) error {
	if fn == nil {
		return fmt.Errorf("threadpool: nil task")
	}
	if p.closed.LoadAcquire() != 0 {
		return api.ErrPoolClosed
	}
	if p.normal {
		p.mu.Lock()
		if p.tasks.Len() >= cap(p.sem) {
			p.mu.Unlock()
			return iox.ErrWouldBlock
		}
		err := p.tasks.Enqueue(task{fn: fn, done: done})
		p.mu.Unlock()
		if err != nil {
			return err
		}
	} else {
		if err := p.tasks.Enqueue(task{fn: fn, done: done}); err != nil {
			return err
		}
	}
	p.pending.AddAcqRel(1)
	// Cannot block: tokens never exceed enqueued tasks, which the bound
	// above and the ring capacity both cap at len(sem).
	p.sem <- struct{}{}
	return nil
}

// Wait blocks until no task is pending or running. It does not close the
// pool; new submissions after Wait returns are accepted.
func (p *Pool) Wait() {
	bo := iox.Backoff{}
	for p.pending.LoadAcquire()+p.running.LoadAcquire() != 0 {
		bo.Wait()
	}
}

// Shutdown stops accepting tasks, lets workers drain the backlog, and
// returns once all workers exit.
func (p *Pool) Shutdown() {
	p.closed.StoreRelease(1)
	p.quitOnce.Do(func() { close(p.quitCh) })
	p.wg.Wait()
}

// ForceShutdown stops accepting tasks and returns as soon as the workers
// notice the kill signal. Queued tasks are abandoned; their done callbacks
// never run.
func (p *Pool) ForceShutdown() {
	p.closed.StoreRelease(1)
	p.killOnce.Do(func() { close(p.killCh) })
	p.wg.Wait()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() api.PoolStats {
	return api.PoolStats{
		Workers:   p.workers,
		Running:   int64(p.running.LoadAcquire()),
		Pending:   int64(p.pending.LoadAcquire()),
		Completed: int64(p.completed.LoadAcquire()),
		Failed:    int64(p.failed.LoadAcquire()),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	if p.lockOS {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	for {
		select {
		case <-p.killCh:
			return
		case <-p.sem:
			p.runOne()
		case <-p.quitCh:
			p.drain()
			return
		}
	}
}

// drain consumes the remaining semaphore tokens after quit, still honoring
// kill.
func (p *Pool) drain() {
	for {
		select {
		case <-p.killCh:
			return
		case <-p.sem:
			p.runOne()
		default:
			return
		}
	}
}

// runOne takes the task its semaphore token vouches for and executes it. The
// token is posted after the enqueue, so the dequeue can only race a slot
// publication for a later task; the spin inside the MPSC dequeue covers that.
func (p *Pool) runOne() {
	var t task
	if p.normal {
		p.mu.Lock()
		t, _ = p.tasks.Dequeue()
		p.mu.Unlock()
	} else {
		bo := iox.Backoff{}
		for {
			var err error
			t, err = p.tasks.Dequeue()
			if err == nil {
				break
			}
			bo.Wait()
		}
	}
	if t.fn == nil {
		p.pending.AddAcqRel(^uint64(0))
		return
	}
	p.running.AddAcqRel(1)
	p.pending.AddAcqRel(^uint64(0))
	err := p.call(t.fn)
	if err != nil {
		p.failed.AddAcqRel(1)
	} else {
		p.completed.AddAcqRel(1)
	}
	p.running.AddAcqRel(^uint64(0))
	if t.done != nil {
		t.done(err)
	}
}

// call runs fn, converting a panic into an error so one bad task cannot take
// a worker down.
func (p *Pool) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("threadpool: task panic: %v", r)
			p.log.Err().Str("panic", fmt.Sprint(r)).Log("task panicked")
		}
	}()
	return fn()
}
