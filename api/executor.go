// File: api/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor contract for offloading blocking work to pool worker threads.

package api

// PoolStats is a snapshot of thread pool counters.
type PoolStats struct {
	Workers   int
	Running   int64
	Pending   int64
	Completed int64
	Failed    int64
}

// Executor abstracts the worker pool. Completion callbacks run on a pool
// worker, not on the loop thread; interaction back into loop state must go
// through Loop.QueueWork.
type Executor interface {
	// Submit schedules task. done, when non-nil, receives the task's error
	// (or the recovered panic as an error) after the task finishes.
	// Returns ErrPoolClosed once shutdown has begun.
	Submit(task func() error, done func(error)) error

	// Wait blocks until no tasks are pending or running.
	Wait()

	// Shutdown drains queued and running tasks, then stops the workers.
	Shutdown()

	// ForceShutdown stops the workers without draining; callbacks of
	// undrained tasks never fire.
	ForceShutdown()

	// Stats returns a snapshot of the pool counters.
	Stats() PoolStats
}
