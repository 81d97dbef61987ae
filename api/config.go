// File: api/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop and thread pool configuration.

package api

import "github.com/joeycumines/logiface"

// QueueMode selects the discipline of the thread pool task queue.
type QueueMode int

const (
	// QueueMPSC is the default: the lock-free sequence-numbered ring. Its
	// CAS-guarded dequeue tolerates the pool's multiple consumers.
	QueueMPSC QueueMode = iota
	// QueueNormal is the unsynchronized growable ring; the pool guards it
	// with an internal mutex when more than one worker is configured.
	QueueNormal
)

// Config carries loop-creation parameters. The zero value is usable;
// Normalize fills defaults in place.
type Config struct {
	// Backend selects the notification mechanism. BackendAuto picks the
	// platform default.
	Backend BackendType

	// MaxEvents caps the number of kernel events harvested per poll.
	MaxEvents int

	// Workers is the thread pool size. 0 means one worker per CPU core.
	Workers int

	// TaskQueueCapacity bounds the pool task queue (MPSC mode).
	TaskQueueCapacity int

	// TaskQueueMode selects the pool queue discipline.
	TaskQueueMode QueueMode

	// PendingCapacity bounds the loop's cross-thread callback ring.
	PendingCapacity int

	// LockOSThread pins each pool worker goroutine to an OS thread.
	LockOSThread bool

	// Logger receives structured diagnostics. nil disables logging.
	Logger *logiface.Logger[logiface.Event]
}

// Defaults for Config.Normalize.
const (
	DefaultMaxEvents       = 256
	DefaultTaskQueueCap    = 1024
	DefaultPendingCapacity = 4096
)

// Normalize fills zero fields with defaults.
func (c *Config) Normalize() {
	if c.MaxEvents <= 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.TaskQueueCapacity <= 0 {
		c.TaskQueueCapacity = DefaultTaskQueueCap
	}
	if c.PendingCapacity <= 0 {
		c.PendingCapacity = DefaultPendingCapacity
	}
}
