// File: loop/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"github.com/joeycumines/logiface"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/bufpool"
)

type options struct {
	cfg  api.Config
	bufs *bufpool.Pool
}

// Option adjusts loop construction.
type Option func(*options)

// WithBackend selects the notification mechanism instead of the platform
// default.
func WithBackend(t api.BackendType) Option {
	return func(o *options) { o.cfg.Backend = t }
}

// WithMaxEvents caps the events harvested per poll.
func WithMaxEvents(n int) Option {
	return func(o *options) { o.cfg.MaxEvents = n }
}

// WithWorkers sets the thread pool size.
func WithWorkers(n int) Option {
	return func(o *options) { o.cfg.Workers = n }
}

// WithTaskQueue sets the pool task queue capacity and mode.
func WithTaskQueue(capacity int, mode api.QueueMode) Option {
	return func(o *options) {
		o.cfg.TaskQueueCapacity = capacity
		o.cfg.TaskQueueMode = mode
	}
}

// WithPendingCapacity bounds the cross-thread callback ring.
func WithPendingCapacity(n int) Option {
	return func(o *options) { o.cfg.PendingCapacity = n }
}

// WithLockOSThread pins pool workers to OS threads.
func WithLockOSThread() Option {
	return func(o *options) { o.cfg.LockOSThread = true }
}

// WithLogger attaches a structured logger; nil stays a no-op.
func WithLogger(log *logiface.Logger[logiface.Event]) Option {
	return func(o *options) { o.cfg.Logger = log }
}

// WithBufferPool shares an existing buffer pool instead of creating one per
// loop.
func WithBufferPool(p *bufpool.Pool) Option {
	return func(o *options) { o.bufs = p }
}

// NewWith creates a loop from functional options; equivalent to New with a
// filled api.Config.
func NewWith(opts ...Option) (*Loop, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	l, err := New(o.cfg)
	if err != nil {
		return nil, err
	}
	if o.bufs != nil {
		l.bufs = o.bufs
	}
	return l, nil
}
