// File: backend/fdtable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build unix

package backend

import (
	"sync"

	"github.com/momentics/hioload-aio/api"
)

// fdTable maps file descriptors to their event sinks. Descriptors are small
// dense integers on every unix, so a grow-on-demand slice beats a map on the
// hot path. Readers take the shared lock only long enough to copy the slot.
type fdTable struct {
	mu    sync.RWMutex
	sinks []api.EventSink
	masks []api.EventMask
	count int
}

func (t *fdTable) grow(fd int) {
	if fd < len(t.sinks) {
		return
	}
	n := len(t.sinks)*2 + 64
	if n <= fd {
		n = fd + 1
	}
	sinks := make([]api.EventSink, n)
	masks := make([]api.EventMask, n)
	copy(sinks, t.sinks)
	copy(masks, t.masks)
	t.sinks = sinks
	t.masks = masks
}

func (t *fdTable) add(fd int, mask api.EventMask, sink api.EventSink) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.grow(fd)
	if t.sinks[fd] != nil {
		return api.ErrFDRegistered
	}
	t.sinks[fd] = sink
	t.masks[fd] = mask
	t.count++
	return nil
}

func (t *fdTable) modify(fd int, mask api.EventMask) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.sinks) || t.sinks[fd] == nil {
		return api.ErrFDNotRegistered
	}
	t.masks[fd] = mask
	return nil
}

func (t *fdTable) remove(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.sinks) || t.sinks[fd] == nil {
		return api.ErrFDNotRegistered
	}
	t.sinks[fd] = nil
	t.masks[fd] = 0
	t.count--
	return nil
}

func (t *fdTable) get(fd int) api.EventSink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fd >= len(t.sinks) {
		return nil
	}
	return t.sinks[fd]
}

func (t *fdTable) maskOf(fd int) api.EventMask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fd >= len(t.masks) {
		return 0
	}
	return t.masks[fd]
}

// snapshot appends every registered fd and its mask to the given slices,
// reusing their backing arrays.
func (t *fdTable) snapshot(fds []int, masks []api.EventMask) ([]int, []api.EventMask) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for fd, sink := range t.sinks {
		if sink == nil {
			continue
		}
		fds = append(fds, fd)
		masks = append(masks, t.masks[fd])
	}
	return fds, masks
}
