// File: loop/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

// ID names a registered handle. The low 32 bits index the slot table, the
// high 32 bits carry the slot generation, so a stale ID can never reach a
// recycled slot.
type ID uint64

func makeID(index int, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(uint32(index)))
}

func (id ID) index() int  { return int(uint32(id)) }
func (id ID) gen() uint32 { return uint32(id >> 32) }

type regSlot struct {
	gen uint32
	h   *handle
}

// registry is a generational slot map of live handles. Single-threaded,
// owned by the loop.
type registry struct {
	slots []regSlot
	free  []int
	count int
}

func (r *registry) add(h *handle) ID {
	var idx int
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, regSlot{})
		idx = len(r.slots) - 1
	}
	r.slots[idx].h = h
	r.count++
	return makeID(idx, r.slots[idx].gen)
}

func (r *registry) get(id ID) *handle {
	idx := id.index()
	if idx >= len(r.slots) {
		return nil
	}
	s := &r.slots[idx]
	if s.gen != id.gen() {
		return nil
	}
	return s.h
}

// remove frees the slot and bumps its generation, invalidating the ID.
func (r *registry) remove(id ID) {
	idx := id.index()
	if idx >= len(r.slots) {
		return
	}
	s := &r.slots[idx]
	if s.gen != id.gen() || s.h == nil {
		return
	}
	s.h = nil
	s.gen++
	r.count--
	r.free = append(r.free, idx)
}

func (r *registry) len() int { return r.count }

// each visits every live handle. The callback must not add or remove
// handles.
func (r *registry) each(fn func(h *handle)) {
	for i := range r.slots {
		if h := r.slots[i].h; h != nil {
			fn(h)
		}
	}
}
