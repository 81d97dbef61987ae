// File: bufpool/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-classed byte buffer pool. Classes are powers of two from 512 B to
// 64 KiB; requests above the largest class fall through to plain allocation
// and are not recycled.

package bufpool

import (
	"sync"

	"code.hybscloud.com/atomix"
)

const (
	minClassShift = 9  // 512 B
	maxClassShift = 16 // 64 KiB
	classes       = maxClassShift - minClassShift + 1
)

// Stats reports cumulative pool activity.
type Stats struct {
	Gets     uint64
	Puts     uint64
	Misses   uint64 // Gets that allocated fresh memory
	Oversize uint64 // Gets above the largest class
}

// Pool hands out byte slices by size class.
type Pool struct {
	pools [classes]sync.Pool

	gets     atomix.Uint64
	puts     atomix.Uint64
	misses   atomix.Uint64
	oversize atomix.Uint64
}

// New creates an empty pool. Buffers are allocated lazily on first miss.
func New() *Pool {
	p := &Pool{}
	for i := range p.pools {
		size := 1 << (minClassShift + i)
		p.pools[i].New = func() any {
			p.misses.AddAcqRel(1)
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// Get returns a slice with len == size. The backing array comes from the
// smallest class that fits; oversize requests are plain allocations.
func (p *Pool) Get(size int) []byte {
	p.gets.AddAcqRel(1)
	if size > 1<<maxClassShift {
		p.oversize.AddAcqRel(1)
		return make([]byte, size)
	}
	buf := p.pools[classFor(size)].Get().(*[]byte)
	return (*buf)[:size]
}

// Put recycles a buffer previously returned by Get. Oversize and undersized
// slices are dropped.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	if c < 1<<minClassShift || c > 1<<maxClassShift || c&(c-1) != 0 {
		return
	}
	p.puts.AddAcqRel(1)
	i := 0
	for 1<<(minClassShift+i) < c {
		i++
	}
	// Stored by pointer; sync.Pool boxes plain slice headers.
	b := buf[:c]
	p.pools[i].Put(&b)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Gets:     p.gets.LoadAcquire(),
		Puts:     p.puts.LoadAcquire(),
		Misses:   p.misses.LoadAcquire(),
		Oversize: p.oversize.LoadAcquire(),
	}
}

// classFor maps a byte count to the index of the smallest class holding it.
func classFor(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}
	i := 0
	for 1<<(minClassShift+i) < size {
		i++
	}
	return i
}
