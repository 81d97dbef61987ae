// File: bufpool/pool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bufpool_test

import (
	"testing"

	"github.com/momentics/hioload-aio/bufpool"
)

func TestGetSizes(t *testing.T) {
	p := bufpool.New()
	for _, size := range []int{1, 511, 512, 513, 4096, 65536} {
		buf := p.Get(size)
		if len(buf) != size {
			t.Fatalf("Get(%d) len = %d", size, len(buf))
		}
		if cap(buf) < size {
			t.Fatalf("Get(%d) cap = %d", size, cap(buf))
		}
		p.Put(buf)
	}
}

func TestReuseWithinClass(t *testing.T) {
	p := bufpool.New()
	buf := p.Get(1024)
	buf[0] = 0xAA
	p.Put(buf)
	// Not guaranteed by sync.Pool, but overwhelmingly likely without GC
	// pressure in between.
	again := p.Get(1024)
	if cap(again) != cap(buf) {
		t.Skip("pool did not recycle; GC intervened")
	}
	p.Put(again)
}

func TestOversizeNotRecycled(t *testing.T) {
	p := bufpool.New()
	buf := p.Get(1 << 20)
	if len(buf) != 1<<20 {
		t.Fatalf("oversize len = %d", len(buf))
	}
	p.Put(buf)
	st := p.Stats()
	if st.Oversize != 1 {
		t.Fatalf("Oversize = %d, want 1", st.Oversize)
	}
	if st.Puts != 0 {
		t.Fatalf("Puts = %d, want 0 (oversize dropped)", st.Puts)
	}
}

func TestStatsCount(t *testing.T) {
	p := bufpool.New()
	for i := 0; i < 10; i++ {
		p.Put(p.Get(2048))
	}
	st := p.Stats()
	if st.Gets != 10 || st.Puts != 10 {
		t.Fatalf("Stats() = %+v", st)
	}
}
