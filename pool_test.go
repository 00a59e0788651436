// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"code.hybscloud.com/spin"

	"code.hybscloud.com/zeroipc"
)

func TestPool_AcquireRelease(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := zeroipc.NewPool[[64]byte](seg, "slab", 10)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	if p.Cap() != 10 || p.Allocated() != 0 {
		t.Fatalf("fresh pool: Cap=%d Allocated=%d", p.Cap(), p.Allocated())
	}

	handles := make([]uint32, 0, 10)
	seen := make(map[uint32]bool)
	for range 10 {
		h, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if seen[h] {
			t.Fatalf("handle %d acquired twice", h)
		}
		seen[h] = true
		handles = append(handles, h)
	}
	if p.Available() != 0 {
		t.Errorf("Available() = %d, want 0", p.Available())
	}
	if _, err := p.Acquire(); !zeroipc.IsWouldBlock(err) {
		t.Fatalf("Acquire on drained pool = %v, want would-block", err)
	}

	for _, h := range handles {
		if err := p.Release(h); err != nil {
			t.Fatalf("Release(%d) failed: %v", h, err)
		}
	}
	if p.Allocated() != 0 {
		t.Errorf("Allocated() = %d after releasing all, want 0", p.Allocated())
	}
}

func TestPool_FreeListLIFO(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := zeroipc.NewPool[int64](seg, "lifo", 4)
	if err != nil {
		t.Fatal(err)
	}

	h, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Release(h); err != nil {
		t.Fatal(err)
	}
	// The free list is a stack: release then acquire yields the same slot.
	h2, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h {
		t.Errorf("re-Acquire = %d, want %d", h2, h)
	}
}

func TestPool_SlotStorage(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := zeroipc.NewPool[int64](seg, "vals", 4)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := p.Acquire()
	*p.At(h) = 1234
	if *p.At(h) != 1234 {
		t.Error("slot write not visible")
	}

	defer func() {
		if recover() == nil {
			t.Error("At(NullIndex) did not panic")
		}
	}()
	_ = p.At(zeroipc.NullIndex)
}

func TestPool_ReleaseValidates(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := zeroipc.NewPool[int64](seg, "strict", 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Release(4); err == nil {
		t.Error("Release(out of range) did not fail")
	}
	if err := p.Release(zeroipc.NullIndex); err == nil {
		t.Error("Release(NullIndex) did not fail")
	}
}

func TestPool_Batch(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := zeroipc.NewPool[int32](seg, "batch", 8)
	if err != nil {
		t.Fatal(err)
	}

	handles := p.AcquireBatch(5)
	if len(handles) != 5 {
		t.Fatalf("AcquireBatch(5) = %d handles", len(handles))
	}
	// Asking past the capacity yields a short batch.
	rest := p.AcquireBatch(10)
	if len(rest) != 3 {
		t.Fatalf("AcquireBatch(10) = %d handles, want 3", len(rest))
	}
	if err := p.ReleaseBatch(append(handles, rest...)); err != nil {
		t.Fatalf("ReleaseBatch failed: %v", err)
	}
	if p.Allocated() != 0 {
		t.Errorf("Allocated() = %d after batch release", p.Allocated())
	}
}

func TestPool_OpenSharesState(t *testing.T) {
	mem := make([]byte, 1<<20)
	seg, err := zeroipc.NewSegment(mem)
	if err != nil {
		t.Fatal(err)
	}
	p, err := zeroipc.NewPool[int64](seg, "shared", 6)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := p.Acquire()
	*p.At(h) = 77

	att, err := zeroipc.OpenSegment(mem)
	if err != nil {
		t.Fatal(err)
	}
	view, err := zeroipc.OpenPool[int64](att, "shared")
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}
	if view.Allocated() != 1 || *view.At(h) != 77 {
		t.Errorf("attached view: Allocated=%d slot=%d", view.Allocated(), *view.At(h))
	}
}

func TestPool_Stress(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := zeroipc.NewPool[int64](seg, "stress", 100)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 4
	// One occupancy counter per slot detects double ownership.
	occupancy := make([]atomic.Int32, 100)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := range workers {
		go func(id int64) {
			defer wg.Done()
			for range 200 {
				handles := p.AcquireBatch(25)
				for _, h := range handles {
					if occupancy[h].Add(1) != 1 {
						t.Errorf("slot %d held by two workers", h)
					}
					*p.At(h) = id
				}
				spin.Yield()
				for _, h := range handles {
					if *p.At(h) != id {
						t.Errorf("slot %d overwritten while held", h)
					}
					occupancy[h].Add(-1)
					if err := p.Release(h); err != nil {
						t.Errorf("Release(%d) failed: %v", h, err)
					}
				}
			}
		}(int64(w))
	}
	wg.Wait()

	if p.Allocated() != 0 {
		t.Errorf("Allocated() = %d after stress, want 0", p.Allocated())
	}
	if got := len(p.AcquireBatch(101)); got != 100 {
		t.Errorf("free list holds %d slots, want 100", got)
	}
}
