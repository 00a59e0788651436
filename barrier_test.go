// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.hybscloud.com/zeroipc"
)

func TestBarrier_SingleCycle(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	b, err := zeroipc.NewBarrier(seg, "sync", 4)
	if err != nil {
		t.Fatalf("NewBarrier failed: %v", err)
	}
	if b.Participants() != 4 || b.Generation() != 0 {
		t.Fatalf("fresh barrier: participants=%d generation=%d",
			b.Participants(), b.Generation())
	}

	var wg sync.WaitGroup
	wg.Add(4)
	for range 4 {
		go func() {
			defer wg.Done()
			b.Wait()
		}()
	}
	wg.Wait()

	if b.Generation() != 1 {
		t.Errorf("Generation() = %d after one cycle, want 1", b.Generation())
	}
	if b.Arrived() != 0 {
		t.Errorf("Arrived() = %d after release, want 0", b.Arrived())
	}
}

func TestBarrier_Cycles(t *testing.T) {
	// 4 participants run 100 cycles, each incrementing a shared counter
	// before the rendezvous. Every participant leaving cycle k must see
	// all of cycle k's increments, and no increment from cycle k+2.
	seg := newTestSegment(t, 1<<20)
	b, err := zeroipc.NewBarrier(seg, "phase", 4)
	if err != nil {
		t.Fatal(err)
	}

	const (
		participants = 4
		cycles       = 100
	)
	var c atomic.Int64
	var wg sync.WaitGroup
	wg.Add(participants)
	for range participants {
		go func() {
			defer wg.Done()
			for k := range cycles {
				c.Add(1)
				b.Wait()
				got := c.Load()
				low := int64(participants * (k + 1))
				high := int64(participants*(k+2)) - 1
				if got < low || got > high {
					t.Errorf("cycle %d: counter %d outside [%d,%d]", k, got, low, high)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := c.Load(); got != participants*cycles {
		t.Errorf("counter = %d, want %d", got, participants*cycles)
	}
	if b.Generation() != cycles {
		t.Errorf("Generation() = %d, want %d", b.Generation(), cycles)
	}
}

func TestBarrier_WaitForTimeout(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	b, err := zeroipc.NewBarrier(seg, "late", 2)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.WaitFor(20 * time.Millisecond); !zeroipc.IsTimeout(err) {
		t.Fatalf("WaitFor alone = %v, want timeout", err)
	}
	// The timed-out waiter withdrew its arrival; a full cycle still works.
	if b.Arrived() != 0 {
		t.Fatalf("Arrived() = %d after timeout, want 0", b.Arrived())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	for range 2 {
		go func() {
			defer wg.Done()
			if err := b.WaitFor(5 * time.Second); err != nil {
				t.Errorf("WaitFor in full cycle = %v", err)
			}
		}()
	}
	wg.Wait()
	if b.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", b.Generation())
	}
}

func TestBarrier_OpenSharesState(t *testing.T) {
	mem := make([]byte, 1<<20)
	seg, err := zeroipc.NewSegment(mem)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zeroipc.NewBarrier(seg, "shared", 2); err != nil {
		t.Fatal(err)
	}

	att, err := zeroipc.OpenSegment(mem)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := zeroipc.OpenBarrier(att, "shared")
	if err != nil {
		t.Fatalf("OpenBarrier failed: %v", err)
	}
	b1, err := zeroipc.OpenBarrier(seg, "shared")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); b1.Wait() }()
	go func() { defer wg.Done(); b2.Wait() }()
	wg.Wait()
	if b1.Generation() != 1 {
		t.Errorf("Generation() = %d through two views, want 1", b1.Generation())
	}
}
