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

func TestStack_LIFO(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	st, err := zeroipc.NewStack[int32](seg, "lifo", 32)
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}

	for i := range int32(20) {
		if err := st.Push(i); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}
	for i := int32(19); i >= 0; i-- {
		v, err := st.Pop()
		if err != nil {
			t.Fatalf("Pop() failed: %v", err)
		}
		if v != i {
			t.Fatalf("Pop() = %d, want %d", v, i)
		}
	}
	if _, err := st.Pop(); !zeroipc.IsWouldBlock(err) {
		t.Errorf("Pop() on empty = %v, want would-block", err)
	}
}

func TestStack_Top(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	st, err := zeroipc.NewStack[int32](seg, "peek", 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Top(); !zeroipc.IsWouldBlock(err) {
		t.Errorf("Top() on empty = %v, want would-block", err)
	}

	_ = st.Push(5)
	_ = st.Push(9)
	if v, err := st.Top(); err != nil || v != 9 {
		t.Fatalf("Top() = %d, %v; want 9", v, err)
	}
	// Peeking does not consume.
	if st.Len() != 2 {
		t.Errorf("Len() = %d after Top, want 2", st.Len())
	}
}

func TestStack_SingleSlot(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	st, err := zeroipc.NewStack[int32](seg, "one", 1)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.Push(1); err != nil {
		t.Fatalf("first Push failed: %v", err)
	}
	if err := st.Push(2); !zeroipc.IsWouldBlock(err) {
		t.Fatalf("second Push = %v, want would-block", err)
	}
	if v, err := st.Pop(); err != nil || v != 1 {
		t.Fatalf("Pop() = %d, %v", v, err)
	}
	if err := st.Push(2); err != nil {
		t.Fatalf("Push after Pop failed: %v", err)
	}
}

func TestStack_OpenSharesState(t *testing.T) {
	mem := make([]byte, 1<<20)
	seg, err := zeroipc.NewSegment(mem)
	if err != nil {
		t.Fatal(err)
	}
	st, err := zeroipc.NewStack[int16](seg, "shared", 4)
	if err != nil {
		t.Fatal(err)
	}
	_ = st.Push(11)

	att, err := zeroipc.OpenSegment(mem)
	if err != nil {
		t.Fatal(err)
	}
	view, err := zeroipc.OpenStack[int16](att, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if v, err := view.Pop(); err != nil || v != 11 {
		t.Fatalf("attached Pop() = %d, %v", v, err)
	}
}

func TestStack_Concurrent(t *testing.T) {
	if raceEnabled {
		t.Skip("slot hand-off publishes through the reserved cursor; skipped in race mode")
	}
	seg := newTestSegment(t, 1<<20)
	st, err := zeroipc.NewStack[int32](seg, "busy", 128)
	if err != nil {
		t.Fatal(err)
	}

	const (
		workers = 8
		perW    = 500
		total   = workers * perW
	)

	var pushes, pops atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := range workers {
		go func(id int) {
			defer wg.Done()
			for i := range perW {
				v := int32(id*perW + i)
				for st.Push(v) != nil {
					spin.Yield()
				}
				pushes.Add(1)
				if _, err := st.Pop(); err == nil {
					pops.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	// Conservation: leftover depth equals successful pushes minus
	// successful pops.
	if pushes.Load() != total {
		t.Fatalf("pushes = %d, want %d", pushes.Load(), total)
	}
	if got, want := int64(st.Len()), pushes.Load()-pops.Load(); got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	for range st.Len() {
		if _, err := st.Pop(); err != nil {
			t.Fatal("drain Pop failed")
		}
	}
	if !st.Empty() {
		t.Error("stack not empty after drain")
	}
}
