// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc_test

import (
	"testing"

	"code.hybscloud.com/spin"
	"golang.org/x/sync/errgroup"

	"code.hybscloud.com/zeroipc"
)

type sample struct {
	Timestamp uint64
	Value     float64
}

func TestRing_PushPop(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	r, err := zeroipc.NewRing[int64](seg, "stream", 8*16)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	if r.Cap() != 16 {
		t.Fatalf("Cap() = %d, want 16", r.Cap())
	}

	for i := range int64(16) {
		if err := r.Push(i); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
	}
	if err := r.Push(99); !zeroipc.IsWouldBlock(err) {
		t.Fatalf("Push on full = %v, want would-block", err)
	}
	for i := range int64(16) {
		v, err := r.Pop()
		if err != nil || v != i {
			t.Fatalf("Pop() = %d, %v; want %d", v, err, i)
		}
	}
	if _, err := r.Pop(); !zeroipc.IsWouldBlock(err) {
		t.Fatalf("Pop on empty = %v, want would-block", err)
	}
}

func TestRing_CapacityRoundsDown(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	// 100 bytes of 16-byte samples rounds down to 6 elements.
	r, err := zeroipc.NewRing[sample](seg, "rounded", 100)
	if err != nil {
		t.Fatal(err)
	}
	if r.Cap() != 6 {
		t.Errorf("Cap() = %d, want 6", r.Cap())
	}

	if _, err := zeroipc.NewRing[sample](seg, "small", 15); err == nil {
		t.Error("ring smaller than one element did not fail")
	}
}

func TestRing_Bulk(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	r, err := zeroipc.NewRing[int32](seg, "bulk", 32*4)
	if err != nil {
		t.Fatal(err)
	}

	in := make([]int32, 40)
	for i := range in {
		in[i] = int32(i)
	}
	if n := r.PushBulk(in); n != 32 {
		t.Fatalf("PushBulk = %d, want 32 (partial)", n)
	}

	out := make([]int32, 12)
	if n := r.PopBulk(out); n != 12 {
		t.Fatalf("PopBulk = %d, want 12", n)
	}
	for i, v := range out {
		if v != int32(i) {
			t.Fatalf("out[%d] = %d, want %d", i, v, i)
		}
	}

	// The freed space accepts the tail of the batch, wrapping the ring.
	if n := r.PushBulk(in[32:]); n != 8 {
		t.Fatalf("second PushBulk = %d, want 8", n)
	}
	rest := make([]int32, 64)
	if n := r.PopBulk(rest); n != 28 {
		t.Fatalf("drain PopBulk = %d, want 28", n)
	}
	for i, v := range rest[:28] {
		if v != int32(i+12) {
			t.Fatalf("rest[%d] = %d, want %d", i, v, i+12)
		}
	}
}

func TestRing_PeekSkipLastN(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	r, err := zeroipc.NewRing[int32](seg, "window", 16*4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range int32(10) {
		_ = r.Push(i)
	}

	peek := make([]int32, 4)
	if n := r.PeekBulk(2, peek); n != 4 {
		t.Fatalf("PeekBulk = %d, want 4", n)
	}
	for i, v := range peek {
		if v != int32(i+2) {
			t.Fatalf("peek[%d] = %d, want %d", i, v, i+2)
		}
	}
	if r.Len() != 10 {
		t.Errorf("Len() = %d after peek, want 10", r.Len())
	}

	last := make([]int32, 3)
	if n := r.LastN(last); n != 3 {
		t.Fatalf("LastN = %d, want 3", n)
	}
	for i, v := range last {
		if v != int32(i+7) {
			t.Fatalf("last[%d] = %d, want %d", i, v, i+7)
		}
	}

	if n := r.Skip(4); n != 4 {
		t.Fatalf("Skip(4) = %d", n)
	}
	if v, _ := r.Pop(); v != 4 {
		t.Fatalf("Pop after Skip = %d, want 4", v)
	}
	if n := r.Skip(100); n != 5 {
		t.Fatalf("Skip(100) = %d, want 5 (clamped)", n)
	}
	if !r.Empty() {
		t.Error("ring not empty after skipping everything")
	}
}

func TestRing_PushOverwrite(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	r, err := zeroipc.NewRing[int32](seg, "latest", 4*4)
	if err != nil {
		t.Fatal(err)
	}

	for i := range int32(10) {
		r.PushOverwrite(i)
	}
	// The ring keeps the newest 4; the oldest 6 were dropped.
	if r.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", r.Len())
	}
	for i := int32(6); i < 10; i++ {
		v, err := r.Pop()
		if err != nil || v != i {
			t.Fatalf("Pop() = %d, %v; want %d", v, err, i)
		}
	}
	if r.TotalWritten() != 10 {
		t.Errorf("TotalWritten() = %d, want 10", r.TotalWritten())
	}
}

func TestRing_PositionsMonotonic(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	r, err := zeroipc.NewRing[int32](seg, "mono", 8*4)
	if err != nil {
		t.Fatal(err)
	}

	var lastW, lastR uint64
	for round := range int32(50) {
		_ = r.Push(round)
		if _, err := r.Pop(); err != nil {
			t.Fatal(err)
		}
		w, rd := r.TotalWritten(), r.TotalRead()
		if w < lastW || rd < lastR {
			t.Fatalf("positions moved backwards: %d/%d after %d/%d", w, rd, lastW, lastR)
		}
		lastW, lastR = w, rd
	}
	if lastW != 50 || lastR != 50 {
		t.Errorf("totals = %d/%d, want 50/50", lastW, lastR)
	}
}

func TestRing_SPSCStream(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	r, err := zeroipc.NewRing[sample](seg, "sensor", 256*16)
	if err != nil {
		t.Fatal(err)
	}

	const total = 10000
	var g errgroup.Group
	g.Go(func() error {
		for i := range uint64(total) {
			s := sample{Timestamp: i, Value: float64(i) * 0.5}
			for r.Push(s) != nil {
				spin.Yield()
			}
		}
		return nil
	})

	buf := make([]sample, 32)
	next := uint64(0)
	for next < total {
		n := r.PopBulk(buf)
		if n == 0 {
			spin.Yield()
			continue
		}
		for _, s := range buf[:n] {
			if s.Timestamp != next || s.Value != float64(next)*0.5 {
				t.Fatalf("sample %d out of order: %+v", next, s)
			}
			next++
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if r.TotalWritten() != total || r.TotalRead() != total {
		t.Errorf("totals = %d/%d, want %d/%d",
			r.TotalWritten(), r.TotalRead(), total, total)
	}
}
