// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc_test

import (
	"testing"

	"code.hybscloud.com/spin"

	"code.hybscloud.com/zeroipc"
)

func benchSegment(b *testing.B, size int) *zeroipc.Segment {
	b.Helper()
	seg, err := zeroipc.NewSegment(make([]byte, size))
	if err != nil {
		b.Fatal(err)
	}
	return seg
}

func BenchmarkQueue_PushPop(b *testing.B) {
	seg := benchSegment(b, 1<<22)
	q, err := zeroipc.NewQueue[int64](seg, "bench", 4096)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			for q.Push(1) != nil {
				spin.Yield()
			}
			for {
				if _, err := q.Pop(); err == nil {
					break
				}
				spin.Yield()
			}
		}
	})
}

func BenchmarkStack_PushPop(b *testing.B) {
	seg := benchSegment(b, 1<<22)
	st, err := zeroipc.NewStack[int64](seg, "bench", 4096)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			for st.Push(1) != nil {
				spin.Yield()
			}
			for {
				if _, err := st.Pop(); err == nil {
					break
				}
				spin.Yield()
			}
		}
	})
}

func BenchmarkRing_SPSC(b *testing.B) {
	seg := benchSegment(b, 1<<22)
	r, err := zeroipc.NewRing[int64](seg, "bench", 4096*8)
	if err != nil {
		b.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		popped := 0
		for popped < b.N {
			if _, err := r.Pop(); err == nil {
				popped++
				continue
			}
			spin.Yield()
		}
	}()

	b.ResetTimer()
	for range b.N {
		for r.Push(1) != nil {
			spin.Yield()
		}
	}
	<-done
}

func BenchmarkPool_AcquireRelease(b *testing.B) {
	seg := benchSegment(b, 1<<22)
	p, err := zeroipc.NewPool[[256]byte](seg, "bench", 1024)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			h, err := p.Acquire()
			if err != nil {
				spin.Yield()
				continue
			}
			spin.Yield()
			_ = p.Release(h)
		}
	})
}

func BenchmarkMap_Get(b *testing.B) {
	seg := benchSegment(b, 1<<24)
	m, err := zeroipc.NewMap[uint64, uint64](seg, "bench", 1<<16)
	if err != nil {
		b.Fatal(err)
	}
	for k := uint64(1); k <= 1<<15; k++ {
		if err := m.Insert(k, k); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		k := uint64(1)
		for pb.Next() {
			if _, err := m.Get(k%(1<<15) + 1); err != nil {
				b.Fatal(err)
			}
			k++
		}
	})
}

func BenchmarkBitset_SetClear(b *testing.B) {
	seg := benchSegment(b, 1<<22)
	bs, err := zeroipc.NewBitset(seg, "bench", 1<<16)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			bs.Set(i & (1<<16 - 1))
			bs.Clear(i & (1<<16 - 1))
			i++
		}
	})
}
