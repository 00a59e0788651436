// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/iox"
)

const ringHeaderSize = 24

// ringHeader precedes the byte buffer of a Ring.
//
//	write_pos atomic u64  monotonic byte counter, never wrapped
//	read_pos  atomic u64  monotonic byte counter, never wrapped
//	capacity  u32         buffer bytes, a multiple of elem_size
//	elem_size u32
type ringHeader struct {
	writePos atomic.Uint64
	readPos  atomic.Uint64
	capacity uint32
	elemSize uint32
}

func init() {
	if unsafe.Sizeof(ringHeader{}) != ringHeaderSize {
		panic(fmt.Sprintf("ringHeader size is %d, expected %d",
			unsafe.Sizeof(ringHeader{}), ringHeaderSize))
	}
}

// Ring is a bounded single-producer single-consumer byte ring carrying
// fixed-size elements. The write and read positions are monotonic 64-bit
// counters; the buffer index is the position taken modulo the capacity at
// the point of access, so the counters double as lifetime transfer totals.
//
// One producer and one consumer may run concurrently without locks. The
// bulk and overwrite operations read-modify both positions and are not
// safe under multiple writers or readers; multi-producer or multi-consumer
// use requires external coordination.
type Ring[T any] struct {
	hdr  *ringHeader
	data []T
}

// NewRing creates a ring with the given buffer size in bytes under name.
// The buffer is rounded down to the largest multiple of the element size;
// capacityBytes must fit at least one element.
func NewRing[T any](s *Segment, name string, capacityBytes int) (*Ring[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	if capacityBytes < int(esize) || capacityBytes > math.MaxUint32 {
		return nil, fmt.Errorf("%w: ring capacity %d bytes for %d-byte elements",
			ErrInvalidArgument, capacityBytes, esize)
	}
	capBytes := uint64(capacityBytes) - uint64(capacityBytes)%esize

	size := ringHeaderSize + capBytes
	offset, err := s.Allocate(name, size, esize, capBytes/esize)
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, size))

	r := ringAt[T](s, offset, int(capBytes/esize))
	r.hdr.capacity = uint32(capBytes)
	r.hdr.elemSize = uint32(esize)
	return r, nil
}

// OpenRing attaches to an existing ring, validating the element size
// recorded at creation.
func OpenRing[T any](s *Segment, name string) (*Ring[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: ring %q", ErrNotFound, name)
	}
	if e.ElemSize != esize {
		return nil, fmt.Errorf("%w: ring %q holds %d-byte elements, want %d",
			ErrSizeMismatch, name, e.ElemSize, esize)
	}
	r := ringAt[T](s, e.Offset, int(e.NumElem))
	if uint64(r.hdr.capacity) != e.NumElem*esize || uint64(r.hdr.elemSize) != esize {
		return nil, fmt.Errorf("%w: ring %q header disagrees with directory",
			ErrSizeMismatch, name)
	}
	return r, nil
}

func ringAt[T any](s *Segment, offset uint64, capElems int) *Ring[T] {
	_ = s.at(offset, ringHeaderSize)
	return &Ring[T]{
		hdr:  viewAt[ringHeader](s.mem, offset),
		data: sliceAt[T](s.mem, offset+ringHeaderSize, capElems),
	}
}

func (r *Ring[T]) esize() uint64 { return uint64(r.hdr.elemSize) }

// index converts a monotonic byte position to an element index. The
// capacity is a multiple of the element size, so a wrapped position is
// always element-aligned and elements never split across the boundary.
func (r *Ring[T]) index(pos uint64) int {
	return int(pos%uint64(r.hdr.capacity)) / int(r.hdr.elemSize)
}

// Push appends v. Returns iox.ErrWouldBlock when the ring is full.
func (r *Ring[T]) Push(v T) error {
	es := r.esize()
	w := r.hdr.writePos.Load()
	if w-r.hdr.readPos.Load()+es > uint64(r.hdr.capacity) {
		return iox.ErrWouldBlock
	}
	r.data[r.index(w)] = v
	r.hdr.writePos.Store(w + es)
	return nil
}

// Pop removes and returns the oldest element. Returns iox.ErrWouldBlock
// when the ring is empty.
func (r *Ring[T]) Pop() (T, error) {
	es := r.esize()
	p := r.hdr.readPos.Load()
	if p+es > r.hdr.writePos.Load() {
		var zero T
		return zero, iox.ErrWouldBlock
	}
	v := r.data[r.index(p)]
	r.hdr.readPos.Store(p + es)
	return v, nil
}

// PushBulk appends as many elements of vs as fit and returns the count.
// The write position advances once for the whole batch, so the consumer
// observes the batch at element granularity but never a torn element.
func (r *Ring[T]) PushBulk(vs []T) int {
	es := r.esize()
	w := r.hdr.writePos.Load()
	free := uint64(r.hdr.capacity) - (w - r.hdr.readPos.Load())
	n := min(len(vs), int(free/es))
	for i := range n {
		r.data[r.index(w+uint64(i)*es)] = vs[i]
	}
	if n > 0 {
		r.hdr.writePos.Store(w + uint64(n)*es)
	}
	return n
}

// PopBulk removes up to len(buf) elements into buf and returns the count.
func (r *Ring[T]) PopBulk(buf []T) int {
	es := r.esize()
	p := r.hdr.readPos.Load()
	avail := r.hdr.writePos.Load() - p
	n := min(len(buf), int(avail/es))
	for i := range n {
		buf[i] = r.data[r.index(p+uint64(i)*es)]
	}
	if n > 0 {
		r.hdr.readPos.Store(p + uint64(n)*es)
	}
	return n
}

// PeekBulk copies up to len(buf) elements starting skip element positions
// past the read position, without consuming them. Returns the count.
func (r *Ring[T]) PeekBulk(skip int, buf []T) int {
	if skip < 0 {
		return 0
	}
	es := r.esize()
	p := r.hdr.readPos.Load() + uint64(skip)*es
	w := r.hdr.writePos.Load()
	if p >= w {
		return 0
	}
	n := min(len(buf), int((w-p)/es))
	for i := range n {
		buf[i] = r.data[r.index(p+uint64(i)*es)]
	}
	return n
}

// LastN copies the most recent len(buf) unconsumed elements into buf,
// newest last, and returns the count.
func (r *Ring[T]) LastN(buf []T) int {
	es := r.esize()
	w := r.hdr.writePos.Load()
	avail := w - r.hdr.readPos.Load()
	n := min(len(buf), int(avail/es))
	start := w - uint64(n)*es
	for i := range n {
		buf[i] = r.data[r.index(start+uint64(i)*es)]
	}
	return n
}

// Skip discards up to n unconsumed elements and returns the count.
func (r *Ring[T]) Skip(n int) int {
	if n < 1 {
		return 0
	}
	es := r.esize()
	p := r.hdr.readPos.Load()
	avail := r.hdr.writePos.Load() - p
	n = min(n, int(avail/es))
	if n > 0 {
		r.hdr.readPos.Store(p + uint64(n)*es)
	}
	return n
}

// PushOverwrite appends v, discarding the oldest element first when the
// ring is full. Data loss is traded for bounded latency. Because it
// advances the read position from the producer side, PushOverwrite must
// not race a concurrent consumer.
func (r *Ring[T]) PushOverwrite(v T) {
	es := r.esize()
	w := r.hdr.writePos.Load()
	p := r.hdr.readPos.Load()
	if w-p+es > uint64(r.hdr.capacity) {
		r.hdr.readPos.Store(p + es)
	}
	r.data[r.index(w)] = v
	r.hdr.writePos.Store(w + es)
}

// TotalWritten returns the number of elements pushed over the ring's
// lifetime.
func (r *Ring[T]) TotalWritten() uint64 {
	return r.hdr.writePos.Load() / r.esize()
}

// TotalRead returns the number of elements consumed over the ring's
// lifetime.
func (r *Ring[T]) TotalRead() uint64 {
	return r.hdr.readPos.Load() / r.esize()
}

// Len returns the unconsumed element count at one instant.
func (r *Ring[T]) Len() int {
	return int((r.hdr.writePos.Load() - r.hdr.readPos.Load()) / r.esize())
}

// Cap returns the element capacity.
func (r *Ring[T]) Cap() int {
	return len(r.data)
}

// Empty reports whether the ring held no elements at one instant.
func (r *Ring[T]) Empty() bool {
	return r.hdr.readPos.Load() == r.hdr.writePos.Load()
}

// Full reports whether a Push at this instant would return would-block.
func (r *Ring[T]) Full() bool {
	return r.hdr.writePos.Load()-r.hdr.readPos.Load() >= uint64(r.hdr.capacity)
}
