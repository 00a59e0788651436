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
	"code.hybscloud.com/spin"
)

const poolHeaderSize = 16

// NullIndex is the free-list terminator and the "no handle" sentinel.
const NullIndex = uint32(0xFFFFFFFF)

// poolHeader precedes the link array and element slab of a Pool.
//
//	free_head atomic u32  index of the first free slot, NullIndex when empty
//	allocated atomic u32  acquired-slot count
//	capacity  u32
//	elem_size u32
//
// The header is followed by capacity u32 links chaining free slots into a
// stack, then by the element slab, aligned to 8 bytes.
type poolHeader struct {
	freeHead  atomic.Uint32
	allocated atomic.Uint32
	capacity  uint32
	elemSize  uint32
}

func init() {
	if unsafe.Sizeof(poolHeader{}) != poolHeaderSize {
		panic(fmt.Sprintf("poolHeader size is %d, expected %d",
			unsafe.Sizeof(poolHeader{}), poolHeaderSize))
	}
}

// Pool is a preallocated slab of T with a lock-free free list of slot
// indices. Acquire hands out exclusive ownership of a slot; Release
// returns it. Slots are addressed by index, so handles stay valid across
// processes and the free list needs no pointers.
//
// The free list is the classical Treiber stack over indices. The ABA
// window on free_head is accepted the same way the wire format's other
// ports accept it: cooperating workers recycle indices through the list
// itself, and a slot travels release→acquire before its link can be
// observed stale.
type Pool[T any] struct {
	hdr  *poolHeader
	next []atomic.Uint32
	slab []T
}

func poolSlabOffset(capacity uint64) uint64 {
	return alignUp(poolHeaderSize+4*capacity, 8)
}

// NewPool creates a pool of capacity slots under name. All slots start
// free.
func NewPool[T any](s *Segment, name string, capacity int) (*Pool[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	if capacity < 1 || capacity >= int(NullIndex) || capacity > math.MaxInt32 {
		return nil, fmt.Errorf("%w: pool capacity %d", ErrInvalidArgument, capacity)
	}

	size := poolSlabOffset(uint64(capacity)) + uint64(capacity)*esize
	offset, err := s.Allocate(name, size, esize, uint64(capacity))
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, size))

	p := poolAt[T](s, offset, capacity)
	p.hdr.capacity = uint32(capacity)
	p.hdr.elemSize = uint32(esize)
	for i := range capacity - 1 {
		p.next[i].Store(uint32(i) + 1)
	}
	p.next[capacity-1].Store(NullIndex)
	p.hdr.freeHead.Store(0)
	return p, nil
}

// OpenPool attaches to an existing pool, validating the element size
// recorded at creation.
func OpenPool[T any](s *Segment, name string) (*Pool[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: pool %q", ErrNotFound, name)
	}
	if e.ElemSize != esize {
		return nil, fmt.Errorf("%w: pool %q holds %d-byte elements, want %d",
			ErrSizeMismatch, name, e.ElemSize, esize)
	}
	p := poolAt[T](s, e.Offset, int(e.NumElem))
	if uint64(p.hdr.capacity) != e.NumElem || uint64(p.hdr.elemSize) != esize {
		return nil, fmt.Errorf("%w: pool %q header disagrees with directory",
			ErrSizeMismatch, name)
	}
	return p, nil
}

func poolAt[T any](s *Segment, offset uint64, capacity int) *Pool[T] {
	_ = s.at(offset, poolHeaderSize)
	return &Pool[T]{
		hdr:  viewAt[poolHeader](s.mem, offset),
		next: sliceAt[atomic.Uint32](s.mem, offset+poolHeaderSize, capacity),
		slab: sliceAt[T](s.mem, offset+poolSlabOffset(uint64(capacity)), capacity),
	}
}

// Acquire pops a free slot index off the free list. Returns
// iox.ErrWouldBlock when every slot is taken.
func (p *Pool[T]) Acquire() (uint32, error) {
	sw := spin.Wait{}
	for {
		h := p.hdr.freeHead.Load()
		if h == NullIndex {
			return NullIndex, iox.ErrWouldBlock
		}
		n := p.next[h].Load()
		if p.hdr.freeHead.CompareAndSwap(h, n) {
			p.hdr.allocated.Add(1)
			return h, nil
		}
		sw.Once()
	}
}

// Release pushes handle back onto the free list. Returns
// ErrInvalidArgument for an out-of-range handle; releasing a handle that
// is not currently acquired corrupts the free list and is not detected.
func (p *Pool[T]) Release(handle uint32) error {
	if handle >= p.hdr.capacity {
		return fmt.Errorf("%w: pool handle %d of %d", ErrInvalidArgument, handle, p.hdr.capacity)
	}
	sw := spin.Wait{}
	for {
		h := p.hdr.freeHead.Load()
		p.next[handle].Store(h)
		if p.hdr.freeHead.CompareAndSwap(h, handle) {
			p.hdr.allocated.Add(^uint32(0))
			return nil
		}
		sw.Once()
	}
}

// At returns a pointer to the slot behind an acquired handle. The pointer
// aliases segment memory. Panics on NullIndex or an out-of-range handle.
func (p *Pool[T]) At(handle uint32) *T {
	if handle >= p.hdr.capacity {
		panic(fmt.Sprintf("zeroipc: invalid pool handle %d", handle))
	}
	return &p.slab[handle]
}

// AcquireBatch acquires up to n slots and returns their handles; the
// result is short when the pool runs out. A convenience loop over
// Acquire.
func (p *Pool[T]) AcquireBatch(n int) []uint32 {
	handles := make([]uint32, 0, n)
	for range n {
		h, err := p.Acquire()
		if err != nil {
			break
		}
		handles = append(handles, h)
	}
	return handles
}

// ReleaseBatch releases every handle in handles, stopping at the first
// invalid one.
func (p *Pool[T]) ReleaseBatch(handles []uint32) error {
	for _, h := range handles {
		if err := p.Release(h); err != nil {
			return err
		}
	}
	return nil
}

// Allocated returns the acquired-slot count at one instant.
func (p *Pool[T]) Allocated() int {
	return int(p.hdr.allocated.Load())
}

// Available returns the free-slot count at one instant.
func (p *Pool[T]) Available() int {
	return int(p.hdr.capacity - p.hdr.allocated.Load())
}

// Cap returns the slot capacity.
func (p *Pool[T]) Cap() int {
	return int(p.hdr.capacity)
}
