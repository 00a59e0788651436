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

const stackHeaderSize = 16

// stackHeader precedes the slot storage of a Stack.
//
//	top       atomic u32  index of the next free slot; 0 means empty
//	capacity  u32
//	elem_size u32
//	_pad      u32
type stackHeader struct {
	top      atomic.Uint32
	capacity uint32
	elemSize uint32
	_        uint32
}

func init() {
	if unsafe.Sizeof(stackHeader{}) != stackHeaderSize {
		panic(fmt.Sprintf("stackHeader size is %d, expected %d",
			unsafe.Sizeof(stackHeader{}), stackHeaderSize))
	}
}

// Stack is a bounded multi-producer multi-consumer LIFO. Slots are
// reserved by CAS on the top cursor, which holds the index of the next
// free slot; the classical ABA problem does not arise because elements
// are addressed by index, never by reused tagged pointers.
type Stack[T any] struct {
	hdr  *stackHeader
	data []T
}

// NewStack creates a stack of capacity elements under name.
func NewStack[T any](s *Segment, name string, capacity int) (*Stack[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	if capacity < 1 || capacity > math.MaxUint32 {
		return nil, fmt.Errorf("%w: stack capacity %d", ErrInvalidArgument, capacity)
	}

	size := stackHeaderSize + uint64(capacity)*esize
	offset, err := s.Allocate(name, size, esize, uint64(capacity))
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, size))

	st := stackAt[T](s, offset, capacity)
	st.hdr.capacity = uint32(capacity)
	st.hdr.elemSize = uint32(esize)
	return st, nil
}

// OpenStack attaches to an existing stack, validating the element size
// recorded at creation.
func OpenStack[T any](s *Segment, name string) (*Stack[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: stack %q", ErrNotFound, name)
	}
	if e.ElemSize != esize {
		return nil, fmt.Errorf("%w: stack %q holds %d-byte elements, want %d",
			ErrSizeMismatch, name, e.ElemSize, esize)
	}
	st := stackAt[T](s, e.Offset, int(e.NumElem))
	if uint64(st.hdr.capacity) != e.NumElem || uint64(st.hdr.elemSize) != esize {
		return nil, fmt.Errorf("%w: stack %q header disagrees with directory",
			ErrSizeMismatch, name)
	}
	return st, nil
}

func stackAt[T any](s *Segment, offset uint64, capacity int) *Stack[T] {
	_ = s.at(offset, stackHeaderSize)
	return &Stack[T]{
		hdr:  viewAt[stackHeader](s.mem, offset),
		data: sliceAt[T](s.mem, offset+stackHeaderSize, capacity),
	}
}

// Push stores v on top of the stack. Returns iox.ErrWouldBlock when the
// stack is full.
func (st *Stack[T]) Push(v T) error {
	sw := spin.Wait{}
	for {
		t := st.hdr.top.Load()
		if t >= st.hdr.capacity {
			return iox.ErrWouldBlock
		}
		if st.hdr.top.CompareAndSwap(t, t+1) {
			st.data[t] = v
			return nil
		}
		sw.Once()
	}
}

// Pop removes and returns the most recently pushed element. Returns
// iox.ErrWouldBlock when the stack is empty.
func (st *Stack[T]) Pop() (T, error) {
	sw := spin.Wait{}
	for {
		t := st.hdr.top.Load()
		if t == 0 {
			var zero T
			return zero, iox.ErrWouldBlock
		}
		if st.hdr.top.CompareAndSwap(t, t-1) {
			return st.data[t-1], nil
		}
		sw.Once()
	}
}

// Top returns the top element without removing it. The value may already
// be stale by the time the caller sees it when consumers run concurrently.
func (st *Stack[T]) Top() (T, error) {
	t := st.hdr.top.Load()
	if t == 0 {
		var zero T
		return zero, iox.ErrWouldBlock
	}
	return st.data[t-1], nil
}

// Len returns the element count at one instant.
func (st *Stack[T]) Len() int {
	return int(st.hdr.top.Load())
}

// Cap returns the element capacity.
func (st *Stack[T]) Cap() int {
	return int(st.hdr.capacity)
}

// Empty reports whether the stack held no elements at one instant.
func (st *Stack[T]) Empty() bool {
	return st.hdr.top.Load() == 0
}

// Full reports whether the stack was at capacity at one instant.
func (st *Stack[T]) Full() bool {
	return st.hdr.top.Load() >= st.hdr.capacity
}
