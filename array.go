// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"fmt"
	"unsafe"
)

const arrayHeaderSize = 8

// arrayHeader precedes the element storage of an Array.
//
//	capacity u64
type arrayHeader struct {
	capacity uint64
}

func init() {
	if unsafe.Sizeof(arrayHeader{}) != arrayHeaderSize {
		panic(fmt.Sprintf("arrayHeader size is %d, expected %d",
			unsafe.Sizeof(arrayHeader{}), arrayHeaderSize))
	}
}

// Array is a dense fixed-length vector of T stored in a segment.
//
// Element access is not synchronized; concurrent readers and writers must
// coordinate externally or store atomic-width values and accept torn-free
// word semantics from the hardware.
type Array[T any] struct {
	hdr  *arrayHeader
	data []T
}

// NewArray creates an array of capacity elements under name.
func NewArray[T any](s *Segment, name string, capacity int) (*Array[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: array capacity %d", ErrInvalidArgument, capacity)
	}

	size := arrayHeaderSize + uint64(capacity)*esize
	offset, err := s.Allocate(name, size, esize, uint64(capacity))
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, size))

	a := arrayAt[T](s, offset, capacity)
	a.hdr.capacity = uint64(capacity)
	return a, nil
}

// OpenArray attaches to an existing array, validating the element size
// and capacity recorded at creation.
func OpenArray[T any](s *Segment, name string) (*Array[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: array %q", ErrNotFound, name)
	}
	if e.ElemSize != esize {
		return nil, fmt.Errorf("%w: array %q holds %d-byte elements, want %d",
			ErrSizeMismatch, name, e.ElemSize, esize)
	}
	a := arrayAt[T](s, e.Offset, int(e.NumElem))
	if a.hdr.capacity != e.NumElem {
		return nil, fmt.Errorf("%w: array %q header capacity %d, directory %d",
			ErrSizeMismatch, name, a.hdr.capacity, e.NumElem)
	}
	return a, nil
}

func arrayAt[T any](s *Segment, offset uint64, capacity int) *Array[T] {
	_ = s.at(offset, arrayHeaderSize)
	return &Array[T]{
		hdr:  viewAt[arrayHeader](s.mem, offset),
		data: sliceAt[T](s.mem, offset+arrayHeaderSize, capacity),
	}
}

// Len returns the element capacity.
func (a *Array[T]) Len() int {
	return len(a.data)
}

// Get returns element i without bounds checking beyond the runtime's own.
func (a *Array[T]) Get(i int) T {
	return a.data[i]
}

// Set stores v at element i without bounds checking beyond the runtime's own.
func (a *Array[T]) Set(i int, v T) {
	a.data[i] = v
}

// At returns a pointer to element i, or ErrInvalidArgument when i is out
// of range. The pointer aliases segment memory.
func (a *Array[T]) At(i int) (*T, error) {
	if i < 0 || i >= len(a.data) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrInvalidArgument, i, len(a.data))
	}
	return &a.data[i], nil
}

// Fill writes v to every slot.
func (a *Array[T]) Fill(v T) {
	for i := range a.data {
		a.data[i] = v
	}
}

// Slice returns the live element storage. The slice aliases segment
// memory; it is valid for as long as the mapping.
func (a *Array[T]) Slice() []T {
	return a.data
}
