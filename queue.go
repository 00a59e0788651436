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

const queueHeaderSize = 16

// queueHeader precedes the slot storage of a Queue.
//
//	head      atomic u32  index of the next element to dequeue
//	tail      atomic u32  index of the next empty slot
//	capacity  u32         slot count (one slot is kept empty)
//	elem_size u32
type queueHeader struct {
	head     atomic.Uint32
	tail     atomic.Uint32
	capacity uint32
	elemSize uint32
}

func init() {
	if unsafe.Sizeof(queueHeader{}) != queueHeaderSize {
		panic(fmt.Sprintf("queueHeader size is %d, expected %d",
			unsafe.Sizeof(queueHeader{}), queueHeaderSize))
	}
}

// Queue is a bounded multi-producer multi-consumer FIFO over a circular
// slot array. Producers and consumers reserve slots by CAS on the tail
// and head cursors; a reserved slot is exclusively owned by the winner
// until its element transfer completes.
//
// The ring distinguishes empty (head == tail) from full by keeping one
// slot unused, so a Queue created with capacity n holds n-1 elements.
type Queue[T any] struct {
	hdr  *queueHeader
	data []T
}

// NewQueue creates a queue with the given slot capacity under name.
// capacity must be at least 2; one slot stays empty.
func NewQueue[T any](s *Segment, name string, capacity int) (*Queue[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	if capacity < 2 || capacity > math.MaxUint32 {
		return nil, fmt.Errorf("%w: queue capacity %d", ErrInvalidArgument, capacity)
	}
	if uint64(capacity)*esize > math.MaxUint32 {
		return nil, fmt.Errorf("%w: queue payload overflows size calculation", ErrInvalidArgument)
	}

	size := queueHeaderSize + uint64(capacity)*esize
	offset, err := s.Allocate(name, size, esize, uint64(capacity))
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, size))

	q := queueAt[T](s, offset, capacity)
	q.hdr.capacity = uint32(capacity)
	q.hdr.elemSize = uint32(esize)
	return q, nil
}

// OpenQueue attaches to an existing queue, validating the element size
// recorded at creation.
func OpenQueue[T any](s *Segment, name string) (*Queue[T], error) {
	esize, err := elemSize[T]()
	if err != nil {
		return nil, err
	}
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: queue %q", ErrNotFound, name)
	}
	if e.ElemSize != esize {
		return nil, fmt.Errorf("%w: queue %q holds %d-byte elements, want %d",
			ErrSizeMismatch, name, e.ElemSize, esize)
	}
	q := queueAt[T](s, e.Offset, int(e.NumElem))
	if uint64(q.hdr.capacity) != e.NumElem || uint64(q.hdr.elemSize) != esize {
		return nil, fmt.Errorf("%w: queue %q header disagrees with directory",
			ErrSizeMismatch, name)
	}
	return q, nil
}

func queueAt[T any](s *Segment, offset uint64, capacity int) *Queue[T] {
	_ = s.at(offset, queueHeaderSize)
	return &Queue[T]{
		hdr:  viewAt[queueHeader](s.mem, offset),
		data: sliceAt[T](s.mem, offset+queueHeaderSize, capacity),
	}
}

// Push enqueues v. Returns iox.ErrWouldBlock when the queue is full.
//
// The slot is reserved by advancing tail before the element is written;
// a process that dies between the two leaves one slot torn until the
// segment is recreated.
func (q *Queue[T]) Push(v T) error {
	capacity := q.hdr.capacity
	sw := spin.Wait{}
	for {
		t := q.hdr.tail.Load()
		next := t + 1
		if next == capacity {
			next = 0
		}
		if next == q.hdr.head.Load() {
			return iox.ErrWouldBlock
		}
		if q.hdr.tail.CompareAndSwap(t, next) {
			q.data[t] = v
			return nil
		}
		sw.Once()
	}
}

// Pop dequeues the oldest element. Returns iox.ErrWouldBlock when the
// queue is empty.
func (q *Queue[T]) Pop() (T, error) {
	capacity := q.hdr.capacity
	sw := spin.Wait{}
	for {
		h := q.hdr.head.Load()
		if h == q.hdr.tail.Load() {
			var zero T
			return zero, iox.ErrWouldBlock
		}
		next := h + 1
		if next == capacity {
			next = 0
		}
		if q.hdr.head.CompareAndSwap(h, next) {
			return q.data[h], nil
		}
		sw.Once()
	}
}

// Len returns the element count computed from two independent cursor
// loads; under concurrency it is approximate.
func (q *Queue[T]) Len() int {
	h := q.hdr.head.Load()
	t := q.hdr.tail.Load()
	if t >= h {
		return int(t - h)
	}
	return int(t + q.hdr.capacity - h)
}

// Cap returns the usable element capacity (one slot below the slot count).
func (q *Queue[T]) Cap() int {
	return int(q.hdr.capacity) - 1
}

// Empty reports head == tail at one instant.
func (q *Queue[T]) Empty() bool {
	return q.hdr.head.Load() == q.hdr.tail.Load()
}

// Full reports whether a Push at this instant would return would-block.
func (q *Queue[T]) Full() bool {
	t := q.hdr.tail.Load() + 1
	if t == q.hdr.capacity {
		t = 0
	}
	return t == q.hdr.head.Load()
}
