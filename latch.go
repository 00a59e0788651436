// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"
)

const latchHeaderSize = 16

// latchHeader is the whole payload of a Latch.
//
//	count         atomic i32  counts down, saturates at 0
//	initial_count i32
//	_pad          [2]i32
type latchHeader struct {
	count   atomic.Int32
	initial int32
	_       [2]int32
}

func init() {
	if unsafe.Sizeof(latchHeader{}) != latchHeaderSize {
		panic(fmt.Sprintf("latchHeader size is %d, expected %d",
			unsafe.Sizeof(latchHeader{}), latchHeaderSize))
	}
}

// Latch is a one-shot countdown rendezvous: the count only moves toward
// zero and cannot be reset. Waiters spin with bounded backoff until it
// reaches zero and return immediately ever after.
type Latch struct {
	hdr *latchHeader
}

// NewLatch creates a latch under name starting at count.
func NewLatch(s *Segment, name string, count int) (*Latch, error) {
	if count < 0 || count > math.MaxInt32 {
		return nil, fmt.Errorf("%w: latch count %d", ErrInvalidArgument, count)
	}

	offset, err := s.Allocate(name, latchHeaderSize, 0, 0)
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, latchHeaderSize))

	l := latchAt(s, offset)
	l.hdr.initial = int32(count)
	l.hdr.count.Store(int32(count))
	return l, nil
}

// OpenLatch attaches to an existing latch.
func OpenLatch(s *Segment, name string) (*Latch, error) {
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: latch %q", ErrNotFound, name)
	}
	if e.Size != latchHeaderSize {
		return nil, fmt.Errorf("%w: latch %q payload is %d bytes",
			ErrSizeMismatch, name, e.Size)
	}
	return latchAt(s, e.Offset), nil
}

func latchAt(s *Segment, offset uint64) *Latch {
	_ = s.at(offset, latchHeaderSize)
	return &Latch{hdr: viewAt[latchHeader](s.mem, offset)}
}

// CountDown subtracts n from the count, stopping at zero. Counting a
// latch below zero is not an error; the excess is discarded.
func (l *Latch) CountDown(n int) {
	if n < 1 {
		return
	}
	for {
		c := l.hdr.count.Load()
		if c == 0 {
			return
		}
		step := int32(min(int(c), n))
		if l.hdr.count.CompareAndSwap(c, c-step) {
			return
		}
	}
}

// Wait blocks until the count reaches zero.
func (l *Latch) Wait() {
	bo := backoff{}
	for l.hdr.count.Load() != 0 {
		bo.wait()
	}
}

// TryWait reports whether the count is already zero, without blocking.
func (l *Latch) TryWait() bool {
	return l.hdr.count.Load() == 0
}

// WaitFor blocks until the count reaches zero or timeout passes,
// returning ErrTimeout in the latter case.
func (l *Latch) WaitFor(timeout time.Duration) error {
	d := deadline(timeout)
	bo := backoff{}
	for l.hdr.count.Load() != 0 {
		if expired(d) {
			return ErrTimeout
		}
		bo.wait()
	}
	return nil
}

// Count returns the remaining count at one instant.
func (l *Latch) Count() int {
	return int(l.hdr.count.Load())
}

// Initial returns the count the latch started from.
func (l *Latch) Initial() int {
	return int(l.hdr.initial)
}
