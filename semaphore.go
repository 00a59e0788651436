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

const semaphoreHeaderSize = 16

// semaphoreHeader is the whole payload of a Semaphore.
//
//	count     atomic i32
//	waiting   atomic i32  waiter count, for observability
//	max_count i32         0 means unbounded
//	_pad      i32
type semaphoreHeader struct {
	count    atomic.Int32
	waiting  atomic.Int32
	maxCount int32
	_        int32
}

func init() {
	if unsafe.Sizeof(semaphoreHeader{}) != semaphoreHeaderSize {
		panic(fmt.Sprintf("semaphoreHeader size is %d, expected %d",
			unsafe.Sizeof(semaphoreHeader{}), semaphoreHeaderSize))
	}
}

// Semaphore is a counting semaphore over shared atomic memory. Waiters
// never park in the kernel; a blocked Acquire spins with bounded
// exponential backoff, so it works across unrelated processes.
type Semaphore struct {
	hdr *semaphoreHeader
}

// NewSemaphore creates a semaphore under name with the given initial
// count. maxCount bounds Release; 0 means unbounded.
func NewSemaphore(s *Segment, name string, initial, maxCount int) (*Semaphore, error) {
	if initial < 0 || initial > math.MaxInt32 || maxCount < 0 || maxCount > math.MaxInt32 {
		return nil, fmt.Errorf("%w: semaphore counts %d/%d", ErrInvalidArgument, initial, maxCount)
	}
	if maxCount > 0 && initial > maxCount {
		return nil, fmt.Errorf("%w: initial %d above maximum %d", ErrInvalidArgument, initial, maxCount)
	}

	offset, err := s.Allocate(name, semaphoreHeaderSize, 0, 0)
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, semaphoreHeaderSize))

	sem := semaphoreAt(s, offset)
	sem.hdr.maxCount = int32(maxCount)
	sem.hdr.count.Store(int32(initial))
	return sem, nil
}

// NewBinarySemaphore creates a semaphore with maximum count 1, signalled
// or not according to signalled.
func NewBinarySemaphore(s *Segment, name string, signalled bool) (*Semaphore, error) {
	initial := 0
	if signalled {
		initial = 1
	}
	return NewSemaphore(s, name, initial, 1)
}

// OpenSemaphore attaches to an existing semaphore.
func OpenSemaphore(s *Segment, name string) (*Semaphore, error) {
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: semaphore %q", ErrNotFound, name)
	}
	if e.Size != semaphoreHeaderSize {
		return nil, fmt.Errorf("%w: semaphore %q payload is %d bytes",
			ErrSizeMismatch, name, e.Size)
	}
	return semaphoreAt(s, e.Offset), nil
}

func semaphoreAt(s *Segment, offset uint64) *Semaphore {
	_ = s.at(offset, semaphoreHeaderSize)
	return &Semaphore{hdr: viewAt[semaphoreHeader](s.mem, offset)}
}

// Acquire decrements the count, waiting until it is positive.
func (sem *Semaphore) Acquire() {
	if sem.tryAcquireSpin() {
		return
	}
	sem.hdr.waiting.Add(1)
	defer sem.hdr.waiting.Add(-1)

	bo := backoff{}
	for !sem.tryAcquireSpin() {
		bo.wait()
	}
}

// TryAcquire attempts one decrement without waiting.
func (sem *Semaphore) TryAcquire() bool {
	c := sem.hdr.count.Load()
	return c > 0 && sem.hdr.count.CompareAndSwap(c, c-1)
}

// AcquireFor decrements the count, waiting at most timeout.
// Returns ErrTimeout when the deadline passes first.
func (sem *Semaphore) AcquireFor(timeout time.Duration) error {
	if sem.tryAcquireSpin() {
		return nil
	}
	sem.hdr.waiting.Add(1)
	defer sem.hdr.waiting.Add(-1)

	d := deadline(timeout)
	bo := backoff{}
	for {
		if sem.tryAcquireSpin() {
			return nil
		}
		if expired(d) {
			return ErrTimeout
		}
		bo.wait()
	}
}

// tryAcquireSpin retries the CAS while the count stays positive, giving
// up only when the semaphore reads empty.
func (sem *Semaphore) tryAcquireSpin() bool {
	for {
		c := sem.hdr.count.Load()
		if c <= 0 {
			return false
		}
		if sem.hdr.count.CompareAndSwap(c, c-1) {
			return true
		}
	}
}

// Release increments the count. When a maximum is configured and the
// increment would exceed it, the count is restored and ErrOverflow
// returned.
func (sem *Semaphore) Release() error {
	v := sem.hdr.count.Add(1)
	if sem.hdr.maxCount > 0 && v > sem.hdr.maxCount {
		sem.hdr.count.Add(-1)
		return fmt.Errorf("%w: count %d above maximum %d", ErrOverflow, v, sem.hdr.maxCount)
	}
	return nil
}

// Value returns the count at one instant.
func (sem *Semaphore) Value() int {
	return int(sem.hdr.count.Load())
}

// Waiting returns the number of blocked acquirers at one instant.
func (sem *Semaphore) Waiting() int {
	return int(sem.hdr.waiting.Load())
}

// Max returns the configured maximum count, 0 when unbounded.
func (sem *Semaphore) Max() int {
	return int(sem.hdr.maxCount)
}

// Guard acquires the semaphore and returns a releaser for use with
// defer, so every exit path of the critical section releases exactly
// once.
//
//	g := sem.Guard()
//	defer g.Release()
func (sem *Semaphore) Guard() *SemaphoreGuard {
	sem.Acquire()
	return &SemaphoreGuard{sem: sem}
}

// SemaphoreGuard is a scoped hold of one semaphore count.
type SemaphoreGuard struct {
	sem      *Semaphore
	released atomic.Bool
}

// Release returns the held count. Safe to call more than once; only the
// first call releases.
func (g *SemaphoreGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		_ = g.sem.Release()
	}
}
