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

const barrierHeaderSize = 16

// barrierHeader is the whole payload of a Barrier.
//
//	arrived          atomic i32
//	generation       atomic i32
//	num_participants i32
//	_pad             i32
type barrierHeader struct {
	arrived      atomic.Int32
	generation   atomic.Int32
	participants int32
	_            int32
}

func init() {
	if unsafe.Sizeof(barrierHeader{}) != barrierHeaderSize {
		panic(fmt.Sprintf("barrierHeader size is %d, expected %d",
			unsafe.Sizeof(barrierHeader{}), barrierHeaderSize))
	}
}

// Barrier is a reusable rendezvous for a fixed number of participants.
//
// Each cycle is numbered by a generation counter. A participant captures
// the generation before registering its arrival and then waits for the
// counter to move, so a fast participant racing into the next cycle can
// never make a straggler of the previous cycle miss its release.
type Barrier struct {
	hdr *barrierHeader
}

// NewBarrier creates a barrier under name for participants callers.
func NewBarrier(s *Segment, name string, participants int) (*Barrier, error) {
	if participants < 1 || participants > math.MaxInt32 {
		return nil, fmt.Errorf("%w: barrier participants %d", ErrInvalidArgument, participants)
	}

	offset, err := s.Allocate(name, barrierHeaderSize, 0, 0)
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, barrierHeaderSize))

	b := barrierAt(s, offset)
	b.hdr.participants = int32(participants)
	return b, nil
}

// OpenBarrier attaches to an existing barrier.
func OpenBarrier(s *Segment, name string) (*Barrier, error) {
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: barrier %q", ErrNotFound, name)
	}
	if e.Size != barrierHeaderSize {
		return nil, fmt.Errorf("%w: barrier %q payload is %d bytes",
			ErrSizeMismatch, name, e.Size)
	}
	return barrierAt(s, e.Offset), nil
}

func barrierAt(s *Segment, offset uint64) *Barrier {
	_ = s.at(offset, barrierHeaderSize)
	return &Barrier{hdr: viewAt[barrierHeader](s.mem, offset)}
}

// Wait blocks until all participants of the current cycle have arrived.
// The last arriver resets the arrival count and advances the generation,
// releasing every waiter of the cycle.
func (b *Barrier) Wait() {
	g := b.hdr.generation.Load()
	if b.arrive() {
		return
	}
	bo := backoff{}
	for b.hdr.generation.Load() == g {
		bo.wait()
	}
}

// WaitFor blocks like Wait for at most timeout.
//
// On timeout the caller withdraws its arrival before returning
// ErrTimeout. The withdrawal races the final arriver: if the cycle
// completes in that window the barrier releases on a count the timed-out
// caller no longer backs, leaving the cycle inconsistent. Recovery is
// the caller's responsibility; mixing timed and untimed waiters on one
// barrier is best avoided.
func (b *Barrier) WaitFor(timeout time.Duration) error {
	g := b.hdr.generation.Load()
	if b.arrive() {
		return nil
	}
	d := deadline(timeout)
	bo := backoff{}
	for b.hdr.generation.Load() == g {
		if expired(d) {
			b.hdr.arrived.Add(-1)
			return ErrTimeout
		}
		bo.wait()
	}
	return nil
}

// arrive registers one arrival. When the caller is the last participant
// it completes the cycle and reports true.
func (b *Barrier) arrive() bool {
	a := b.hdr.arrived.Add(1)
	if a == b.hdr.participants {
		b.hdr.arrived.Store(0)
		b.hdr.generation.Add(1)
		return true
	}
	return false
}

// Generation returns the completed-cycle count.
func (b *Barrier) Generation() int {
	return int(b.hdr.generation.Load())
}

// Participants returns the participant count per cycle.
func (b *Barrier) Participants() int {
	return int(b.hdr.participants)
}

// Arrived returns the arrivals registered in the current cycle at one
// instant.
func (b *Barrier) Arrived() int {
	return int(b.hdr.arrived.Load())
}
