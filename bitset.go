// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"fmt"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

const bitsetHeaderSize = 16

// bitsetHeader precedes the word array of a Bitset.
//
//	bit_count u64
//	set_count atomic u64  cached population count
type bitsetHeader struct {
	bitCount uint64
	setCount atomic.Uint64
}

func init() {
	if unsafe.Sizeof(bitsetHeader{}) != bitsetHeaderSize {
		panic(fmt.Sprintf("bitsetHeader size is %d, expected %d",
			unsafe.Sizeof(bitsetHeader{}), bitsetHeaderSize))
	}
}

// Bitset is an N-bit array packed into 64-bit atomic words. Single-bit
// operations are atomic read-modify-writes that also maintain a cached
// population count; whole-set operations walk the words and are not
// atomic across them.
type Bitset struct {
	hdr   *bitsetHeader
	words []atomic.Uint64
}

func bitsetWords(bitCount uint64) int {
	return int((bitCount + 63) / 64)
}

// NewBitset creates a bitset of bitCount bits under name, all clear.
func NewBitset(s *Segment, name string, bitCount int) (*Bitset, error) {
	if bitCount < 1 {
		return nil, fmt.Errorf("%w: bitset size %d", ErrInvalidArgument, bitCount)
	}
	words := bitsetWords(uint64(bitCount))
	size := bitsetHeaderSize + uint64(words)*8
	offset, err := s.Allocate(name, size, 8, uint64(bitCount))
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, size))

	b := bitsetAt(s, offset, words)
	b.hdr.bitCount = uint64(bitCount)
	return b, nil
}

// OpenBitset attaches to an existing bitset, validating the bit count
// recorded at creation.
func OpenBitset(s *Segment, name string) (*Bitset, error) {
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: bitset %q", ErrNotFound, name)
	}
	b := bitsetAt(s, e.Offset, bitsetWords(e.NumElem))
	if b.hdr.bitCount != e.NumElem {
		return nil, fmt.Errorf("%w: bitset %q header bit count %d, directory %d",
			ErrSizeMismatch, name, b.hdr.bitCount, e.NumElem)
	}
	return b, nil
}

func bitsetAt(s *Segment, offset uint64, words int) *Bitset {
	_ = s.at(offset, bitsetHeaderSize)
	return &Bitset{
		hdr:   viewAt[bitsetHeader](s.mem, offset),
		words: sliceAt[atomic.Uint64](s.mem, offset+bitsetHeaderSize, words),
	}
}

func (b *Bitset) check(i int) (word int, mask uint64) {
	if i < 0 || uint64(i) >= b.hdr.bitCount {
		panic(fmt.Sprintf("zeroipc: bit %d of %d", i, b.hdr.bitCount))
	}
	return i >> 6, 1 << (uint(i) & 63)
}

// Set sets bit i. Reports whether the bit was clear before.
func (b *Bitset) Set(i int) bool {
	w, mask := b.check(i)
	old := b.words[w].Or(mask)
	if old&mask == 0 {
		b.hdr.setCount.Add(1)
		return true
	}
	return false
}

// Clear clears bit i. Reports whether the bit was set before.
func (b *Bitset) Clear(i int) bool {
	w, mask := b.check(i)
	old := b.words[w].And(^mask)
	if old&mask != 0 {
		b.hdr.setCount.Add(^uint64(0))
		return true
	}
	return false
}

// Flip inverts bit i. Reports the new value.
func (b *Bitset) Flip(i int) bool {
	w, mask := b.check(i)
	for {
		old := b.words[w].Load()
		if b.words[w].CompareAndSwap(old, old^mask) {
			if old&mask == 0 {
				b.hdr.setCount.Add(1)
				return true
			}
			b.hdr.setCount.Add(^uint64(0))
			return false
		}
	}
}

// Test reports bit i.
func (b *Bitset) Test(i int) bool {
	w, mask := b.check(i)
	return b.words[w].Load()&mask != 0
}

// Count returns the cached population count. O(1); under concurrent
// updates the cache can lag individual words momentarily.
func (b *Bitset) Count() int {
	return int(b.hdr.setCount.Load())
}

// CountAccurate recomputes the population count from the words. O(N/64);
// words are read one at a time, so concurrent updates can make the
// result inconsistent with any single instant.
func (b *Bitset) CountAccurate() int {
	n := 0
	for w := range b.words {
		n += bits.OnesCount64(b.masked(w))
	}
	return n
}

// FindFirst returns the index of the lowest set bit, or Len() when no
// bit is set.
func (b *Bitset) FindFirst() int {
	return b.FindNext(0)
}

// FindNext returns the index of the lowest set bit at or above from, or
// Len() when there is none.
func (b *Bitset) FindNext(from int) int {
	if from < 0 {
		from = 0
	}
	n := int(b.hdr.bitCount)
	if from >= n {
		return n
	}
	w := from >> 6
	word := b.masked(w) &^ (1<<(uint(from)&63) - 1)
	for {
		if word != 0 {
			i := w<<6 + bits.TrailingZeros64(word)
			if i >= n {
				return n
			}
			return i
		}
		w++
		if w >= len(b.words) {
			return n
		}
		word = b.masked(w)
	}
}

// masked loads word w with the bits beyond the bit count forced clear.
func (b *Bitset) masked(w int) uint64 {
	v := b.words[w].Load()
	if w == len(b.words)-1 {
		if tail := uint(b.hdr.bitCount & 63); tail != 0 {
			v &= 1<<tail - 1
		}
	}
	return v
}

// SetAll sets every bit in [0, Len()). Bits beyond the bit count stay
// clear. Word stores are individually atomic, not the sweep as a whole.
func (b *Bitset) SetAll() {
	last := len(b.words) - 1
	for w := range b.words {
		mask := ^uint64(0)
		if w == last {
			if tail := uint(b.hdr.bitCount & 63); tail != 0 {
				mask = 1<<tail - 1
			}
		}
		b.words[w].Store(mask)
	}
	b.hdr.setCount.Store(b.hdr.bitCount)
}

// ClearAll clears every bit.
func (b *Bitset) ClearAll() {
	for w := range b.words {
		b.words[w].Store(0)
	}
	b.hdr.setCount.Store(0)
}

// And intersects b with other word by word and refreshes the cached
// count. Fails when the bit counts differ. Not atomic across words.
func (b *Bitset) And(other *Bitset) error {
	if err := b.sameSize(other); err != nil {
		return err
	}
	for w := range b.words {
		b.words[w].And(other.words[w].Load())
	}
	b.refreshCount()
	return nil
}

// Or unions b with other word by word and refreshes the cached count.
func (b *Bitset) Or(other *Bitset) error {
	if err := b.sameSize(other); err != nil {
		return err
	}
	for w := range b.words {
		b.words[w].Or(other.words[w].Load())
	}
	b.refreshCount()
	return nil
}

// Xor symmetric-differences b with other word by word and refreshes the
// cached count.
func (b *Bitset) Xor(other *Bitset) error {
	if err := b.sameSize(other); err != nil {
		return err
	}
	for w := range b.words {
		o := other.words[w].Load()
		for {
			old := b.words[w].Load()
			if b.words[w].CompareAndSwap(old, old^o) {
				break
			}
		}
	}
	b.refreshCount()
	return nil
}

func (b *Bitset) sameSize(other *Bitset) error {
	if b.hdr.bitCount != other.hdr.bitCount {
		return fmt.Errorf("%w: bitset sizes %d and %d",
			ErrSizeMismatch, b.hdr.bitCount, other.hdr.bitCount)
	}
	return nil
}

func (b *Bitset) refreshCount() {
	b.hdr.setCount.Store(uint64(b.CountAccurate()))
}

// Len returns the bit count.
func (b *Bitset) Len() int {
	return int(b.hdr.bitCount)
}

// None reports whether no bit was set at one instant.
func (b *Bitset) None() bool {
	return b.hdr.setCount.Load() == 0
}

// All reports whether every bit was set at one instant.
func (b *Bitset) All() bool {
	return b.hdr.setCount.Load() == b.hdr.bitCount
}
