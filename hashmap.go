// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"code.hybscloud.com/iox"
)

const mapHeaderSize = 16

// Slot states. A slot moves EMPTY→OCCUPIED on first insert,
// OCCUPIED→TOMBSTONE on erase, and TOMBSTONE→OCCUPIED on reuse; it never
// returns to EMPTY, keeping every probe chain intact.
const (
	slotEmpty     = uint32(0)
	slotOccupied  = uint32(1)
	slotTombstone = uint32(2)
)

// mapHeader precedes the slot area of a Map or Set.
//
//	size         atomic u32  occupied-slot count
//	bucket_count u32         power of two
//	key_size     u32
//	value_size   u32         0 for sets
//
// Each slot is state(u32) + key bytes + value bytes, padded to a multiple
// of 8. The bucket index of a key is xxhash64(key bytes) masked by
// bucket_count-1; the hash function is part of the wire ABI.
type mapHeader struct {
	size        atomic.Uint32
	bucketCount uint32
	keySize     uint32
	valueSize   uint32
}

func init() {
	if unsafe.Sizeof(mapHeader{}) != mapHeaderSize {
		panic(fmt.Sprintf("mapHeader size is %d, expected %d",
			unsafe.Sizeof(mapHeader{}), mapHeaderSize))
	}
}

// hmap is the untyped open-addressing core shared by Map and Set: linear
// probing over fixed slots with atomic state words and tombstoned erase.
type hmap struct {
	hdr      *mapHeader
	slots    []byte
	slotSize uint64
}

func mapSlotSize(keySize, valueSize uint64) uint64 {
	return alignUp(4+keySize+valueSize, 8)
}

// mapBuckets returns the smallest power of two holding capacity elements
// with probing headroom (1.5x) to spare.
func mapBuckets(capacity int) uint32 {
	n := uint64(capacity) + uint64(capacity)/2
	b := uint64(1)
	for b < n {
		b <<= 1
	}
	return uint32(b)
}

func newHmap(s *Segment, name string, capacity int, keySize, valueSize uint64) (*hmap, error) {
	if capacity < 1 || capacity > 1<<30 {
		return nil, fmt.Errorf("%w: map capacity %d", ErrInvalidArgument, capacity)
	}
	buckets := mapBuckets(capacity)
	slotSize := mapSlotSize(keySize, valueSize)

	size := mapHeaderSize + uint64(buckets)*slotSize
	offset, err := s.Allocate(name, size, slotSize, uint64(buckets))
	if err != nil {
		return nil, err
	}
	clear(bytesAt(s.mem, offset, size))

	m := hmapAt(s, offset, buckets, slotSize)
	m.hdr.bucketCount = buckets
	m.hdr.keySize = uint32(keySize)
	m.hdr.valueSize = uint32(valueSize)
	return m, nil
}

func openHmap(s *Segment, name string, keySize, valueSize uint64) (*hmap, error) {
	e, ok := s.Find(name)
	if !ok {
		return nil, fmt.Errorf("%w: map %q", ErrNotFound, name)
	}
	slotSize := mapSlotSize(keySize, valueSize)
	if e.ElemSize != slotSize {
		return nil, fmt.Errorf("%w: map %q slot size %d, want %d",
			ErrSizeMismatch, name, e.ElemSize, slotSize)
	}
	m := hmapAt(s, e.Offset, uint32(e.NumElem), slotSize)
	if uint64(m.hdr.bucketCount) != e.NumElem ||
		uint64(m.hdr.keySize) != keySize || uint64(m.hdr.valueSize) != valueSize {
		return nil, fmt.Errorf("%w: map %q header disagrees with directory",
			ErrSizeMismatch, name)
	}
	return m, nil
}

func hmapAt(s *Segment, offset uint64, buckets uint32, slotSize uint64) *hmap {
	_ = s.at(offset, mapHeaderSize)
	return &hmap{
		hdr:      viewAt[mapHeader](s.mem, offset),
		slots:    bytesAt(s.mem, offset+mapHeaderSize, uint64(buckets)*slotSize),
		slotSize: slotSize,
	}
}

func (m *hmap) state(i uint32) *atomic.Uint32 {
	return viewAt[atomic.Uint32](m.slots, uint64(i)*m.slotSize)
}

func (m *hmap) keyAt(i uint32) []byte {
	off := uint64(i)*m.slotSize + 4
	return m.slots[off : off+uint64(m.hdr.keySize)]
}

func (m *hmap) valueAt(i uint32) []byte {
	off := uint64(i)*m.slotSize + 4 + uint64(m.hdr.keySize)
	return m.slots[off : off+uint64(m.hdr.valueSize)]
}

func (m *hmap) bucket(kb []byte) uint32 {
	return uint32(xxhash.Sum64(kb)) & (m.hdr.bucketCount - 1)
}

func (m *hmap) maxLoad() uint32 {
	return m.hdr.bucketCount / 4 * 3
}

// insert claims a slot for kb and writes vb. Duplicate keys observed
// during the probe fail with ErrAlreadyExists; a probe that visits every
// bucket, or a size already at the 0.75 load bound, fails with
// iox.ErrWouldBlock.
//
// Two concurrent inserts of a key absent from the table can both claim
// fresh slots before either observes the other; the table then holds the
// key twice until one copy is erased. Finds return one of the copies.
// Callers needing strict at-most-once keys serialize their inserts.
func (m *hmap) insert(kb, vb []byte) error {
	if m.hdr.size.Load() >= m.maxLoad() {
		return iox.ErrWouldBlock
	}
	buckets := m.hdr.bucketCount
	i := m.bucket(kb)
	for range buckets {
		st := m.state(i)
		for {
			switch st.Load() {
			case slotEmpty:
				if !st.CompareAndSwap(slotEmpty, slotOccupied) {
					continue
				}
				copy(m.keyAt(i), kb)
				copy(m.valueAt(i), vb)
				m.hdr.size.Add(1)
				return nil
			case slotTombstone:
				if !st.CompareAndSwap(slotTombstone, slotOccupied) {
					continue
				}
				copy(m.keyAt(i), kb)
				copy(m.valueAt(i), vb)
				m.hdr.size.Add(1)
				return nil
			default: // occupied
				if bytes.Equal(m.keyAt(i), kb) {
					return fmt.Errorf("%w: map key", ErrAlreadyExists)
				}
			}
			break
		}
		i = (i + 1) & (buckets - 1)
	}
	return iox.ErrWouldBlock
}

// find probes for kb and returns the occupied slot index holding it.
// Tombstones are skipped; the probe stops at the first empty slot.
func (m *hmap) find(kb []byte) (uint32, bool) {
	buckets := m.hdr.bucketCount
	i := m.bucket(kb)
	for range buckets {
		switch m.state(i).Load() {
		case slotEmpty:
			return 0, false
		case slotOccupied:
			if bytes.Equal(m.keyAt(i), kb) {
				return i, true
			}
		}
		i = (i + 1) & (buckets - 1)
	}
	return 0, false
}

// erase tombstones the slot holding kb.
func (m *hmap) erase(kb []byte) bool {
	buckets := m.hdr.bucketCount
	i := m.bucket(kb)
	for range buckets {
		switch m.state(i).Load() {
		case slotEmpty:
			return false
		case slotOccupied:
			if bytes.Equal(m.keyAt(i), kb) {
				if m.state(i).CompareAndSwap(slotOccupied, slotTombstone) {
					m.hdr.size.Add(^uint32(0))
					return true
				}
				// Lost to a concurrent erase of the same slot.
				return false
			}
		}
		i = (i + 1) & (buckets - 1)
	}
	return false
}

func (m *hmap) len() int {
	return int(m.hdr.size.Load())
}

// Map is an open-addressed, linear-probed hash table from K to V with
// atomic slot states and tombstoned erase. Keys are hashed and compared
// by their bytes, so K must be fully determined by its in-memory bytes:
// padding-free and fully initialized.
type Map[K, V any] struct {
	core *hmap
}

// NewMap creates a map sized for capacity elements under name. The bucket
// array is the smallest power of two at least 1.5x capacity; inserts fail
// once the table reaches a 0.75 load factor.
func NewMap[K, V any](s *Segment, name string, capacity int) (*Map[K, V], error) {
	ksize, err := elemSize[K]()
	if err != nil {
		return nil, err
	}
	vsize, err := elemSize[V]()
	if err != nil {
		return nil, err
	}
	core, err := newHmap(s, name, capacity, ksize, vsize)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{core: core}, nil
}

// OpenMap attaches to an existing map, validating the key and value sizes
// recorded at creation.
func OpenMap[K, V any](s *Segment, name string) (*Map[K, V], error) {
	ksize, err := elemSize[K]()
	if err != nil {
		return nil, err
	}
	vsize, err := elemSize[V]()
	if err != nil {
		return nil, err
	}
	core, err := openHmap(s, name, ksize, vsize)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{core: core}, nil
}

// Insert adds key→value. Fails with ErrAlreadyExists when the key is
// present and iox.ErrWouldBlock when the table is at its load bound.
func (m *Map[K, V]) Insert(key K, value V) error {
	return m.core.insert(valueBytes(&key), valueBytes(&value))
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, error) {
	i, ok := m.core.find(valueBytes(&key))
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: map key", ErrNotFound)
	}
	var v V
	copy(valueBytes(&v), m.core.valueAt(i))
	return v, nil
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.core.find(valueBytes(&key))
	return ok
}

// Update overwrites the value stored under an existing key.
func (m *Map[K, V]) Update(key K, value V) error {
	i, ok := m.core.find(valueBytes(&key))
	if !ok {
		return fmt.Errorf("%w: map key", ErrNotFound)
	}
	copy(m.core.valueAt(i), valueBytes(&value))
	return nil
}

// GetOrInsert returns the value under key, inserting value first when the
// key is absent.
func (m *Map[K, V]) GetOrInsert(key K, value V) (V, error) {
	for {
		if v, err := m.Get(key); err == nil {
			return v, nil
		}
		err := m.Insert(key, value)
		if err == nil {
			return value, nil
		}
		if !IsAlreadyExists(err) {
			var zero V
			return zero, err
		}
		// Lost an insert race; the winner's value is now readable.
	}
}

// Delete removes key. Returns ErrNotFound when absent.
func (m *Map[K, V]) Delete(key K) error {
	if !m.core.erase(valueBytes(&key)) {
		return fmt.Errorf("%w: map key", ErrNotFound)
	}
	return nil
}

// ForEach calls fn for every occupied slot until fn returns false.
// Iteration is only meaningful at a quiescent point; entries inserted or
// erased concurrently may or may not be visited.
func (m *Map[K, V]) ForEach(fn func(key K, value V) bool) {
	for i := range m.core.hdr.bucketCount {
		if m.core.state(i).Load() != slotOccupied {
			continue
		}
		var k K
		var v V
		copy(valueBytes(&k), m.core.keyAt(i))
		copy(valueBytes(&v), m.core.valueAt(i))
		if !fn(k, v) {
			return
		}
	}
}

// Len returns the occupied-slot count at one instant.
func (m *Map[K, V]) Len() int {
	return m.core.len()
}

// Cap returns the maximum element count permitted by the load bound.
func (m *Map[K, V]) Cap() int {
	return int(m.core.maxLoad())
}

// Buckets returns the bucket count.
func (m *Map[K, V]) Buckets() int {
	return int(m.core.hdr.bucketCount)
}
