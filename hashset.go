// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import "fmt"

// Set is an open-addressed hash set of K: the Map slot protocol with a
// zero-width value. It shares the map's wire layout, concurrency model
// and duplicate-insert caveat.
type Set[K any] struct {
	core *hmap
}

// NewSet creates a set sized for capacity elements under name.
func NewSet[K any](s *Segment, name string, capacity int) (*Set[K], error) {
	ksize, err := elemSize[K]()
	if err != nil {
		return nil, err
	}
	core, err := newHmap(s, name, capacity, ksize, 0)
	if err != nil {
		return nil, err
	}
	return &Set[K]{core: core}, nil
}

// OpenSet attaches to an existing set, validating the key size recorded
// at creation.
func OpenSet[K any](s *Segment, name string) (*Set[K], error) {
	ksize, err := elemSize[K]()
	if err != nil {
		return nil, err
	}
	core, err := openHmap(s, name, ksize, 0)
	if err != nil {
		return nil, err
	}
	return &Set[K]{core: core}, nil
}

// Insert adds key. Fails with ErrAlreadyExists when present and
// iox.ErrWouldBlock when the table is at its load bound.
func (st *Set[K]) Insert(key K) error {
	return st.core.insert(valueBytes(&key), nil)
}

// Contains reports whether key is present.
func (st *Set[K]) Contains(key K) bool {
	_, ok := st.core.find(valueBytes(&key))
	return ok
}

// Delete removes key. Returns ErrNotFound when absent.
func (st *Set[K]) Delete(key K) error {
	if !st.core.erase(valueBytes(&key)) {
		return fmt.Errorf("%w: set key", ErrNotFound)
	}
	return nil
}

// ForEach calls fn for every member until fn returns false. Meaningful
// at a quiescent point only.
func (st *Set[K]) ForEach(fn func(key K) bool) {
	for i := range st.core.hdr.bucketCount {
		if st.core.state(i).Load() != slotOccupied {
			continue
		}
		var k K
		copy(valueBytes(&k), st.core.keyAt(i))
		if !fn(k) {
			return
		}
	}
}

// Len returns the member count at one instant.
func (st *Set[K]) Len() int {
	return st.core.len()
}

// Cap returns the maximum member count permitted by the load bound.
func (st *Set[K]) Cap() int {
	return int(st.core.maxLoad())
}
