// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import "code.hybscloud.com/spin"

// Directory mutation is serialized by a CAS lock on the header's reserved
// word, held only across Allocate and Erase. The steady-state read path
// (Find, Count, Entries) is lock-free: rows publish through their offset
// word and the scan range extends through entry_count, so a reader racing
// an Allocate sees either the complete new row or no row at all.
//
// The lock protects table rows, not payloads. Directory writes are still
// expected to happen at setup time; two processes allocating concurrently
// are correct but contend on the one word.

func (s *Segment) lockTable() {
	sw := spin.Wait{}
	for !s.hdr.writeLock.CompareAndSwap(0, 1) {
		sw.Once()
	}
}

func (s *Segment) unlockTable() {
	s.hdr.writeLock.Store(0)
}

// liveRows bounds a row scan to the published entry count.
func (s *Segment) liveRows() int {
	n := s.hdr.entryCount.Load()
	if n > s.maxEntries {
		n = s.maxEntries
	}
	return int(n)
}

// findRow returns the active row named name, or nil. Erased rows keep
// their name bytes but read offset 0 and are skipped.
func (s *Segment) findRow(name string) *tableEntry {
	for i := range s.liveRows() {
		e := &s.entries[i]
		if e.offset.Load() == 0 {
			continue
		}
		if matchName(e.name, name) {
			return e
		}
	}
	return nil
}

func matchName(row [MaxNameSize]byte, name string) bool {
	if len(name) > MaxNameSize {
		return false
	}
	for i := range len(name) {
		if row[i] != name[i] {
			return false
		}
	}
	return len(name) == MaxNameSize || row[len(name)] == 0
}
