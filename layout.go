// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Directory table wire format, version 1.
//
// The table sits at offset 0 of every segment: a 32-byte header followed by
// maxEntries fixed 64-byte entries. All integers are little-endian, offsets
// are 64-bit and absolute from the segment base. Strings are null-padded,
// not null-terminated. This layout is the entire cross-language ABI.
const (
	// TableMagic is the required first word of a segment: ASCII "ZIPM".
	// Segments written with the legacy 32-bit-offset header carry a
	// different layout behind the same magic bytes and are rejected by
	// the version check.
	TableMagic = 0x5A49504D

	// TableVersion is the format version this package reads and writes.
	TableVersion = 1

	// MaxNameSize is the fixed width of a directory entry name.
	MaxNameSize = 32

	// DefaultMaxEntries is the directory capacity used when the caller
	// does not configure one. Creator and attachers must agree on the
	// value, the same way they must agree on endianness and word size.
	DefaultMaxEntries = 64

	tableHeaderSize = 32
	tableEntrySize  = 64
)

// tableHeader overlays the 32 bytes at the segment base.
//
//	magic       u32   "ZIPM"
//	version     u32   1
//	entry_count u32   rows ever added (erased rows are not reused)
//	reserved    u32   zero at rest; doubles as the table write lock
//	memory_size u64   total segment size in bytes
//	next_offset u64   bump pointer, first free byte
type tableHeader struct {
	magic      uint32
	version    uint32
	entryCount atomic.Uint32
	writeLock  atomic.Uint32
	memorySize uint64
	nextOffset atomic.Uint64
}

// tableEntry overlays one 64-byte directory row.
//
//	name      [32]byte  null-padded
//	offset    u64       payload offset; 0 is the inactive sentinel
//	size      u64       payload size in bytes
//	elem_size u64       element size, 0 when not element-structured
//	num_elem  u64       element count, 0 when not element-structured
//
// Liveness is signalled through the offset word: payloads can never start
// at offset 0 (the table lives there), so 0 marks a row that was never
// used or has been erased. The offset store is the publishing write; a
// reader that observes it non-zero also observes every other field of the
// row.
type tableEntry struct {
	name     [MaxNameSize]byte
	offset   atomic.Uint64
	size     uint64
	elemSize uint64
	numElem  uint64
}

func init() {
	if unsafe.Sizeof(tableHeader{}) != tableHeaderSize {
		panic(fmt.Sprintf("tableHeader size is %d, expected %d",
			unsafe.Sizeof(tableHeader{}), tableHeaderSize))
	}
	if unsafe.Sizeof(tableEntry{}) != tableEntrySize {
		panic(fmt.Sprintf("tableEntry size is %d, expected %d",
			unsafe.Sizeof(tableEntry{}), tableEntrySize))
	}
}

// tableSize returns the byte size of a directory with the given capacity.
func tableSize(maxEntries uint32) uint64 {
	return tableHeaderSize + uint64(maxEntries)*tableEntrySize
}

// alignUp rounds x up to the next multiple of align (a power of two).
func alignUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}
