// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
)

// Segment is a typed view over a mapped shared-memory range. It resolves
// structure names through the directory table at the head of the range and
// hands out bump allocations from the bytes behind it.
//
// A Segment is a transient per-process handle: dropping it never affects
// the shared state. The segment itself lives until the host unlinks the
// underlying memory object.
type Segment struct {
	_ noCopy

	mem        []byte
	hdr        *tableHeader
	entries    []tableEntry
	maxEntries uint32
	log        *zap.Logger
}

// Entry describes one active directory row.
type Entry struct {
	Name     string
	Offset   uint64
	Size     uint64
	ElemSize uint64
	NumElem  uint64
}

type config struct {
	maxEntries uint32
	log        *zap.Logger
}

// Option configures a Segment handle.
type Option func(*config)

// WithMaxEntries sets the directory capacity. The value is baked into the
// segment layout at creation time; every attacher must configure the same
// value, exactly as every attacher must share the creator's data model.
func WithMaxEntries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxEntries = uint32(n)
		}
	}
}

// WithLogger routes segment control-plane events (creation, attach,
// allocation, validation failures) through the given logger. Data-plane
// structure operations never log.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

func newConfig(opts []Option) config {
	c := config{maxEntries: DefaultMaxEntries, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewSegment initializes a directory table at the head of mem and returns
// the owning handle. The previous contents of mem are discarded.
//
// Creation is single-writer: the owner must initialize the segment before
// any other process attaches.
func NewSegment(mem []byte, opts ...Option) (*Segment, error) {
	c := newConfig(opts)

	tblSize := tableSize(c.maxEntries)
	first := alignUp(tblSize, CacheLineSize)
	if uint64(len(mem)) < first {
		return nil, fmt.Errorf("%w: %d bytes cannot hold a %d-entry table",
			ErrSegmentTooSmall, len(mem), c.maxEntries)
	}

	clear(mem[:tblSize])
	s := attach(mem, c)
	s.hdr.magic = TableMagic
	s.hdr.version = TableVersion
	s.hdr.memorySize = uint64(len(mem))
	s.hdr.nextOffset.Store(first)

	s.log.Info("segment created",
		zap.Uint64("size", s.hdr.memorySize),
		zap.Uint32("max_entries", c.maxEntries))
	return s, nil
}

// OpenSegment attaches to a segment previously initialized by NewSegment
// (in this process or any other). The magic and version are validated;
// a mismatch is fatal for the attach and leaves mem untouched.
func OpenSegment(mem []byte, opts ...Option) (*Segment, error) {
	c := newConfig(opts)

	if uint64(len(mem)) < tableSize(c.maxEntries) {
		return nil, fmt.Errorf("%w: %d bytes cannot hold a %d-entry table",
			ErrSegmentTooSmall, len(mem), c.maxEntries)
	}

	s := attach(mem, c)
	if s.hdr.magic != TableMagic {
		s.log.Error("attach rejected", zap.Uint32("magic", s.hdr.magic))
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadMagic, s.hdr.magic)
	}
	if s.hdr.version != TableVersion {
		s.log.Error("attach rejected", zap.Uint32("version", s.hdr.version))
		return nil, fmt.Errorf("%w: version %d, want %d",
			ErrVersionMismatch, s.hdr.version, TableVersion)
	}
	if s.hdr.memorySize > uint64(len(mem)) {
		return nil, fmt.Errorf("%w: table records %d bytes, mapping is %d",
			ErrSegmentTooSmall, s.hdr.memorySize, len(mem))
	}
	if s.hdr.entryCount.Load() > c.maxEntries {
		return nil, fmt.Errorf("%w: %d entries exceed configured capacity %d",
			ErrSizeMismatch, s.hdr.entryCount.Load(), c.maxEntries)
	}
	if next := s.hdr.nextOffset.Load(); next < tableSize(c.maxEntries) || next > s.hdr.memorySize {
		return nil, fmt.Errorf("%w: bump pointer %d outside payload range",
			ErrSizeMismatch, next)
	}

	s.log.Info("segment attached",
		zap.Uint64("size", s.hdr.memorySize),
		zap.Uint32("entries", s.hdr.entryCount.Load()))
	return s, nil
}

func attach(mem []byte, c config) *Segment {
	return &Segment{
		mem:        mem,
		hdr:        viewAt[tableHeader](mem, 0),
		entries:    sliceAt[tableEntry](mem, tableHeaderSize, int(c.maxEntries)),
		maxEntries: c.maxEntries,
		log:        c.log,
	}
}

// Size returns the total segment size recorded at creation.
func (s *Segment) Size() uint64 {
	return s.hdr.memorySize
}

// Free returns the bytes remaining for allocation.
func (s *Segment) Free() uint64 {
	next := alignUp(s.hdr.nextOffset.Load(), CacheLineSize)
	if next > s.hdr.memorySize {
		return 0
	}
	return s.hdr.memorySize - next
}

// Allocate reserves size bytes at the bump pointer, registers them in the
// directory under name, and returns the payload's byte offset. elemSize
// and numElem are recorded as metadata for element-structured payloads;
// pass 0 for raw allocations.
//
// Fails with ErrAlreadyExists when the name is taken, ErrTableFull when
// the directory has no free row, and ErrSegmentTooSmall when the payload
// would exceed the segment. Erasing a name reclaims neither its row nor
// its payload bytes.
func (s *Segment) Allocate(name string, size uint64, elemSize, numElem uint64) (uint64, error) {
	if len(name) == 0 || size == 0 {
		return 0, fmt.Errorf("%w: empty name or zero size", ErrInvalidArgument)
	}
	if len(name) > MaxNameSize {
		return 0, fmt.Errorf("%w: %q is %d bytes, limit %d",
			ErrNameTooLong, name, len(name), MaxNameSize)
	}

	s.lockTable()
	defer s.unlockTable()

	if s.findRow(name) != nil {
		return 0, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	row := s.hdr.entryCount.Load()
	if row >= s.maxEntries {
		return 0, fmt.Errorf("%w: all %d entries used", ErrTableFull, s.maxEntries)
	}

	offset := alignUp(s.hdr.nextOffset.Load(), CacheLineSize)
	end := offset + size
	if end < offset || end > s.hdr.memorySize {
		return 0, fmt.Errorf("%w: %d bytes for %q exceed segment of %d",
			ErrSegmentTooSmall, size, name, s.hdr.memorySize)
	}

	e := &s.entries[row]
	copy(e.name[:], name)
	e.size = size
	e.elemSize = elemSize
	e.numElem = numElem
	// Publishing order matters for lock-free readers: payload metadata
	// first, then the offset that marks the row live, then the count
	// that extends the scan range.
	e.offset.Store(offset)
	s.hdr.entryCount.Add(1)
	s.hdr.nextOffset.Store(end)

	s.log.Debug("allocated",
		zap.String("name", name),
		zap.Uint64("offset", offset),
		zap.Uint64("size", size))
	return offset, nil
}

// Find scans the directory for name and returns its entry.
// The scan is safe against a concurrent Allocate; it never observes a
// partially-published row.
func (s *Segment) Find(name string) (Entry, bool) {
	e := s.findRow(name)
	if e == nil {
		return Entry{}, false
	}
	offset := e.offset.Load()
	if offset == 0 {
		return Entry{}, false
	}
	return Entry{
		Name:     name,
		Offset:   offset,
		Size:     e.size,
		ElemSize: e.elemSize,
		NumElem:  e.numElem,
	}, true
}

// Erase marks the named entry inactive. The payload bytes and the
// directory row are not reclaimed; views already held by other processes
// keep working against the orphaned payload.
func (s *Segment) Erase(name string) error {
	s.lockTable()
	defer s.unlockTable()

	e := s.findRow(name)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	e.offset.Store(0)
	s.log.Debug("erased", zap.String("name", name))
	return nil
}

// Count returns the number of active entries.
func (s *Segment) Count() int {
	n := 0
	for i := range s.liveRows() {
		if s.entries[i].offset.Load() != 0 {
			n++
		}
	}
	return n
}

// Entries returns a snapshot of all active entries in creation order.
func (s *Segment) Entries() []Entry {
	var out []Entry
	for i := range s.liveRows() {
		e := &s.entries[i]
		offset := e.offset.Load()
		if offset == 0 {
			continue
		}
		out = append(out, Entry{
			Name:     entryName(e.name),
			Offset:   offset,
			Size:     e.size,
			ElemSize: e.elemSize,
			NumElem:  e.numElem,
		})
	}
	return out
}

// at returns a raw pointer to the size-byte window at offset, panicking
// when the window falls outside the segment. Offsets come from the
// directory, so an out-of-range window means a corrupted table.
func (s *Segment) at(offset, size uint64) unsafe.Pointer {
	end := offset + size
	if offset < tableHeaderSize || end < offset || end > s.hdr.memorySize {
		panic(fmt.Sprintf("zeroipc: offset window [%d,%d) outside segment of %d",
			offset, end, s.hdr.memorySize))
	}
	return unsafe.Pointer(unsafe.SliceData(s.mem[offset:]))
}

func entryName(name [MaxNameSize]byte) string {
	n := 0
	for n < MaxNameSize && name[n] != 0 {
		n++
	}
	return string(name[:n])
}
