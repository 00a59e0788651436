// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package zeroipc provides lock-free concurrent data structures living inside
// a shared-memory segment, enabling zero-copy inter-process communication.
//
// Producer and consumer processes attach to the same mapped byte range,
// discover previously-created structures by name through a self-describing
// directory at the head of the segment, and operate on them without copying,
// marshalling, or kernel round-trips.
//
// # Structures
//
// The package offers one dense container and seven concurrent ones, plus
// three synchronization primitives:
//
//	Structure   Model       Use Case
//	─────────   ─────       ────────
//	Array       external    dense fixed-length vector
//	Queue       MPMC        bounded FIFO hand-off between processes
//	Stack       MPMC        bounded LIFO work sharing
//	Ring        SPSC        high-rate streaming with bulk transfer
//	Pool        MPMC        preallocated slab with index free list
//	Map         MPMC        open-addressed hash table
//	Set         MPMC        Map with zero-width values
//	Bitset      MPMC        N-bit flags with cached population count
//	Semaphore   MPMC        counting/binary cross-process semaphore
//	Latch       MPMC        one-shot countdown rendezvous
//	Barrier     MPMC        reusable phase barrier with generation counter
//
// # Segment Layout
//
// A segment begins with a directory table: a versioned header (magic "ZIPM",
// version 1) followed by fixed-width entries mapping names to byte offsets.
// Every structure starts with its own small header holding the atomics that
// drive its protocol, followed by raw element storage. All integers are
// little-endian and offsets are 64-bit; the layout is the entire wire ABI,
// so any binding that produces these bytes interoperates.
//
// Allocation is bump-pointer only: offsets grow monotonically and erased
// names never return their payload bytes. Structures are destroyed only when
// the whole segment is unlinked.
//
// # Quick Start
//
//	mem, _ := shm.Create("/sensors", 10<<20)
//	seg, _ := zeroipc.NewSegment(mem.Bytes())
//	q, _ := zeroipc.NewQueue[int32](seg, "readings", 1024)
//	_ = q.Push(42)
//
// Another process:
//
//	mem, _ := shm.Open("/sensors")
//	seg, _ := zeroipc.OpenSegment(mem.Bytes())
//	q, _ := zeroipc.OpenQueue[int32](seg, "readings")
//	v, err := q.Pop()
//
// # Element Types
//
// Stored element types must be fixed-size and safe to copy bytewise: no
// pointers, slices, maps, strings, channels, interfaces or functions,
// directly or transitively. Constructors reject offending types at
// creation time. The segment is only portable between processes with an
// identical data model (same endianness and word size).
//
// # Waiting Discipline
//
// No operation blocks on a kernel primitive. Contended CAS loops spin with
// CPU pause instructions; the blocking wait operations of Semaphore, Latch
// and Barrier use bounded exponential backoff, sleeping from 1 microsecond
// up to 1 millisecond per iteration. Timed variants accept a timeout and
// return ErrTimeout.
//
// # Error Handling
//
// Full and empty conditions are semantic control-flow signals reported as
// iox.ErrWouldBlock; use IsWouldBlock for classification. Setup failures
// (unknown magic, version or element-size mismatch, exhausted directory)
// are package sentinel errors. Misuse of transient handles panics.
//
// # Thread Safety
//
// Concurrent structure operations are safe within each structure's
// producer/consumer model. Structure creation mutates the directory table
// and must be serialized by the caller across processes; racing creators
// lose with ErrAlreadyExists and may simply open the winner's structure.
//
// # Dependencies
//
// zeroipc depends on:
//   - iox: semantic error types (ErrWouldBlock)
//   - spin: spin-wait primitives for CAS retry loops
//   - xxhash: the Map/Set bucket hash (part of the wire ABI)
//   - zap: structured logging on the segment control plane
package zeroipc
