// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"errors"

	"code.hybscloud.com/iox"
)

// Setup and validation errors. These are fatal for the failing call only;
// the segment is never modified by a rejected operation.
var (
	// ErrBadMagic indicates the mapped region does not start with the
	// "ZIPM" table magic. The memory is not a zeroipc segment, or was
	// written with an incompatible (legacy 32-bit offset) layout.
	ErrBadMagic = errors.New("zeroipc: bad table magic")

	// ErrVersionMismatch indicates the table was written by an
	// incompatible format version.
	ErrVersionMismatch = errors.New("zeroipc: table version mismatch")

	// ErrSegmentTooSmall indicates the mapped region cannot hold the
	// directory table, or an allocation would exceed the segment size.
	ErrSegmentTooSmall = errors.New("zeroipc: segment too small")

	// ErrTableFull indicates the directory has no free entry left.
	// Erased entries are not reused.
	ErrTableFull = errors.New("zeroipc: directory table full")

	// ErrNameTooLong indicates a structure name exceeds MaxNameSize bytes.
	ErrNameTooLong = errors.New("zeroipc: name too long")

	// ErrNotFound indicates no active directory entry carries the name.
	ErrNotFound = errors.New("zeroipc: name not found")

	// ErrAlreadyExists indicates an active directory entry already
	// carries the name. When creators race, the loser observes this;
	// the winner's structure is authoritative and can be opened.
	ErrAlreadyExists = errors.New("zeroipc: name already exists")

	// ErrSizeMismatch indicates a structure was opened with a type or
	// capacity that disagrees with the metadata recorded at creation.
	ErrSizeMismatch = errors.New("zeroipc: element size mismatch")

	// ErrInvalidArgument indicates an argument outside the operation's
	// domain: zero capacity, out-of-range index, foreign pool handle.
	ErrInvalidArgument = errors.New("zeroipc: invalid argument")

	// ErrTimeout is returned by the timed wait variants when the
	// deadline passes before the condition holds.
	ErrTimeout = errors.New("zeroipc: wait timed out")

	// ErrOverflow is returned by Semaphore.Release when the release
	// would push the count past the configured maximum.
	ErrOverflow = errors.New("zeroipc: semaphore count overflow")
)

// IsWouldBlock reports whether err is the full/empty control-flow signal.
// Queue, Stack, Ring, Pool and Map report exhausted capacity and empty
// polls as iox.ErrWouldBlock; neither is a failure, the caller retries,
// backs off, or moves on.
func IsWouldBlock(err error) bool {
	return errors.Is(err, iox.ErrWouldBlock)
}

// IsAlreadyExists reports whether err is a duplicate-name or
// duplicate-key condition.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsNotFound reports whether err is a missing-name or missing-key
// condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout reports whether err is a deadline expiry from a timed wait.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNonFailure reports whether err is nil or a semantic control-flow
// signal (would-block or timeout) rather than a real failure.
func IsNonFailure(err error) bool {
	return err == nil || IsWouldBlock(err) || IsTimeout(err)
}
