// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package zeroipc

import (
	"fmt"
	"reflect"
	"unsafe"
)

// viewAt returns a typed pointer into mem at the given byte offset.
// The caller must have bounds-checked offset against len(mem).
func viewAt[T any](mem []byte, offset uint64) *T {
	base := unsafe.Pointer(unsafe.SliceData(mem))
	return (*T)(unsafe.Add(base, uintptr(offset)))
}

// sliceAt returns a slice of n T views of mem starting at offset.
// The returned slice references the segment memory; modifications are
// visible to every attached process.
func sliceAt[T any](mem []byte, offset uint64, n int) []T {
	base := unsafe.Pointer(unsafe.SliceData(mem))
	return unsafe.Slice((*T)(unsafe.Add(base, uintptr(offset))), n)
}

// bytesAt returns a byte window [offset, offset+n) of mem.
func bytesAt(mem []byte, offset, n uint64) []byte {
	return mem[offset : offset+n : offset+n]
}

// valueBytes exposes the raw bytes of v without copying. Used for
// bytewise key comparison and hashing; v must be copy-safe per elemSize.
func valueBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// elemSize validates T as a shared-memory element type and returns its
// byte size. A valid element is fully captured by its bytes: booleans,
// integers, floats, complex numbers, and arrays/structs thereof. Types
// carrying pointers, slices, maps, strings, channels, interfaces or
// functions cannot cross a process boundary and are rejected.
func elemSize[T any]() (uint64, error) {
	t := reflect.TypeFor[T]()
	if err := checkCopySafe(t); err != nil {
		return 0, err
	}
	if t.Size() == 0 {
		return 0, fmt.Errorf("%w: zero-size element type %v", ErrInvalidArgument, t)
	}
	return uint64(t.Size()), nil
}

func checkCopySafe(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkCopySafe(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if err := checkCopySafe(t.Field(i).Type); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: element type %v is not byte-copy-safe", ErrInvalidArgument, t)
	}
}
