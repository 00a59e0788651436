// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shm hosts POSIX shared-memory objects for zeroipc segments.
//
// The core package consumes a mapped byte range and nothing else; this
// package produces one. Objects live under /dev/shm and follow the POSIX
// naming convention of a single leading slash ("/sensors"). An object is
// created once, mapped by any number of processes, and destroyed by
// Unlink after the last mapping closes.
package shm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// shmDir is where Linux exposes POSIX shared-memory objects.
const shmDir = "/dev/shm"

// DefaultMode holds the conventional 0666 permission bits for newly
// created objects, subject to the process umask.
const DefaultMode os.FileMode = 0o666

// Object is one process's mapping of a POSIX shared-memory object.
// Closing it unmaps the bytes; the object itself lives until Unlink.
type Object struct {
	name string
	data []byte
}

// Create creates a shared-memory object of the given byte size and maps
// it. The name must be POSIX form: "/name", no further slashes. Fails
// with os.ErrExist semantics when the object already exists.
func Create(name string, size int) (*Object, error) {
	path, err := objectPath(name)
	if err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("shm: invalid size %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, DefaultMode)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}
	defer f.Close()

	if err := unix.Ftruncate(int(f.Fd()), int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("shm: size %s to %d: %w", name, size, err)
	}
	return mapObject(f, name, size)
}

// Open maps an existing shared-memory object at its current size.
func Open(name string) (*Object, error) {
	path, err := objectPath(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat %s: %w", name, err)
	}
	return mapObject(f, name, int(fi.Size()))
}

// OpenOrCreate opens the named object, creating it with size bytes when
// it does not exist yet. Racing creators all end up mapping the same
// object.
func OpenOrCreate(name string, size int) (*Object, error) {
	for {
		o, err := Open(name)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		o, err = Create(name, size)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		// Lost the creation race; the winner's object is openable.
	}
}

func mapObject(f *os.File, name string, size int) (*Object, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Object{name: name, data: data}, nil
}

// Unlink removes the named object. Existing mappings keep working; the
// kernel frees the pages when the last one closes.
func Unlink(name string) error {
	path, err := objectPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("shm: unlink %s: %w", name, err)
	}
	return nil
}

// Bytes returns the mapped range. The slice is shared memory: writes are
// visible to every process mapping the object.
func (o *Object) Bytes() []byte {
	return o.data
}

// Name returns the POSIX object name.
func (o *Object) Name() string {
	return o.name
}

// Size returns the mapped byte count.
func (o *Object) Size() int {
	return len(o.data)
}

// Close unmaps the object from this process. The shared bytes persist
// until every mapping is closed and the name is unlinked.
func (o *Object) Close() error {
	if o.data == nil {
		return nil
	}
	data := o.data
	o.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("shm: munmap %s: %w", o.name, err)
	}
	return nil
}

func objectPath(name string) (string, error) {
	if len(name) < 2 || name[0] != '/' || strings.Contains(name[1:], "/") {
		return "", fmt.Errorf("shm: invalid object name %q", name)
	}
	return shmDir + "/" + name[1:], nil
}
