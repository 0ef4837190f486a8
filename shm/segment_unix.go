//go:build linux || darwin || freebsd

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/aradilov/shmring"
)

// Create makes a new named segment holding a ring of the given capacity.
// It fails if the segment already exists.
func Create(name string, capacity int, opts Options) (*Segment, error) {
	path, err := opts.path(name)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 || !shmring.IsPowerOfTwo(uint64(capacity)) {
		return nil, fmt.Errorf("%w: capacity %d is not a power of two", shmring.ErrInvalidArgument, capacity)
	}
	size := shmring.Footprint(capacity)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := unix.Ftruncate(int(file.Fd()), int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: resize %s: %w", path, err)
	}

	mem, err := mapFile(file, size)
	if err != nil {
		cleanup()
		return nil, err
	}

	rb, err := shmring.Format(mem, capacity)
	if err != nil {
		unmap(mem)
		cleanup()
		return nil, err
	}

	return &Segment{path: path, file: file, mem: mem, rb: rb}, nil
}

// Open maps an existing named segment created by Create, possibly in another
// process.
func Open(name string, opts Options) (*Segment, error) {
	path, err := opts.path(name)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	size := info.Size()
	if size < int64(shmring.HeaderSize) {
		file.Close()
		return nil, fmt.Errorf("%w: segment %s too small: %d bytes", shmring.ErrInvalidArgument, path, size)
	}

	mem, err := mapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, err
	}

	rb, err := shmring.Attach(mem)
	if err != nil {
		unmap(mem)
		file.Close()
		return nil, fmt.Errorf("shm: attach %s: %w", path, err)
	}

	return &Segment{path: path, file: file, mem: mem, rb: rb}, nil
}

// Anonymous maps a shared anonymous segment holding a ring of the given
// capacity. It has no name; it is shared with children forked after the call.
func Anonymous(capacity int) (*Segment, error) {
	if capacity <= 0 || !shmring.IsPowerOfTwo(uint64(capacity)) {
		return nil, fmt.Errorf("%w: capacity %d is not a power of two", shmring.ErrInvalidArgument, capacity)
	}
	size := shmring.Footprint(capacity)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap anonymous: %w", err)
	}

	rb, err := shmring.Format(mem, capacity)
	if err != nil {
		unmap(mem)
		return nil, err
	}
	return &Segment{mem: mem, rb: rb}, nil
}

func mapFile(file *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", file.Name(), err)
	}
	return mem, nil
}

func unmap(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	return nil
}
