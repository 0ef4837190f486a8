// Package shm maps shmring rings into memory that other processes can map
// too. A segment is one block holding the ring header followed by its data.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aradilov/shmring"
)

// ErrNotSupported is returned on platforms without shared mappings.
var ErrNotSupported = errors.New("shm: shared memory segments not supported on this platform")

const filePrefix = "shmring_"

// Options configures where named segments live.
type Options struct {
	// Dir holds the backing files. Defaults to /dev/shm when it exists and to
	// os.TempDir() otherwise.
	Dir string
}

func (o Options) path(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return "", fmt.Errorf("%w: segment name %q", shmring.ErrInvalidArgument, name)
	}
	dir := o.Dir
	if dir == "" {
		dir = defaultDir()
	}
	return filepath.Join(dir, filePrefix+name), nil
}

func defaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Segment is a mapped block holding one ring.
type Segment struct {
	path string
	file *os.File
	mem  []byte
	rb   *shmring.RingBuffer
}

// RingBuffer returns the ring living in the segment. It stays valid until
// Close.
func (s *Segment) RingBuffer() *shmring.RingBuffer {
	return s.rb
}

// Path returns the backing file path, or "" for anonymous segments.
func (s *Segment) Path() string {
	return s.path
}

// Size returns the mapped size in bytes.
func (s *Segment) Size() int {
	return len(s.mem)
}

// Close unmaps the memory and closes the backing file. Producers and
// Consumers bound to the ring must be closed first.
func (s *Segment) Close() error {
	var firstErr error

	if s.mem != nil {
		if err := unmap(s.mem); err != nil {
			firstErr = err
		}
		s.mem = nil
		s.rb = nil
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}

	return firstErr
}

// Remove unlinks the backing file. Existing mappings stay usable; new Open
// calls fail.
func (s *Segment) Remove() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("shm: remove %s: %w", s.path, err)
	}
	return nil
}
