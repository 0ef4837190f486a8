// Package shmring implements a fixed-capacity single-producer/single-consumer
// byte ring with transactional, all-or-nothing writes and reads.
//
// The header and the data region may live in memory shared between processes.
// Producer and Consumer never lock; each side polls the other side's counter
// and publishes its own progress with a single atomic add on commit.
package shmring

import "fmt"

// RingBuffer binds a Header to its data region. It owns nothing on the data
// path; Producer and Consumer take their views from it.
type RingBuffer struct {
	header *Header
	data   []byte
}

// Footprint returns the size of a block that holds a header and a data region
// of the given capacity, as expected by Format and Attach.
func Footprint(capacity int) int {
	return HeaderSize + capacity
}

// New allocates a ring with its header and data on the Go heap, for use
// between goroutines of one process.
// capacity must be a power of two (1<<k).
func New(capacity int) (*RingBuffer, error) {
	if capacity <= 0 || !IsPowerOfTwo(uint64(capacity)) {
		return nil, fmt.Errorf("%w: capacity %d is not a power of two", ErrInvalidArgument, capacity)
	}
	h := new(Header)
	h.init(uint64(capacity))
	return &RingBuffer{header: h, data: make([]byte, capacity)}, nil
}

// Format initialises a ring inside mem: header first, data right after it.
// mem must be at least Footprint(capacity) bytes and 8-byte aligned.
func Format(mem []byte, capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidArgument, capacity)
	}
	if len(mem) < Footprint(capacity) {
		return nil, fmt.Errorf("%w: block of %d bytes can't hold a ring of %d", ErrInvalidArgument, len(mem), capacity)
	}
	h, err := InitHeader(mem, uint64(capacity))
	if err != nil {
		return nil, err
	}
	return &RingBuffer{header: h, data: mem[HeaderSize : HeaderSize+capacity : HeaderSize+capacity]}, nil
}

// Attach returns a view of a ring previously formatted in mem, possibly by
// another process mapping the same memory.
func Attach(mem []byte) (*RingBuffer, error) {
	h, err := AttachHeader(mem)
	if err != nil {
		return nil, err
	}
	// AttachHeader checked that the data region fits in mem.
	capacity := int(h.Capacity())
	return &RingBuffer{header: h, data: mem[HeaderSize : HeaderSize+capacity : HeaderSize+capacity]}, nil
}

// Header returns the shared control block.
func (rb *RingBuffer) Header() *Header {
	return rb.header
}

// Data returns the data region.
func (rb *RingBuffer) Data() []byte {
	return rb.data
}

// Capacity returns the data region size in bytes.
func (rb *RingBuffer) Capacity() int {
	return len(rb.data)
}

func (rb *RingBuffer) valid() bool {
	return rb != nil && rb.header != nil && len(rb.data) > 0 &&
		uint64(len(rb.data)) == rb.header.Capacity()
}
