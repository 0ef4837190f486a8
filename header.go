package shmring

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	headerMagic   = 0x52494e47 // "RING"
	headerVersion = 1
)

// HeaderSize is the size of Header in bytes. When a header and its data live
// in one block, the data region starts at this offset.
const HeaderSize = int(unsafe.Sizeof(Header{}))

// Header is the control block shared by the producer and the consumer.
// It has a fixed layout and can be placed directly inside a shared mapping.
//
// head counts bytes ever committed by the producer, tail counts bytes ever
// consumed. Only the producer advances head and only the consumer advances
// tail, so 0 <= head-tail <= capacity holds from either side's point of view.
//
// All counter accesses go through sync/atomic, whose operations are
// sequentially consistent: a store by IncHead happens before any ReadHead
// that observes it, together with every data write that preceded it.
type Header struct {
	magic      uint32
	version    uint32
	capacity   uint64
	mask       uint64
	_          cpu.CacheLinePad
	head       atomic.Uint64 // producer owned
	_          cpu.CacheLinePad
	tail       atomic.Uint64 // consumer owned
	_          cpu.CacheLinePad
	writerBusy atomic.Uint32
	_          cpu.CacheLinePad
	readerBusy atomic.Uint32
	_          cpu.CacheLinePad
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && n&(n-1) == 0
}

func (h *Header) init(capacity uint64) {
	h.capacity = capacity
	h.mask = capacity - 1
	h.head.Store(0)
	h.tail.Store(0)
	h.writerBusy.Store(0)
	h.readerBusy.Store(0)
	h.version = headerVersion
	// magic goes last: an attacher that sees it sees a complete header.
	atomic.StoreUint32(&h.magic, headerMagic)
}

func headerAt(mem []byte) (*Header, error) {
	if len(mem) < HeaderSize {
		return nil, fmt.Errorf("%w: block of %d bytes is smaller than header (%d)", ErrInvalidArgument, len(mem), HeaderSize)
	}
	p := unsafe.Pointer(&mem[0])
	if uintptr(p)%8 != 0 {
		return nil, fmt.Errorf("%w: block is not 8-byte aligned", ErrInvalidArgument)
	}
	return (*Header)(p), nil
}

// InitHeader formats a header for a data region of the given capacity at the
// start of mem, which must also have room for the data region. Only the side
// that creates the block calls it, and only before the other side attaches.
func InitHeader(mem []byte, capacity uint64) (*Header, error) {
	if !IsPowerOfTwo(capacity) {
		return nil, fmt.Errorf("%w: capacity %d is not a power of two", ErrInvalidArgument, capacity)
	}
	h, err := headerAt(mem)
	if err != nil {
		return nil, err
	}
	if capacity > uint64(len(mem)-HeaderSize) {
		return nil, fmt.Errorf("%w: block of %d bytes can't hold a ring of %d", ErrInvalidArgument, len(mem), capacity)
	}
	h.init(capacity)
	return h, nil
}

// AttachHeader returns the header formatted at the start of mem by InitHeader.
// mem must also cover the data region that follows the header.
func AttachHeader(mem []byte) (*Header, error) {
	h, err := headerAt(mem)
	if err != nil {
		return nil, err
	}
	if m := atomic.LoadUint32(&h.magic); m != headerMagic {
		return nil, fmt.Errorf("%w: bad header magic %#x", ErrInvalidArgument, m)
	}
	if h.version != headerVersion {
		return nil, fmt.Errorf("%w: unsupported header version %d", ErrInvalidArgument, h.version)
	}
	if !IsPowerOfTwo(h.capacity) || h.mask != h.capacity-1 {
		return nil, fmt.Errorf("%w: corrupt capacity %d (mask %#x)", ErrInvalidArgument, h.capacity, h.mask)
	}
	// Compared as uint64: a hostile capacity must not turn negative as an int.
	if h.capacity > uint64(len(mem)-HeaderSize) {
		return nil, fmt.Errorf("%w: block of %d bytes is truncated, ring of %d needs %d", ErrInvalidArgument, len(mem), h.capacity, uint64(HeaderSize)+h.capacity)
	}
	if used := h.head.Load() - h.tail.Load(); used > h.capacity {
		return nil, fmt.Errorf("%w: head-tail=%d exceeds capacity %d", ErrInvalidArgument, used, h.capacity)
	}
	return h, nil
}

// Capacity returns the size of the data region in bytes.
func (h *Header) Capacity() uint64 {
	return h.capacity
}

// Mask returns Capacity()-1.
func (h *Header) Mask() uint64 {
	return h.mask
}

// BeginWriteTx marks a write transaction as open. It returns true if one
// already was, which means a second producer is attached.
func (h *Header) BeginWriteTx() (failed bool) {
	return !h.writerBusy.CompareAndSwap(0, 1)
}

// EndWriteTx clears the writer guard.
func (h *Header) EndWriteTx() {
	h.writerBusy.Store(0)
}

// BeginReadTx marks a read transaction as open. It returns true if one
// already was.
func (h *Header) BeginReadTx() (failed bool) {
	return !h.readerBusy.CompareAndSwap(0, 1)
}

// EndReadTx clears the reader guard.
func (h *Header) EndReadTx() {
	h.readerBusy.Store(0)
}

// ReadHead loads the producer counter.
func (h *Header) ReadHead() uint64 {
	return h.head.Load()
}

// ReadTail loads the consumer counter.
func (h *Header) ReadTail() uint64 {
	return h.tail.Load()
}

// IncHead publishes n more bytes to the consumer.
func (h *Header) IncHead(n uint64) {
	h.head.Add(n)
}

// IncTail hands n consumed bytes back to the producer.
func (h *Header) IncTail(n uint64) {
	h.tail.Add(n)
}
