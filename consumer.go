package shmring

import (
	"sync/atomic"
)

// Consumer reads from a RingBuffer. It mirrors Producer: exactly one Consumer
// per ring, used from one goroutine, with reads grouped into transactions.
// Committing frees the bytes read for the producer; cancelling leaves them to
// be read again.
//
// Like a Producer, a Consumer dropped mid-transaction keeps the reader guard
// held for good.
type Consumer struct {
	header *Header
	data   []byte

	tx     *txState // bytes read in the open transaction, not yet released
	epoch  uint64
	closed bool

	commits       uint64
	cancels       uint64
	bytesConsumed uint64
	outOfData     uint64
	contended     uint64
}

// ConsumerStats is a snapshot of a Consumer's counters.
type ConsumerStats struct {
	Commits       uint64
	Cancels       uint64
	BytesConsumed uint64
	OutOfData     uint64
	Contended     uint64
}

// NewConsumer binds a Consumer to rb for the Consumer's whole lifetime.
func NewConsumer(rb *RingBuffer) *Consumer {
	if !rb.valid() {
		panic("shmring: consumer needs a ring with a data region")
	}
	c := &Consumer{header: rb.header, data: rb.data, tx: &txState{}}
	watchTx(c, "Consumer", c.tx)
	return c
}

// Size returns the ring capacity in bytes.
func (c *Consumer) Size() int {
	return len(c.data)
}

// InTx reports whether a transaction is open.
func (c *Consumer) InTx() bool {
	return c.tx.open
}

// Available returns how many bytes could be read right now, taking the open
// transaction into account.
func (c *Consumer) Available() int {
	return int(c.header.ReadHead() - c.header.ReadTail() - c.tx.size)
}

// Stats retrieves the current counters. Safe to call from any goroutine.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Commits:       atomic.LoadUint64(&c.commits),
		Cancels:       atomic.LoadUint64(&c.cancels),
		BytesConsumed: atomic.LoadUint64(&c.bytesConsumed),
		OutOfData:     atomic.LoadUint64(&c.outOfData),
		Contended:     atomic.LoadUint64(&c.contended),
	}
}

// StartTx opens a read transaction.
// It returns ErrBusy if this Consumer already has one open and ErrWouldBlock
// if the ring's reader guard is held by another reader.
func (c *Consumer) StartTx() error {
	if c.closed {
		return ErrClosed
	}
	if c.tx.open {
		return ErrBusy
	}
	if c.header.BeginReadTx() {
		atomic.AddUint64(&c.contended, 1)
		return ErrWouldBlock
	}
	if c.tx.size != 0 {
		misuse("Consumer.StartTx", "%d pending bytes outside a transaction", c.tx.size)
	}
	c.tx.open = true
	return nil
}

// CommitTx releases every byte read in the open transaction back to the
// producer.
func (c *Consumer) CommitTx() error {
	if c.closed {
		return ErrClosed
	}
	if !c.tx.open {
		return ErrNoTransaction
	}
	c.header.IncTail(c.tx.size)
	atomic.AddUint64(&c.commits, 1)
	atomic.AddUint64(&c.bytesConsumed, c.tx.size)
	c.endTx()
	return nil
}

// CancelTx rewinds the open transaction; its bytes stay readable.
func (c *Consumer) CancelTx() error {
	if c.closed {
		return ErrClosed
	}
	if !c.tx.open {
		return ErrNoTransaction
	}
	atomic.AddUint64(&c.cancels, 1)
	c.endTx()
	return nil
}

func (c *Consumer) endTx() {
	c.tx.size = 0
	c.tx.open = false
	c.epoch++
	c.header.EndReadTx()
}

// AccessContiguousInTx returns a view of exactly size unread bytes without
// copying them, or ErrOutOfSpace, leaving the transaction unchanged, if fewer
// are available. The view is read-only: its parts must not be written.
func (c *Consumer) AccessContiguousInTx(size int) (Segments, error) {
	return c.accessContiguous("Consumer.AccessContiguousInTx", size, false)
}

// AccessContiguousPartialInTx is like AccessContiguousInTx but returns as
// many of the size bytes as are available, possibly none.
func (c *Consumer) AccessContiguousPartialInTx(size int) (Segments, error) {
	return c.accessContiguous("Consumer.AccessContiguousPartialInTx", size, true)
}

func (c *Consumer) accessContiguous(op string, size int, allowPartial bool) (Segments, error) {
	if c.closed {
		return Segments{}, ErrClosed
	}
	if !c.tx.open {
		return Segments{}, ErrNoTransaction
	}
	if size < 0 {
		return Segments{}, ErrInvalidArgument
	}

	seg := Segments{epoch: c.epoch, owner: &c.epoch}
	if size == 0 {
		return seg, nil
	}

	// tail is ours, so it is always current; head may only have grown.
	tail := c.header.ReadTail()
	head := c.header.ReadHead()
	capacity := c.header.Capacity()

	used := head - tail
	if used > capacity {
		misuse(op, "head-tail=%d exceeds capacity %d", used, capacity)
	}
	if c.tx.size > used {
		misuse(op, "%d pending bytes overflow %d readable", c.tx.size, used)
	}

	avail := used - c.tx.size
	n := uint64(size)
	if !allowPartial && avail < n {
		atomic.AddUint64(&c.outOfData, 1)
		return Segments{}, ErrOutOfSpace
	}
	if avail == 0 {
		return seg, nil
	}
	n = min(n, avail)

	seg.parts, seg.n = span(c.data, c.header.Mask(), tail+c.tx.size, n)
	c.tx.size += n
	return seg, nil
}

// ReadInTx fills all of b from the ring within the open transaction.
func (c *Consumer) ReadInTx(b []byte) (int, error) {
	seg, err := c.AccessContiguousInTx(len(b))
	if err != nil {
		return 0, err
	}
	return seg.CopyTo(b), nil
}

// ReadPartialInTx fills as much of b as is available within the open
// transaction.
func (c *Consumer) ReadPartialInTx(b []byte) (int, error) {
	seg, err := c.AccessContiguousPartialInTx(len(b))
	if err != nil {
		return 0, err
	}
	return seg.CopyTo(b), nil
}

// Read fills all of b in its own transaction, or reads nothing.
func (c *Consumer) Read(b []byte) (int, error) {
	return c.readTx(b, false)
}

// ReadPartial reads up to len(b) bytes in its own transaction. It returns 0
// and no error when the ring is empty.
func (c *Consumer) ReadPartial(b []byte) (int, error) {
	return c.readTx(b, true)
}

func (c *Consumer) readTx(b []byte, allowPartial bool) (int, error) {
	if err := c.StartTx(); err != nil {
		return 0, err
	}

	var (
		n   int
		err error
	)
	if allowPartial {
		n, err = c.ReadPartialInTx(b)
	} else {
		n, err = c.ReadInTx(b)
	}
	if err != nil {
		if cerr := c.CancelTx(); cerr != nil {
			misuse("Consumer.Read", "cancel failed: %v", cerr)
		}
		return 0, err
	}

	if err := c.CommitTx(); err != nil {
		misuse("Consumer.Read", "commit failed: %v", err)
	}
	return n, nil
}

// Close detaches the Consumer from the ring. Closing with an open
// transaction panics.
func (c *Consumer) Close() error {
	if c.tx.open {
		misuse("Consumer.Close", "transaction still open with %d pending bytes", c.tx.size)
	}
	c.closed = true
	return nil
}
