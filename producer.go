package shmring

import (
	"sync/atomic"
)

// Producer writes into a RingBuffer. Exactly one Producer may be attached to
// a ring at a time, and it must be used from one goroutine.
//
// Writes happen inside transactions: StartTx, any number of *InTx calls, then
// CommitTx to publish everything at once or CancelTx to drop it. Failed *InTx
// calls do not end the transaction.
//
// A Producer dropped with a transaction open keeps the ring's writer guard
// held, and no later Producer can start a transaction on that ring. This is
// logged when the Producer is garbage collected.
type Producer struct {
	header *Header
	data   []byte

	tx     *txState // bytes written in the open transaction, not yet published
	epoch  uint64   // bumped when a transaction ends; invalidates its Segments
	closed bool

	commits        uint64
	cancels        uint64
	bytesCommitted uint64
	outOfSpace     uint64
	contended      uint64
}

// ProducerStats is a snapshot of a Producer's counters.
type ProducerStats struct {
	Commits        uint64
	Cancels        uint64
	BytesCommitted uint64
	OutOfSpace     uint64
	Contended      uint64
}

// NewProducer binds a Producer to rb for the Producer's whole lifetime.
func NewProducer(rb *RingBuffer) *Producer {
	if !rb.valid() {
		panic("shmring: producer needs a ring with a data region")
	}
	p := &Producer{header: rb.header, data: rb.data, tx: &txState{}}
	watchTx(p, "Producer", p.tx)
	return p
}

// Size returns the ring capacity in bytes.
func (p *Producer) Size() int {
	return len(p.data)
}

// InTx reports whether a transaction is open.
func (p *Producer) InTx() bool {
	return p.tx.open
}

// Free returns how many more bytes could be written right now, taking the
// open transaction into account.
func (p *Producer) Free() int {
	used := p.header.ReadHead() - p.header.ReadTail()
	return int(p.header.Capacity() - used - p.tx.size)
}

// Stats retrieves the current counters. Safe to call from any goroutine.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Commits:        atomic.LoadUint64(&p.commits),
		Cancels:        atomic.LoadUint64(&p.cancels),
		BytesCommitted: atomic.LoadUint64(&p.bytesCommitted),
		OutOfSpace:     atomic.LoadUint64(&p.outOfSpace),
		Contended:      atomic.LoadUint64(&p.contended),
	}
}

// StartTx opens a write transaction.
// It returns ErrBusy if this Producer already has one open and ErrWouldBlock
// if the ring's writer guard is held by another writer.
func (p *Producer) StartTx() error {
	if p.closed {
		return ErrClosed
	}
	if p.tx.open {
		return ErrBusy
	}
	if p.header.BeginWriteTx() {
		atomic.AddUint64(&p.contended, 1)
		return ErrWouldBlock
	}
	if p.tx.size != 0 {
		misuse("Producer.StartTx", "%d pending bytes outside a transaction", p.tx.size)
	}
	p.tx.open = true
	return nil
}

// CommitTx publishes every byte written in the open transaction.
func (p *Producer) CommitTx() error {
	if p.closed {
		return ErrClosed
	}
	if !p.tx.open {
		return ErrNoTransaction
	}
	p.header.IncHead(p.tx.size)
	atomic.AddUint64(&p.commits, 1)
	atomic.AddUint64(&p.bytesCommitted, p.tx.size)
	p.endTx()
	return nil
}

// CancelTx drops every byte written in the open transaction. The space is
// reused by later transactions, so those bytes must not have escaped.
func (p *Producer) CancelTx() error {
	if p.closed {
		return ErrClosed
	}
	if !p.tx.open {
		return ErrNoTransaction
	}
	atomic.AddUint64(&p.cancels, 1)
	p.endTx()
	return nil
}

func (p *Producer) endTx() {
	p.tx.size = 0
	p.tx.open = false
	p.epoch++
	// The guard is released last, once the local state is reset.
	p.header.EndWriteTx()
}

// AccessContiguousInTx reserves exactly size bytes for in-place writing and
// returns the parts of the data region that hold them. It fails with
// ErrOutOfSpace, leaving the transaction unchanged, if they don't fit.
func (p *Producer) AccessContiguousInTx(size int) (Segments, error) {
	return p.accessContiguous("Producer.AccessContiguousInTx", size, false)
}

// AccessContiguousPartialInTx is like AccessContiguousInTx but reserves as
// many of the size bytes as fit, possibly none.
func (p *Producer) AccessContiguousPartialInTx(size int) (Segments, error) {
	return p.accessContiguous("Producer.AccessContiguousPartialInTx", size, true)
}

func (p *Producer) accessContiguous(op string, size int, allowPartial bool) (Segments, error) {
	if p.closed {
		return Segments{}, ErrClosed
	}
	if !p.tx.open {
		return Segments{}, ErrNoTransaction
	}
	if size < 0 {
		return Segments{}, ErrInvalidArgument
	}

	seg := Segments{epoch: p.epoch, owner: &p.epoch, writable: true}
	if size == 0 {
		return seg, nil
	}

	// head is ours, so it is always current; tail may only have grown.
	head := p.header.ReadHead()
	tail := p.header.ReadTail()
	capacity := p.header.Capacity()

	used := head - tail
	if used > capacity {
		misuse(op, "head-tail=%d exceeds capacity %d", used, capacity)
	}
	if used+p.tx.size > capacity {
		misuse(op, "%d pending bytes overflow %d free", p.tx.size, capacity-used)
	}

	avail := capacity - used - p.tx.size
	n := uint64(size)
	if !allowPartial && avail < n {
		atomic.AddUint64(&p.outOfSpace, 1)
		return Segments{}, ErrOutOfSpace
	}
	if avail == 0 {
		return seg, nil
	}
	n = min(n, avail)

	seg.parts, seg.n = span(p.data, p.header.Mask(), head+p.tx.size, n)
	p.tx.size += n
	return seg, nil
}

// WriteInTx copies all of b into the ring within the open transaction.
func (p *Producer) WriteInTx(b []byte) (int, error) {
	seg, err := p.AccessContiguousInTx(len(b))
	if err != nil {
		return 0, err
	}
	return seg.CopyFrom(b), nil
}

// WritePartialInTx copies as much of b as fits within the open transaction.
func (p *Producer) WritePartialInTx(b []byte) (int, error) {
	seg, err := p.AccessContiguousPartialInTx(len(b))
	if err != nil {
		return 0, err
	}
	return seg.CopyFrom(b), nil
}

// Write copies all of b into the ring in its own transaction. Either all of
// b becomes visible to the consumer or none of it does.
func (p *Producer) Write(b []byte) (int, error) {
	return p.writeTx(b, false)
}

// WritePartial copies as much of b as fits in its own transaction and
// publishes it. It returns 0 and no error when the ring is full.
func (p *Producer) WritePartial(b []byte) (int, error) {
	return p.writeTx(b, true)
}

func (p *Producer) writeTx(b []byte, allowPartial bool) (int, error) {
	if err := p.StartTx(); err != nil {
		return 0, err
	}

	var (
		n   int
		err error
	)
	if allowPartial {
		n, err = p.WritePartialInTx(b)
	} else {
		n, err = p.WriteInTx(b)
	}
	if err != nil {
		if cerr := p.CancelTx(); cerr != nil {
			misuse("Producer.Write", "cancel failed: %v", cerr)
		}
		return 0, err
	}

	if err := p.CommitTx(); err != nil {
		misuse("Producer.Write", "commit failed: %v", err)
	}
	return n, nil
}

// Close detaches the Producer from the ring. Closing with an open
// transaction is a programming error and panics; the transaction is never
// cancelled implicitly.
func (p *Producer) Close() error {
	if p.tx.open {
		misuse("Producer.Close", "transaction still open with %d pending bytes", p.tx.size)
	}
	p.closed = true
	return nil
}
