package shmring

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alignedBlock returns an 8-byte aligned block of at least n bytes.
func alignedBlock(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)[:n]
}

func TestHeaderGuards(t *testing.T) {
	rb, err := New(16)
	require.NoError(t, err)
	h := rb.Header()

	assert.False(t, h.BeginWriteTx())
	assert.True(t, h.BeginWriteTx(), "second writer must be refused")
	h.EndWriteTx()
	assert.False(t, h.BeginWriteTx())
	h.EndWriteTx()

	assert.False(t, h.BeginReadTx())
	assert.False(t, h.BeginWriteTx(), "reader and writer guards are independent")
	assert.True(t, h.BeginReadTx())
	h.EndReadTx()
	h.EndWriteTx()
}

func TestHeaderCounters(t *testing.T) {
	rb, err := New(8)
	require.NoError(t, err)
	h := rb.Header()

	assert.Equal(t, uint64(8), h.Capacity())
	assert.Equal(t, uint64(7), h.Mask())
	assert.Zero(t, h.ReadHead())
	assert.Zero(t, h.ReadTail())

	h.IncHead(6)
	h.IncTail(2)
	assert.Equal(t, uint64(6), h.ReadHead())
	assert.Equal(t, uint64(2), h.ReadTail())
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []uint64{1, 2, 4, 1 << 20, 1 << 63} {
		assert.True(t, IsPowerOfTwo(n), "%d", n)
	}
	for _, n := range []uint64{0, 3, 6, 12, 1<<20 + 1} {
		assert.False(t, IsPowerOfTwo(n), "%d", n)
	}
}

func TestInitAndAttachHeader(t *testing.T) {
	mem := alignedBlock(Footprint(64))

	_, err := AttachHeader(mem)
	require.ErrorIs(t, err, ErrInvalidArgument, "unformatted block must not attach")

	_, err = InitHeader(mem, 48)
	require.ErrorIs(t, err, ErrInvalidArgument)

	h, err := InitHeader(mem, 64)
	require.NoError(t, err)
	h.IncHead(10)

	other, err := AttachHeader(mem)
	require.NoError(t, err)
	assert.Same(t, h, other)
	assert.Equal(t, uint64(10), other.ReadHead())

	_, err = InitHeader(mem[:HeaderSize-1], 64)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAttachHeaderRejectsCorruptState(t *testing.T) {
	mem := alignedBlock(Footprint(64))
	h, err := InitHeader(mem, 64)
	require.NoError(t, err)

	h.IncHead(65)
	_, err = AttachHeader(mem)
	require.ErrorIs(t, err, ErrInvalidArgument)

	h.IncTail(65)
	h.mask = 3
	_, err = AttachHeader(mem)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAttachRejectsOversizedCapacity(t *testing.T) {
	mem := alignedBlock(Footprint(64))
	h, err := InitHeader(mem, 64)
	require.NoError(t, err)

	for _, capacity := range []uint64{128, 1 << 40, 1 << 63} {
		h.capacity = capacity
		h.mask = capacity - 1

		require.NotPanics(t, func() {
			_, err = Attach(mem)
		}, "capacity %d", capacity)
		require.ErrorIs(t, err, ErrInvalidArgument, "capacity %d", capacity)
	}
}

func TestInitHeaderNeedsRoomForData(t *testing.T) {
	mem := alignedBlock(Footprint(64))

	_, err := InitHeader(mem, 128)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = InitHeader(mem, 1<<63)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = InitHeader(mem, 64)
	require.NoError(t, err)
}
