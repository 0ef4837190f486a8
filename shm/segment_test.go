//go:build linux || darwin || freebsd

package shm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aradilov/shmring"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	opts := Options{Dir: t.TempDir()}

	server, err := Create("roundtrip", 4096, opts)
	require.NoError(t, err)
	defer server.Close()
	defer server.Remove()

	assert.Equal(t, filepath.Join(opts.Dir, "shmring_roundtrip"), server.Path())
	assert.Equal(t, shmring.Footprint(4096), server.Size())

	client, err := Open("roundtrip", opts)
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 4096, client.RingBuffer().Capacity())

	// Two independent mappings of the same file.
	p := shmring.NewProducer(server.RingBuffer())
	c := shmring.NewConsumer(client.RingBuffer())
	defer p.Close()
	defer c.Close()

	msg := make([]byte, 3000)
	for i := range msg {
		msg[i] = byte(i * 7)
	}
	for round := 0; round < 5; round++ {
		_, err = p.Write(msg)
		require.NoError(t, err)

		out := make([]byte, len(msg))
		_, err = c.Read(out)
		require.NoError(t, err)
		require.Equal(t, msg, out)
	}
	assert.Equal(t, uint64(5*3000), client.RingBuffer().Header().ReadHead())
}

func TestCreateIsExclusive(t *testing.T) {
	opts := Options{Dir: t.TempDir()}

	seg, err := Create("dup", 4096, opts)
	require.NoError(t, err)
	defer seg.Close()

	_, err = Create("dup", 4096, opts)
	require.ErrorIs(t, err, os.ErrExist)
}

func TestCreateValidatesArguments(t *testing.T) {
	opts := Options{Dir: t.TempDir()}

	_, err := Create("odd", 1000, opts)
	require.ErrorIs(t, err, shmring.ErrInvalidArgument)
	_, err = os.Stat(filepath.Join(opts.Dir, "shmring_odd"))
	assert.ErrorIs(t, err, os.ErrNotExist, "no file is left behind")

	_, err = Create("", 4096, opts)
	require.ErrorIs(t, err, shmring.ErrInvalidArgument)
	_, err = Create("a/b", 4096, opts)
	require.ErrorIs(t, err, shmring.ErrInvalidArgument)
}

func TestOpenRejectsForeignFiles(t *testing.T) {
	opts := Options{Dir: t.TempDir()}

	_, err := Open("missing", opts)
	require.ErrorIs(t, err, os.ErrNotExist)

	small := filepath.Join(opts.Dir, "shmring_small")
	require.NoError(t, os.WriteFile(small, []byte("tiny"), 0o600))
	_, err = Open("small", opts)
	require.ErrorIs(t, err, shmring.ErrInvalidArgument)

	garbage := filepath.Join(opts.Dir, "shmring_garbage")
	require.NoError(t, os.WriteFile(garbage, make([]byte, shmring.Footprint(4096)), 0o600))
	_, err = Open("garbage", opts)
	require.ErrorIs(t, err, shmring.ErrInvalidArgument)
}

func TestRemoveUnlinks(t *testing.T) {
	opts := Options{Dir: t.TempDir()}

	seg, err := Create("gone", 4096, opts)
	require.NoError(t, err)
	require.NoError(t, seg.Remove())
	require.NoError(t, seg.Remove(), "removing twice is fine")

	_, err = Open("gone", opts)
	require.ErrorIs(t, err, os.ErrNotExist)

	// The creator's mapping keeps working after unlink.
	_, err = shmring.NewProducer(seg.RingBuffer()).Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	assert.Nil(t, seg.RingBuffer())
}

func TestAnonymousSegment(t *testing.T) {
	seg, err := Anonymous(1 << 12)
	require.NoError(t, err)
	defer seg.Close()

	assert.Empty(t, seg.Path())
	require.NoError(t, seg.Remove())

	p := shmring.NewProducer(seg.RingBuffer())
	c := shmring.NewConsumer(seg.RingBuffer())

	n, err := p.WritePartial(make([]byte, 5000))
	require.NoError(t, err)
	assert.Equal(t, 1<<12, n)

	n, err = c.ReadPartial(make([]byte, 100))
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = Anonymous(3)
	require.ErrorIs(t, err, shmring.ErrInvalidArgument)
}
