// Command ringbench pushes a verified byte stream through a shmring ring
// with one producer and one consumer goroutine and reports throughput.
//
// Chunk sizes are random, and a share of producer transactions is cancelled
// on purpose; the consumer checks that it only ever sees committed bytes.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/valyala/fastrand"

	"github.com/aradilov/shmring"
	"github.com/aradilov/shmring/shm"
)

var (
	capacity    = flag.Int("capacity", 1<<16, "ring capacity in bytes, a power of two")
	total       = flag.Uint64("total", 1<<30, "bytes to transfer")
	maxChunk    = flag.Int("max-chunk", 4096, "largest chunk per transaction")
	cancelRatio = flag.Uint("cancel-ratio", 0, "cancel one in N producer transactions (0 disables)")
	useShm      = flag.Bool("shm", false, "place the ring in an anonymous shared mapping instead of the Go heap")
)

func streamByte(pos uint64) byte {
	return byte(pos ^ pos>>11)
}

func main() {
	flag.Parse()
	if err := checkFlags(*maxChunk, *cancelRatio); err != nil {
		log.Fatalf("%v", err)
	}

	rb, release := openRing()
	defer release()

	p := shmring.NewProducer(rb)
	c := shmring.NewConsumer(rb)
	h := rb.Header()

	log.Printf("transferring %d bytes through a %d byte ring (shm=%v, max-chunk=%d, cancel-ratio=%d)",
		*total, rb.Capacity(), *useShm, *maxChunk, *cancelRatio)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		produce(p, h)
	}()

	go func() {
		defer wg.Done()
		consume(c, h)
	}()

	wg.Wait()
	elapsed := time.Since(start)

	if err := p.Close(); err != nil {
		log.Fatalf("close producer: %v", err)
	}
	if err := c.Close(); err != nil {
		log.Fatalf("close consumer: %v", err)
	}

	ps, cs := p.Stats(), c.Stats()
	log.Printf("done in %v: %.1f MiB/s", elapsed, float64(h.ReadTail())/elapsed.Seconds()/(1<<20))
	log.Printf("producer: commits=%d cancels=%d bytes=%d out-of-space=%d",
		ps.Commits, ps.Cancels, ps.BytesCommitted, ps.OutOfSpace)
	log.Printf("consumer: commits=%d cancels=%d bytes=%d out-of-data=%d",
		cs.Commits, cs.Cancels, cs.BytesConsumed, cs.OutOfData)
}

// checkFlags rejects values the producer's random draws can't represent.
func checkFlags(maxChunk int, cancelRatio uint) error {
	if maxChunk <= 0 || uint64(maxChunk) > math.MaxUint32 {
		return fmt.Errorf("max-chunk must be in [1, %d], got %d", uint32(math.MaxUint32), maxChunk)
	}
	if uint64(cancelRatio) > math.MaxUint32 {
		return fmt.Errorf("cancel-ratio must be at most %d, got %d", uint32(math.MaxUint32), cancelRatio)
	}
	return nil
}

func openRing() (*shmring.RingBuffer, func()) {
	if !*useShm {
		rb, err := shmring.New(*capacity)
		if err != nil {
			log.Fatalf("create ring: %v", err)
		}
		return rb, func() {}
	}

	seg, err := shm.Anonymous(*capacity)
	if err != nil {
		log.Fatalf("map segment: %v", err)
	}
	return seg.RingBuffer(), func() {
		if err := seg.Close(); err != nil {
			log.Printf("unmap segment: %v", err)
		}
	}
}

func produce(p *shmring.Producer, h *shmring.Header) {
	var rng fastrand.RNG
	rng.Seed(uint32(time.Now().UnixNano()))

	for h.ReadHead() < *total {
		if err := p.StartTx(); err != nil {
			log.Fatalf("producer: start: %v", err)
		}
		cancel := *cancelRatio > 0 && rng.Uint32n(uint32(*cancelRatio)) == 0
		pos := h.ReadHead()

		seg, err := p.AccessContiguousPartialInTx(int(rng.Uint32n(uint32(*maxChunk))) + 1)
		if err != nil {
			log.Fatalf("producer: access: %v", err)
		}
		for i := 0; i < seg.Count(); i++ {
			part := seg.Bytes(i)
			for j := range part {
				if cancel {
					part[j] = ^streamByte(pos)
				} else {
					part[j] = streamByte(pos)
				}
				pos++
			}
		}

		if cancel {
			err = p.CancelTx()
		} else {
			err = p.CommitTx()
		}
		if err != nil {
			log.Fatalf("producer: end: %v", err)
		}
		if seg.Len() == 0 {
			runtime.Gosched()
		}
	}
}

func consume(c *shmring.Consumer, h *shmring.Header) {
	for h.ReadTail() < *total {
		if err := c.StartTx(); err != nil {
			log.Fatalf("consumer: start: %v", err)
		}
		pos := h.ReadTail()

		seg, err := c.AccessContiguousPartialInTx(*maxChunk)
		if err != nil {
			log.Fatalf("consumer: access: %v", err)
		}
		for i := 0; i < seg.Count(); i++ {
			for _, b := range seg.Bytes(i) {
				if b != streamByte(pos) {
					log.Fatalf("consumer: byte %d = %#x, want %#x", pos, b, streamByte(pos))
				}
				pos++
			}
		}

		if err := c.CommitTx(); err != nil {
			log.Fatalf("consumer: commit: %v", err)
		}
		if seg.Len() == 0 {
			runtime.Gosched()
		}
	}
}
