package shmring

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

const (
	spinBudget = 64 // Gosched rounds before backing off with sleeps
	maxBackoff = time.Millisecond
)

// WriteContext retries p.Write(b) until it succeeds, fails for a reason other
// than lack of space, or ctx is done. The ring itself never blocks; this only
// drives the polling for callers without an event loop of their own.
func WriteContext(ctx context.Context, p *Producer, b []byte) (int, error) {
	if len(b) > p.Size() {
		return 0, fmt.Errorf("%w: %d bytes never fit in a ring of %d", ErrInvalidArgument, len(b), p.Size())
	}
	var bo backoff
	for {
		n, err := p.Write(b)
		if !retryable(err) {
			return n, err
		}
		if err := bo.wait(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadContext retries c.Read(b) until len(b) bytes have been read, the read
// fails for a reason other than missing data, or ctx is done.
func ReadContext(ctx context.Context, c *Consumer, b []byte) (int, error) {
	if len(b) > c.Size() {
		return 0, fmt.Errorf("%w: %d bytes never fit in a ring of %d", ErrInvalidArgument, len(b), c.Size())
	}
	var bo backoff
	for {
		n, err := c.Read(b)
		if !retryable(err) {
			return n, err
		}
		if err := bo.wait(ctx); err != nil {
			return 0, err
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrOutOfSpace) || errors.Is(err, ErrWouldBlock)
}

type backoff struct {
	spins int
	sleep time.Duration
}

func (b *backoff) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.spins < spinBudget {
		b.spins++
		runtime.Gosched()
		return nil
	}

	if b.sleep == 0 {
		b.sleep = time.Microsecond
	} else {
		b.sleep = min(b.sleep*2, maxBackoff)
	}
	t := time.NewTimer(b.sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
