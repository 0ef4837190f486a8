package shmring

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by StartTx when this side already has an open transaction.
	ErrBusy = errors.New("shmring: transaction already open")
	// ErrWouldBlock is returned when the header guard of this side is held by someone else.
	ErrWouldBlock = errors.New("shmring: transaction guard held")
	// ErrNoTransaction is returned by operations that need an open transaction.
	ErrNoTransaction = errors.New("shmring: no open transaction")
	// ErrOutOfSpace is returned when a non-partial request can't be served in full.
	ErrOutOfSpace = errors.New("shmring: not enough space or data")
	// ErrInvalidArgument is returned for malformed requests and layouts.
	ErrInvalidArgument = errors.New("shmring: invalid argument")
	// ErrClosed is returned by a Producer or Consumer after Close.
	ErrClosed = errors.New("shmring: closed")
)

// MisuseError is the panic value for violations of the single-writer /
// single-reader contract that can't be reported through a return value.
// It is not meant to be recovered and retried.
type MisuseError struct {
	Op     string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("shmring: %s: %s", e.Op, e.Reason)
}

func misuse(op, format string, args ...any) {
	panic(&MisuseError{Op: op, Reason: fmt.Sprintf(format, args...)})
}
