package shmring

import (
	"log"
	"runtime"
	"sync/atomic"
)

// txState is the per-side transaction state. It lives apart from its
// Producer or Consumer so a cleanup can inspect it after the owner is gone.
type txState struct {
	open bool
	size uint64 // bytes reserved in the open transaction
}

// leakedTx identifies the transaction state of a collected Producer or
// Consumer.
type leakedTx struct {
	side string
	tx   *txState
}

// leakedTxHook receives side ("Producer" or "Consumer") and the pending byte
// count when a side is collected with a transaction open. The ring's guard
// for that side stays held: releasing it would cancel the transaction behind
// the caller's back.
var leakedTxHook atomic.Pointer[func(side string, pending uint64)]

func init() {
	report := func(side string, pending uint64) {
		log.Printf("shmring: %s collected with an open transaction (%d pending bytes); its guard stays held", side, pending)
	}
	leakedTxHook.Store(&report)
}

// watchTx arranges for reportLeakedTx to run once owner is unreachable.
func watchTx[T any](owner *T, side string, tx *txState) {
	runtime.AddCleanup(owner, reportLeakedTx, leakedTx{side: side, tx: tx})
}

func reportLeakedTx(l leakedTx) {
	if !l.tx.open {
		return
	}
	if hook := leakedTxHook.Load(); hook != nil {
		(*hook)(l.side, l.tx.size)
	}
}
