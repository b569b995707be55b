// Package epoch implements the per-duct mutual exclusion primitive and the
// per-replica notepad scratch area described in the duct synchronization
// model: a lock scoped to a single scheduling epoch, and persistent
// double-buffered scratch memory that survives a clip restart.
//
// Grounded on fsw/synch/duct.c's eplock_acquire/eplock_release/eplock_held
// calls: a duct's mutex is held for exactly one prepare..commit span within
// one clip invocation, never across epochs.
package epoch

import (
	"sync"

	"github.com/celskeggs/hailburst-sub000/internal/trace"
)

// Lock is the epoch-scoped mutual exclusion primitive guarding a duct. It is
// a thin wrapper over sync.Mutex that additionally records that it is held
// and by which replica id, so that Held can be asserted the way the C
// source asserts eplock_held() before touching duct internals.
type Lock struct {
	mu     sync.Mutex
	held   bool
	holder uint8
}

// Acquire blocks until the lock is free and marks it held by replica id.
func (l *Lock) Acquire(replicaID uint8) {
	l.mu.Lock()
	l.held = true
	l.holder = replicaID
}

// Release marks the lock free and unblocks the next acquirer.
func (l *Lock) Release() {
	l.held = false
	l.mu.Unlock()
}

// Held asserts (aborting the process on failure) that this lock is
// currently held -- callers use this the same way the original source
// asserts eplock_held(duct->mutex) before reading duct scratch state.
func (l *Lock) Held() {
	if !l.held {
		trace.Abort("epoch lock contract violation: expected lock to be held")
	}
}

// Notepad is per-replica persistent scratch memory, double-buffered across
// clip invocations so that a clip interrupted mid-cycle by the scheduler
// never observes a half-written notepad from a prior restart.
type Notepad[T any] struct {
	mu      sync.Mutex
	buffers [2]T
	active  int
	valid   bool
	restart bool
}

// NewNotepad constructs a notepad pre-populated with the given zero value in
// both buffer slots, initially marked as having just restarted (there is no
// "previous cycle" before the first feedforward).
func NewNotepad[T any](zero T) *Notepad[T] {
	n := &Notepad[T]{}
	n.buffers[0] = zero
	n.buffers[1] = zero
	n.restart = true
	return n
}

// Feedforward returns the previous cycle's note (valid only if the prior
// cycle was not itself a restart) together with a fresh buffer to populate
// this cycle, and reports whether the previous cycle's contents are usable.
func (n *Notepad[T]) Feedforward() (prev T, fresh *T, validPrev bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev = n.buffers[n.active]
	validPrev = n.valid && !n.restart
	n.restart = false
	n.active = 1 - n.active
	n.valid = true
	return prev, &n.buffers[n.active], validPrev
}

// MarkRestart flags the next Feedforward call as following a restart,
// invalidating the previous cycle's note. Called by the scheduler when a
// clip's invocation was interrupted by deadline rather than returning
// normally.
func (n *Notepad[T]) MarkRestart() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.restart = true
}
