// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/memq/codec"
)

// ErrTimeout indicates no reply arrived within the caller's deadline.
var ErrTimeout = errors.New("timed out waiting for reply")

// Waiter is one pending correlation: a query id bound to a one-shot signal
// that carries the reply payload once it arrives.
type Waiter struct {
	id      uuid.UUID
	done    chan struct{}
	payload codec.Payload
	err     error
}

// PendingTable maps in-flight query ids to their waiters. It is used by both
// roles: a client blocking on a control query, and the server blocking on a
// subscriber's consumption verdict.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]*Waiter
}

// NewPendingTable creates an empty correlation table.
func NewPendingTable() *PendingTable {
	return &PendingTable{waiters: make(map[uuid.UUID]*Waiter)}
}

// Begin registers a waiter for the given query id.
func (t *PendingTable) Begin(id uuid.UUID) *Waiter {
	w := &Waiter{id: id, done: make(chan struct{})}

	t.mu.Lock()
	t.waiters[id] = w
	t.mu.Unlock()

	return w
}

// Fulfill delivers a reply to the waiter registered under id and removes the
// entry. Returns false when the id is unknown: the waiter already timed out
// or the query was answered twice. That race is expected and never an error.
func (t *PendingTable) Fulfill(id uuid.UUID, payload codec.Payload, err error) bool {
	t.mu.Lock()
	w, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	w.payload = payload
	w.err = err
	close(w.done)
	return true
}

// Await blocks until the waiter is fulfilled or the timeout elapses. On
// timeout the entry is removed so a late reply cannot write into a stale
// slot; removal and fulfillment race under the table lock, and whichever
// takes the lock first wins.
func (t *PendingTable) Await(w *Waiter, timeout time.Duration) (codec.Payload, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return w.payload, w.err
	case <-timer.C:
	}

	t.mu.Lock()
	if _, ok := t.waiters[w.id]; ok {
		delete(t.waiters, w.id)
		t.mu.Unlock()
		return nil, ErrTimeout
	}
	t.mu.Unlock()

	// Fulfill already removed the entry, so the reply is committed.
	<-w.done
	return w.payload, w.err
}

// FailAll fulfills every pending waiter with err. Called when the underlying
// connection is lost.
func (t *PendingTable) FailAll(err error) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[uuid.UUID]*Waiter)
	t.mu.Unlock()

	for _, w := range waiters {
		w.err = err
		close(w.done)
	}
}

// Len reports the number of pending entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
