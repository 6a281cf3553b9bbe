// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscriber is one connection registered on a queue, with cumulative
// delivery counters. Counters are atomic because the delivery goroutine
// bumps them outside any lock while management snapshots read them.
type Subscriber struct {
	ConnectionID uuid.UUID
	LocalAddr    string
	RemoteAddr   string

	DeliveryAttempts     atomic.Uint64
	SuccessfulDeliveries atomic.Uint64
	FailedDeliveries     atomic.Uint64
	ConsumedMessages     atomic.Uint64
}

// subscriberSet is a queue's subscriber registry, kept in subscription
// order. Its lock is the inner lock of the queue's lock pair: never acquire
// the message-list lock while holding it.
type subscriberSet struct {
	mu    sync.Mutex
	m     map[uuid.UUID]*Subscriber
	order []uuid.UUID
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{m: make(map[uuid.UUID]*Subscriber)}
}

// add registers a subscriber. Idempotent: re-subscribing an already present
// connection keeps the existing record and its counters.
func (s *subscriberSet) add(connID uuid.UUID, localAddr, remoteAddr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[connID]; ok {
		return false
	}
	s.m[connID] = &Subscriber{
		ConnectionID: connID,
		LocalAddr:    localAddr,
		RemoteAddr:   remoteAddr,
	}
	s.order = append(s.order, connID)
	return true
}

// remove deletes a subscriber. Idempotent: removal of an absent connection
// is a no-op.
func (s *subscriberSet) remove(connID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[connID]; !ok {
		return false
	}
	delete(s.m, connID)
	for i, id := range s.order {
		if id == connID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns the current subscribers in subscription order. The
// delivery goroutine iterates this copy so the set lock is never held
// across a network round trip.
func (s *subscriberSet) snapshot() []*Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Subscriber, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.m[id])
	}
	return out
}

func (s *subscriberSet) contains(connID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[connID]
	return ok
}

func (s *subscriberSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
