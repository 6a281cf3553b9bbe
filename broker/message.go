// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind discriminates the three item shapes a queue distributes.
type MessageKind int

const (
	// KindMessage is a one-way message.
	KindMessage MessageKind = iota
	// KindQuery is a request distributed to subscribers; one of them is
	// expected to enqueue a reply.
	KindQuery
	// KindQueryReply is an answer routed only to the query's originator.
	KindQueryReply
)

// EnqueuedMessage is one item on a queue's ordered message list. Per-subscriber
// delivery state lives on the message, not on the subscriber: a subscriber
// that unsubscribes leaves its attempt counters inert here, and they become
// live again if it resubscribes before the message is removed.
type EnqueuedMessage struct {
	ID        uuid.UUID
	Timestamp time.Time
	Kind      MessageKind
	TypeTag   string
	ReplyTag  string
	Body      []byte

	// OriginID is the connection that enqueued the item. For KindQueryReply
	// it selects the only connection the reply is delivered to.
	OriginID uuid.UUID
	// QueryID correlates KindQuery items with their KindQueryReply.
	QueryID uuid.UUID

	// attempts and satisfied are managed exclusively by the queue's delivery
	// goroutine, so they need no locking of their own.
	attempts  map[uuid.UUID]int
	satisfied map[uuid.UUID]struct{}
}

func newEnqueuedMessage(kind MessageKind, typeTag, replyTag string, body []byte, origin uuid.UUID, queryID uuid.UUID) *EnqueuedMessage {
	return &EnqueuedMessage{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		TypeTag:   typeTag,
		ReplyTag:  replyTag,
		Body:      body,
		OriginID:  origin,
		QueryID:   queryID,
		attempts:  make(map[uuid.UUID]int),
		satisfied: make(map[uuid.UUID]struct{}),
	}
}

func (m *EnqueuedMessage) isSatisfied(id uuid.UUID) bool {
	_, ok := m.satisfied[id]
	return ok
}

func (m *EnqueuedMessage) markSatisfied(id uuid.UUID) {
	m.satisfied[id] = struct{}{}
}

func (m *EnqueuedMessage) recordAttempt(id uuid.UUID) int {
	m.attempts[id]++
	return m.attempts[id]
}

func (m *EnqueuedMessage) age(now time.Time) time.Duration {
	return now.Sub(m.Timestamp)
}
