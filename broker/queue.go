// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/memq/wire"
)

// Deliverer sends queue traffic to connected subscribers. The broker server
// implements it on top of per-connection queries/notifications.
type Deliverer interface {
	// DeliverMessage performs a blocking request/reply round trip to one
	// subscriber and reports whether the subscriber consumed the message.
	DeliverMessage(connID uuid.UUID, queueName string, m *EnqueuedMessage) (consumed bool, err error)

	// DeliverQueryReply routes a queued query's answer to the originating
	// connection as a one-way notification.
	DeliverQueryReply(connID uuid.UUID, queueName string, m *EnqueuedMessage) error
}

// Queue is a named message buffer with its own subscriber set, delivery
// policy and delivery goroutine. Exactly one delivery goroutine runs per
// queue for its lifetime.
//
// Lock order: the message-list lock (mu) is the outer lock, the subscriber
// set lock the inner one. Everywhere both are held, they are acquired in
// that order.
type Queue struct {
	cfg       wire.QueueConfig
	key       string
	deliverer Deliverer
	logger    *slog.Logger
	metrics   Metrics
	onError   func(queue string, err error)

	mu       sync.Mutex
	messages []*EnqueuedMessage

	subs *subscriberSet

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	// sweepInterval throttles expiry scans; tests shorten it.
	sweepInterval time.Duration

	running atomic.Bool

	totalEnqueued  atomic.Uint64
	totalDelivered atomic.Uint64
	totalExpired   atomic.Uint64
	totalFailures  atomic.Uint64
}

func newQueue(cfg wire.QueueConfig, d Deliverer, logger *slog.Logger, metrics Metrics, onError func(string, error)) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if onError == nil {
		onError = func(string, error) {}
	}

	return &Queue{
		cfg:       cfg,
		key:       cfg.Key(),
		deliverer: d,
		logger:    logger.With(slog.String("queue", cfg.Name)),
		metrics:   metrics,
		onError:   onError,
		subs:      newSubscriberSet(),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Name returns the queue's configured name.
func (q *Queue) Name() string { return q.cfg.Name }

// Config returns the immutable queue configuration.
func (q *Queue) Config() wire.QueueConfig { return q.cfg }

// Start launches the delivery goroutine.
func (q *Queue) Start() {
	if !q.running.CompareAndSwap(false, true) {
		return
	}
	go q.deliveryLoop()
}

// Stop signals the delivery goroutine and joins it. A delivery in progress
// completes its current single-subscriber round trip before observing the
// stop signal.
func (q *Queue) Stop() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}
	close(q.stop)
	<-q.done
}

// Enqueue appends an item to the tail of the message list and pulses the
// delivery goroutine.
func (q *Queue) Enqueue(m *EnqueuedMessage) {
	q.mu.Lock()
	q.messages = append(q.messages, m)
	q.mu.Unlock()

	q.totalEnqueued.Add(1)
	q.metrics.MessageEnqueued(q.cfg.Name, len(m.Body))
	q.pulse()
}

// Purge clears the message list without touching subscribers or
// configuration.
func (q *Queue) Purge() {
	q.mu.Lock()
	q.messages = nil
	q.mu.Unlock()
}

// Subscribe registers a connection. Idempotent. A subscriber added after a
// message began distribution is entitled to receive it.
func (q *Queue) Subscribe(connID uuid.UUID, localAddr, remoteAddr string) {
	if q.subs.add(connID, localAddr, remoteAddr) {
		q.metrics.SubscriberAdded(q.cfg.Name)
		q.pulse()
	}
}

// Unsubscribe removes a connection. Idempotent. Per-message attempt counters
// for the departing subscriber stay on the messages, inert.
func (q *Queue) Unsubscribe(connID uuid.UUID) {
	if q.subs.remove(connID) {
		q.metrics.SubscriberRemoved(q.cfg.Name)
	}
}

// Subscribed reports whether the connection is currently a subscriber.
func (q *Queue) Subscribed(connID uuid.UUID) bool {
	return q.subs.contains(connID)
}

// Depth returns the number of messages currently enqueued.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) pulse() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) stopped() bool {
	select {
	case <-q.stop:
		return true
	default:
		return false
	}
}
