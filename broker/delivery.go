// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/absmach/memq/wire"
)

const (
	// idleWait bounds the sleep between passes when the queue has no work;
	// Enqueue pulses the wake channel so new work is picked up sooner.
	idleWait = 10 * time.Millisecond

	// defaultSweepInterval throttles the expiry sweep so a deep queue is not
	// age-scanned on every pass.
	defaultSweepInterval = 10 * time.Second
)

func (q *Queue) deliveryLoop() {
	defer close(q.done)

	if q.sweepInterval == 0 {
		q.sweepInterval = defaultSweepInterval
	}

	lastSweep := time.Now()
	var lastBatch time.Time

	for {
		if q.stopped() {
			return
		}

		progressed := q.deliveryPass(&lastSweep, &lastBatch)
		if progressed {
			continue
		}

		select {
		case <-q.stop:
			return
		case <-q.wake:
		case <-time.After(idleWait):
		}
	}
}

// deliveryPass runs one iteration of the distribution algorithm: batch gate,
// expiry sweep, head selection, sequential per-subscriber delivery, removal
// decision. It reports whether any delivery succeeded, which suppresses the
// idle wait. A panic in the pass is reported and the loop continues.
func (q *Queue) deliveryPass(lastSweep, lastBatch *time.Time) (progressed bool) {
	defer func() {
		if r := recover(); r != nil {
			q.onError(q.cfg.Name, fmt.Errorf("delivery pass panic: %v", r))
			q.logger.Error("delivery pass panicked", slog.Any("panic", r))
			progressed = false
		}
	}()

	if q.cfg.BatchDeliveryInterval > 0 && time.Since(*lastBatch) < q.cfg.BatchDeliveryInterval {
		return false
	}
	*lastBatch = time.Now()

	head, pending, removed := q.selectWork(lastSweep)
	if head == nil {
		return removed
	}

	if head.Kind == KindQueryReply {
		return q.deliverReply(head)
	}

	if q.cfg.DeliveryScheme == wire.Random {
		rand.Shuffle(len(pending), func(i, j int) {
			pending[i], pending[j] = pending[j], pending[i]
		})
	}

	successes, anyConsumed := q.deliverToPending(head, pending)

	q.finishPass(head, anyConsumed)
	return successes > 0
}

// selectWork takes the head of the message list and computes the subscribers
// it is still owed to. The message-list lock is held throughout; the
// subscriber set lock nests inside it. When the head turns out to be fully
// satisfied it is removed here and (nil, nil, true) is returned.
func (q *Queue) selectWork(lastSweep *time.Time) (*EnqueuedMessage, []*Subscriber, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	if q.cfg.MaxMessageAge > 0 && now.Sub(*lastSweep) >= q.sweepInterval {
		q.sweepExpiredLocked(now)
		*lastSweep = now
	}

	if len(q.messages) == 0 {
		return nil, nil, false
	}
	head := q.messages[0]

	// A query reply is owed to the connection that originated the query,
	// subscribed or not, so the subscriber set does not gate it.
	if head.Kind == KindQueryReply {
		return head, nil, false
	}

	// Queues without subscribers are not processed at all, so messages are
	// never counted as delivered on an empty queue.
	subs := q.subs.snapshot()
	if len(subs) == 0 {
		return nil, nil, false
	}

	pending := make([]*Subscriber, 0, len(subs))
	for _, sub := range subs {
		if !head.isSatisfied(sub.ConnectionID) {
			pending = append(pending, sub)
		}
	}

	if len(pending) == 0 {
		// Every current subscriber is satisfied; retire the head.
		q.messages = q.messages[1:]
		return nil, nil, true
	}
	return head, pending, false
}

// deliverToPending attempts delivery to each pending subscriber in turn,
// one blocking round trip at a time. Stopping the queue interrupts between
// subscribers, never mid round trip.
func (q *Queue) deliverToPending(head *EnqueuedMessage, pending []*Subscriber) (successes int, anyConsumed bool) {
	for _, sub := range pending {
		if q.stopped() {
			return successes, anyConsumed
		}

		attempts := head.recordAttempt(sub.ConnectionID)
		sub.DeliveryAttempts.Add(1)

		consumed, err := q.deliverer.DeliverMessage(sub.ConnectionID, q.cfg.Name, head)

		if err != nil {
			q.totalFailures.Add(1)
			sub.FailedDeliveries.Add(1)
			q.metrics.DeliveryFailed(q.cfg.Name)
			q.onError(q.cfg.Name, err)
			q.logger.Debug("delivery attempt failed",
				slog.String("connection_id", sub.ConnectionID.String()),
				slog.Int("attempts", attempts),
				slog.Any("error", err))
		} else {
			head.markSatisfied(sub.ConnectionID)
			successes++
			q.totalDelivered.Add(1)
			sub.SuccessfulDeliveries.Add(1)
			q.metrics.MessageDelivered(q.cfg.Name)
			if consumed {
				sub.ConsumedMessages.Add(1)
				anyConsumed = true
			}
		}

		if q.cfg.MaxDeliveryAttempts > 0 && attempts >= q.cfg.MaxDeliveryAttempts {
			// Attempts exhausted: the message is abandoned for this
			// subscriber only.
			head.markSatisfied(sub.ConnectionID)
		}

		if anyConsumed && q.cfg.ConsumptionScheme == wire.FirstConsumer {
			return successes, anyConsumed
		}

		if q.cfg.DeliveryThrottle > 0 {
			select {
			case <-q.stop:
				return successes, anyConsumed
			case <-time.After(q.cfg.DeliveryThrottle):
			}
		}
	}
	return successes, anyConsumed
}

// deliverReply sends a query reply straight to its originating connection,
// bypassing the subscriber set. The reply is retired on success, or once its
// attempt budget against the originator is spent (originator gone).
func (q *Queue) deliverReply(head *EnqueuedMessage) bool {
	attempts := head.recordAttempt(head.OriginID)

	err := q.deliverer.DeliverQueryReply(head.OriginID, q.cfg.Name, head)
	if err != nil {
		q.totalFailures.Add(1)
		q.metrics.DeliveryFailed(q.cfg.Name)
		q.onError(q.cfg.Name, err)
		q.logger.Debug("query reply delivery failed",
			slog.String("connection_id", head.OriginID.String()),
			slog.Int("attempts", attempts),
			slog.Any("error", err))
	} else {
		q.totalDelivered.Add(1)
		q.metrics.MessageDelivered(q.cfg.Name)
	}

	if err == nil || (q.cfg.MaxDeliveryAttempts > 0 && attempts >= q.cfg.MaxDeliveryAttempts) {
		q.retireHead(head)
	}
	return err == nil
}

// retireHead removes the message if it is still at the head; a purge or
// expiry sweep may have raced it away.
func (q *Queue) retireHead(head *EnqueuedMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) > 0 && q.messages[0] == head {
		q.messages = q.messages[1:]
	}
}

// finishPass applies the removal decision for the head message under the
// same combined lock scope the expiry sweep uses.
func (q *Queue) finishPass(head *EnqueuedMessage, anyConsumed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// The head may have been purged, expired, or the queue deleted while
	// delivery was under way.
	if len(q.messages) == 0 || q.messages[0] != head {
		return
	}

	now := time.Now()
	switch {
	case anyConsumed && q.cfg.ConsumptionScheme == wire.FirstConsumer:
		q.messages = q.messages[1:]
	case q.cfg.MaxMessageAge > 0 && head.age(now) > q.cfg.MaxMessageAge:
		q.messages = q.messages[1:]
		q.totalExpired.Add(1)
		q.metrics.MessageExpired(q.cfg.Name, 1)
	default:
		subs := q.subs.snapshot()
		if len(subs) == 0 {
			return
		}
		for _, sub := range subs {
			if !head.isSatisfied(sub.ConnectionID) {
				return
			}
		}
		q.messages = q.messages[1:]
	}
}

// sweepExpiredLocked drops messages older than MaxMessageAge. Caller holds
// the message-list lock.
func (q *Queue) sweepExpiredLocked(now time.Time) {
	kept := q.messages[:0]
	expired := 0
	for _, m := range q.messages {
		if m.age(now) > q.cfg.MaxMessageAge {
			expired++
			continue
		}
		kept = append(kept, m)
	}
	q.messages = kept

	if expired > 0 {
		q.totalExpired.Add(uint64(expired))
		q.metrics.MessageExpired(q.cfg.Name, expired)
		q.logger.Debug("expired messages swept", slog.Int("count", expired))
	}
}
