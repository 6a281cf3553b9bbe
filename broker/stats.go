// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/google/uuid"

	"github.com/absmach/memq/wire"
)

// QueueInformation is a point-in-time management snapshot of one queue.
type QueueInformation struct {
	Config      wire.QueueConfig        `json:"config"`
	Depth       int                     `json:"depth"`
	Subscribers []SubscriberInformation `json:"subscribers"`

	TotalEnqueued  uint64 `json:"total_enqueued"`
	TotalDelivered uint64 `json:"total_delivered"`
	TotalExpired   uint64 `json:"total_expired"`
	TotalFailures  uint64 `json:"total_failures"`
}

// SubscriberInformation is a snapshot of one subscriber record.
type SubscriberInformation struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	LocalAddr    string    `json:"local_addr"`
	RemoteAddr   string    `json:"remote_addr"`

	DeliveryAttempts     uint64 `json:"delivery_attempts"`
	SuccessfulDeliveries uint64 `json:"successful_deliveries"`
	FailedDeliveries     uint64 `json:"failed_deliveries"`
	ConsumedMessages     uint64 `json:"consumed_messages"`
}

// MessageInformation is a snapshot of one enqueued message. Per-subscriber
// delivery state is omitted: it belongs to the delivery goroutine and is not
// safely readable from outside it.
type MessageInformation struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TypeTag   string    `json:"type"`
	BodyBytes int       `json:"body_bytes"`
}

// ServerInformation aggregates broker-wide counters for the health surface.
type ServerInformation struct {
	Connections int                `json:"connections"`
	Queues      []QueueInformation `json:"queues"`
}

// Information returns a snapshot of the queue's configuration, counters and
// subscribers.
func (q *Queue) Information() QueueInformation {
	subs := q.subs.snapshot()
	info := QueueInformation{
		Config:         q.cfg,
		Depth:          q.Depth(),
		Subscribers:    make([]SubscriberInformation, 0, len(subs)),
		TotalEnqueued:  q.totalEnqueued.Load(),
		TotalDelivered: q.totalDelivered.Load(),
		TotalExpired:   q.totalExpired.Load(),
		TotalFailures:  q.totalFailures.Load(),
	}
	for _, sub := range subs {
		info.Subscribers = append(info.Subscribers, SubscriberInformation{
			ConnectionID:         sub.ConnectionID,
			LocalAddr:            sub.LocalAddr,
			RemoteAddr:           sub.RemoteAddr,
			DeliveryAttempts:     sub.DeliveryAttempts.Load(),
			SuccessfulDeliveries: sub.SuccessfulDeliveries.Load(),
			FailedDeliveries:     sub.FailedDeliveries.Load(),
			ConsumedMessages:     sub.ConsumedMessages.Load(),
		})
	}
	return info
}

// Messages returns snapshots of the currently enqueued messages in order.
func (q *Queue) Messages() []MessageInformation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]MessageInformation, 0, len(q.messages))
	for _, m := range q.messages {
		out = append(out, MessageInformation{
			ID:        m.ID,
			Timestamp: m.Timestamp,
			TypeTag:   m.TypeTag,
			BodyBytes: len(m.Body),
		})
	}
	return out
}
