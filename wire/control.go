// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the control-plane payloads exchanged between queue
// clients and the broker. Every payload registers itself with the codec so
// either side can decode it by type tag alone.
package wire

import (
	"github.com/google/uuid"

	"github.com/absmach/memq/codec"
)

// CreateQueue asks the broker to create a queue. Replied with OpReply.
type CreateQueue struct {
	Config QueueConfig `json:"config"`
}

func (CreateQueue) TypeTag() string { return "memq.create-queue" }

// DeleteQueue stops and removes a queue.
type DeleteQueue struct {
	Name string `json:"name"`
}

func (DeleteQueue) TypeTag() string { return "memq.delete-queue" }

// PurgeQueue clears a queue's message list, leaving subscribers and
// configuration untouched.
type PurgeQueue struct {
	Name string `json:"name"`
}

func (PurgeQueue) TypeTag() string { return "memq.purge-queue" }

// Subscribe registers the calling connection as a subscriber.
type Subscribe struct {
	Name string `json:"name"`
}

func (Subscribe) TypeTag() string { return "memq.subscribe" }

// Unsubscribe removes the calling connection from a queue's subscriber set.
type Unsubscribe struct {
	Name string `json:"name"`
}

func (Unsubscribe) TypeTag() string { return "memq.unsubscribe" }

// EnqueueMessage places a one-way message on a queue.
type EnqueueMessage struct {
	Queue string `json:"queue"`
	Type  string `json:"type"`
	Body  []byte `json:"body"`
}

func (EnqueueMessage) TypeTag() string { return "memq.enqueue-message" }

// EnqueueQuery places a request on a queue. Some subscriber is expected to
// answer it with EnqueueQueryReply carrying the same QueryID.
type EnqueueQuery struct {
	Queue     string    `json:"queue"`
	QueryID   uuid.UUID `json:"query_id"`
	Type      string    `json:"type"`
	Body      []byte    `json:"body"`
	ReplyType string    `json:"reply_type"`
}

func (EnqueueQuery) TypeTag() string { return "memq.enqueue-query" }

// EnqueueQueryReply places the answer to a queued query back on the queue.
// The broker routes it only to the connection that originated the query;
// OriginID is echoed from the DeliverMessage that carried the query.
type EnqueueQueryReply struct {
	Queue     string    `json:"queue"`
	QueryID   uuid.UUID `json:"query_id"`
	OriginID  uuid.UUID `json:"origin_id"`
	Type      string    `json:"type"`
	Body      []byte    `json:"body"`
	ReplyType string    `json:"reply_type"`
}

func (EnqueueQueryReply) TypeTag() string { return "memq.enqueue-query-reply" }

// OpReply acknowledges a control operation.
type OpReply struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func (OpReply) TypeTag() string { return "memq.op-reply" }

// DeliverMessage carries a queued message (or queued query) from the broker
// to a subscriber. Sent as a blocking query; the subscriber answers with
// DeliverReply.
type DeliverMessage struct {
	Queue     string    `json:"queue"`
	MessageID uuid.UUID `json:"message_id"`
	Type      string    `json:"type"`
	Body      []byte    `json:"body"`
	// QueryID, OriginID and ReplyType are set when the delivered item is a
	// queued query awaiting an application-level answer.
	QueryID   uuid.UUID `json:"query_id,omitempty"`
	OriginID  uuid.UUID `json:"origin_id,omitempty"`
	ReplyType string    `json:"reply_type,omitempty"`
}

func (DeliverMessage) TypeTag() string { return "memq.deliver-message" }

// DeliverReply is the subscriber's verdict on a DeliverMessage query. The
// consumed flag is an application-level acknowledgement, independent of
// transport-level delivery success.
type DeliverReply struct {
	Consumed bool `json:"consumed"`
}

func (DeliverReply) TypeTag() string { return "memq.deliver-reply" }

// DeliverQueryReply routes a queued query's answer back to the originating
// connection. Sent as a notification; the originator correlates by QueryID.
type DeliverQueryReply struct {
	Queue   string    `json:"queue"`
	QueryID uuid.UUID `json:"query_id"`
	Type    string    `json:"type"`
	Body    []byte    `json:"body"`
}

func (DeliverQueryReply) TypeTag() string { return "memq.deliver-query-reply" }

func init() {
	codec.Register[CreateQueue]()
	codec.Register[DeleteQueue]()
	codec.Register[PurgeQueue]()
	codec.Register[Subscribe]()
	codec.Register[Unsubscribe]()
	codec.Register[EnqueueMessage]()
	codec.Register[EnqueueQuery]()
	codec.Register[EnqueueQueryReply]()
	codec.Register[OpReply]()
	codec.Register[DeliverMessage]()
	codec.Register[DeliverReply]()
	codec.Register[DeliverQueryReply]()
}
