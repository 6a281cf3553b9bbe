// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines broker lifecycle events and an asynchronous webhook
// notifier that pushes them to HTTP endpoints.
package events

import "time"

// Event is implemented by every broker event.
type Event interface {
	Type() string
}

// ClientConnected fires when a connection is accepted.
type ClientConnected struct {
	ConnectionID string    `json:"connection_id"`
	RemoteAddr   string    `json:"remote_addr"`
	At           time.Time `json:"at"`
}

func (ClientConnected) Type() string { return "client.connected" }

// ClientDisconnected fires when a connection's receive loop exits.
type ClientDisconnected struct {
	ConnectionID string    `json:"connection_id"`
	At           time.Time `json:"at"`
}

func (ClientDisconnected) Type() string { return "client.disconnected" }

// QueueCreated fires on successful queue creation.
type QueueCreated struct {
	Queue string    `json:"queue"`
	At    time.Time `json:"at"`
}

func (QueueCreated) Type() string { return "queue.created" }

// QueueDeleted fires when a queue is stopped and removed.
type QueueDeleted struct {
	Queue string    `json:"queue"`
	At    time.Time `json:"at"`
}

func (QueueDeleted) Type() string { return "queue.deleted" }

// MessageEnqueued fires when an item is accepted onto a queue.
type MessageEnqueued struct {
	Queue     string    `json:"queue"`
	MessageID string    `json:"message_id"`
	Bytes     int       `json:"bytes"`
	At        time.Time `json:"at"`
}

func (MessageEnqueued) Type() string { return "message.enqueued" }

// Sink receives broker events. The webhook Notifier implements it; a nil
// sink is replaced by Discard.
type Sink interface {
	Publish(ev Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}
