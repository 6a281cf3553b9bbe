// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"time"

	"github.com/absmach/memq/codec"
)

// Default values.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultControlTimeout = 10 * time.Second
	DefaultQueryTimeout   = 30 * time.Second
	DefaultReconnectMin   = 1 * time.Second
	DefaultReconnectMax   = 2 * time.Minute
)

// Delivery is a message handed to the client by the broker.
type Delivery struct {
	Queue     string
	MessageID string
	Payload   codec.Payload
}

// Options configures the queue client.
type Options struct {
	// Connection
	Servers        []string      // Broker addresses (host:port), tried in order
	ConnectTimeout time.Duration // Timeout for connection attempts

	// ControlTimeout bounds each control round trip (create, subscribe,
	// enqueue, ...). QueryTimeout is the default wait for queued query
	// answers.
	ControlTimeout time.Duration
	QueryTimeout   time.Duration

	// Reconnection
	AutoReconnect    bool          // Enable automatic reconnection
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxReconnectWait time.Duration // Maximum reconnect delay

	// Callbacks
	OnConnect        func()                                   // Called on successful connection
	OnConnectionLost func(error)                              // Called when connection is lost
	OnReconnecting   func(attempt int)                        // Called before each reconnect attempt
	OnMessage        func(d Delivery) bool                    // Called for queue messages; returns consumed
	OnQuery          func(d Delivery) (codec.Payload, error)  // Called for queued queries; returns the answer

	Logger *slog.Logger
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Servers:          []string{"localhost:45784"},
		ConnectTimeout:   DefaultConnectTimeout,
		ControlTimeout:   DefaultControlTimeout,
		QueryTimeout:     DefaultQueryTimeout,
		AutoReconnect:    true,
		ReconnectBackoff: DefaultReconnectMin,
		MaxReconnectWait: DefaultReconnectMax,
	}
}

// SetServers sets the broker addresses.
func (o *Options) SetServers(servers ...string) *Options {
	o.Servers = servers
	return o
}

// SetConnectTimeout sets the connection timeout.
func (o *Options) SetConnectTimeout(d time.Duration) *Options {
	o.ConnectTimeout = d
	return o
}

// SetControlTimeout sets the control round-trip timeout.
func (o *Options) SetControlTimeout(d time.Duration) *Options {
	o.ControlTimeout = d
	return o
}

// SetQueryTimeout sets the default wait for queued query answers.
func (o *Options) SetQueryTimeout(d time.Duration) *Options {
	o.QueryTimeout = d
	return o
}

// SetAutoReconnect enables or disables automatic reconnection.
func (o *Options) SetAutoReconnect(enable bool) *Options {
	o.AutoReconnect = enable
	return o
}

// SetOnConnect sets the connection callback.
func (o *Options) SetOnConnect(fn func()) *Options {
	o.OnConnect = fn
	return o
}

// SetOnConnectionLost sets the connection lost callback.
func (o *Options) SetOnConnectionLost(fn func(error)) *Options {
	o.OnConnectionLost = fn
	return o
}

// SetOnReconnecting sets the reconnecting callback.
func (o *Options) SetOnReconnecting(fn func(attempt int)) *Options {
	o.OnReconnecting = fn
	return o
}

// SetOnMessage sets the message handler callback.
func (o *Options) SetOnMessage(fn func(d Delivery) bool) *Options {
	o.OnMessage = fn
	return o
}

// SetOnQuery sets the queued-query handler callback.
func (o *Options) SetOnQuery(fn func(d Delivery) (codec.Payload, error)) *Options {
	o.OnQuery = fn
	return o
}

// SetLogger sets the structured logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// Validate checks the options for errors and fills zero timeouts with
// defaults.
func (o *Options) Validate() error {
	if len(o.Servers) == 0 {
		return ErrNoServers
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ControlTimeout <= 0 {
		o.ControlTimeout = DefaultControlTimeout
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = DefaultReconnectMin
	}
	if o.MaxReconnectWait <= 0 {
		o.MaxReconnectWait = DefaultReconnectMax
	}
	return nil
}
