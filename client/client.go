// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client implements the queue client: control calls, queue
// subscriptions with handler callbacks, queued queries, and automatic
// reconnection.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/memq/codec"
	"github.com/absmach/memq/core"
	"github.com/absmach/memq/wire"
)

// Client is a thread-safe queue client.
type Client struct {
	opts   *Options
	logger *slog.Logger

	state stateMachine

	connMu sync.RWMutex
	conn   *core.Connection
	done   <-chan struct{}

	// queries correlates queued query answers; the transport-level control
	// correlation lives inside core.Connection.
	queries *core.PendingTable

	subs *subscriptionRegistry

	reconnMu  sync.Mutex
	serverIdx int
}

// New creates a queue client with the given options.
func New(opts *Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:    opts,
		logger:  logger,
		queries: core.NewPendingTable(),
		subs:    newSubscriptionRegistry(),
	}, nil
}

// Connect establishes a connection to the broker and re-establishes any
// remembered subscriptions.
func (c *Client) Connect() error {
	if c.state.isClosed() {
		return ErrClientClosed
	}
	if !c.state.transitionFrom(StateConnecting, StateDisconnected, StateReconnecting) {
		return ErrAlreadyConnected
	}

	if err := c.doConnect(); err != nil {
		c.state.set(StateDisconnected)
		return err
	}
	c.state.set(StateConnected)

	c.resubscribe()

	if c.opts.OnConnect != nil {
		go c.opts.OnConnect()
	}
	return nil
}

func (c *Client) doConnect() error {
	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}

	var lastErr error
	for i := range c.opts.Servers {
		idx := (c.serverIdx + i) % len(c.opts.Servers)
		addr := c.opts.Servers[idx]

		raw, err := dialer.Dial("tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}

		conn := core.NewConnection(raw, c, c.logger)
		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()

		c.done = conn.Start()
		c.serverIdx = idx
		return nil
	}

	return fmt.Errorf("%w: %v", ErrConnectFailed, lastErr)
}

// Disconnect closes the connection without triggering reconnection. The
// subscription registry is kept, so a later Connect resubscribes.
func (c *Client) Disconnect() error {
	if !c.state.transitionFrom(StateDisconnected, StateConnected, StateConnecting, StateReconnecting) {
		return ErrNotConnected
	}
	c.closeCurrent()
	return nil
}

// Close permanently shuts the client down. A closed client cannot reconnect.
func (c *Client) Close() error {
	if c.state.isClosed() {
		return nil
	}
	c.state.set(StateClosed)
	c.closeCurrent()
	return nil
}

func (c *Client) closeCurrent() {
	c.connMu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.connMu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	if done != nil {
		<-done
	}
}

// State returns the current connection state.
func (c *Client) State() State { return c.state.get() }

// IsConnected reports whether the client currently holds an established
// connection.
func (c *Client) IsConnected() bool { return c.state.isConnected() }

// CreateQueue creates a queue with the given configuration.
func (c *Client) CreateQueue(cfg wire.QueueConfig) error {
	return c.control(wire.CreateQueue{Config: cfg})
}

// DeleteQueue removes a queue, dropping its messages and subscribers.
func (c *Client) DeleteQueue(name string) error {
	return c.control(wire.DeleteQueue{Name: name})
}

// PurgeQueue clears a queue's messages without touching subscribers.
func (c *Client) PurgeQueue(name string) error {
	return c.control(wire.PurgeQueue{Name: name})
}

// Subscribe registers this client as a subscriber of the queue. Deliveries
// arrive on the OnMessage and OnQuery callbacks.
func (c *Client) Subscribe(name string) error {
	if err := c.control(wire.Subscribe{Name: name}); err != nil {
		return err
	}
	c.subs.add(name)
	return nil
}

// Unsubscribe removes this client from the queue's subscribers.
func (c *Client) Unsubscribe(name string) error {
	c.subs.remove(name)
	return c.control(wire.Unsubscribe{Name: name})
}

// Enqueue publishes a one-way message to the queue.
func (c *Client) Enqueue(queue string, p codec.Payload) error {
	tag, body, err := codec.Encode(p)
	if err != nil {
		return err
	}
	return c.control(wire.EnqueueMessage{Queue: queue, Type: tag, Body: body})
}

// Query publishes a query to the queue and blocks until a subscriber's
// answer is routed back or the timeout elapses. A zero timeout uses the
// configured default.
func (c *Client) Query(queue string, p codec.Payload, timeout time.Duration) (codec.Payload, error) {
	if timeout <= 0 {
		timeout = c.opts.QueryTimeout
	}

	tag, body, err := codec.Encode(p)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	w := c.queries.Begin(id)

	if err := c.control(wire.EnqueueQuery{Queue: queue, QueryID: id, Type: tag, Body: body}); err != nil {
		c.queries.Fulfill(id, nil, err)
		return nil, err
	}

	return c.queries.Await(w, timeout)
}

// control performs one blocking control round trip.
func (c *Client) control(p codec.Payload) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	res, err := conn.Query(p, c.opts.ControlTimeout)
	if err != nil {
		return err
	}

	reply, ok := res.(wire.OpReply)
	if !ok {
		return fmt.Errorf("unexpected control reply payload %q", res.TypeTag())
	}
	return reply.Err()
}

func (c *Client) current() *core.Connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) resubscribe() {
	for _, queue := range c.subs.snapshot() {
		if err := c.control(wire.Subscribe{Name: queue}); err != nil {
			c.logger.Warn("resubscribe failed",
				slog.String("queue", queue),
				slog.Any("error", err))
		}
	}
}

// OnConnected implements core.Handler.
func (c *Client) OnConnected(conn *core.Connection) {}

// OnDisconnected implements core.Handler.
func (c *Client) OnDisconnected(conn *core.Connection) {
	c.connMu.Lock()
	if c.conn != conn {
		// A stale connection's receive loop unwound after a reconnect.
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	c.connMu.Unlock()

	c.handleConnectionLost(ErrConnectionLost)
}

func (c *Client) handleConnectionLost(err error) {
	if !c.state.transition(StateConnected, StateDisconnected) {
		return
	}

	c.queries.FailAll(err)

	if c.opts.OnConnectionLost != nil {
		go c.opts.OnConnectionLost(err)
	}

	if c.opts.AutoReconnect && !c.state.isClosed() {
		go c.reconnect()
	}
}

func (c *Client) reconnect() {
	c.reconnMu.Lock()
	defer c.reconnMu.Unlock()

	if !c.state.transition(StateDisconnected, StateReconnecting) {
		return
	}

	delay := c.opts.ReconnectBackoff
	attempt := 0

	for !c.state.isClosed() {
		attempt++

		if c.opts.OnReconnecting != nil {
			c.opts.OnReconnecting(attempt)
		}

		err := c.Connect()
		if err == nil || err == ErrAlreadyConnected || err == ErrClientClosed {
			return
		}

		time.Sleep(delay)
		delay *= 2
		if delay > c.opts.MaxReconnectWait {
			delay = c.opts.MaxReconnectWait
		}
	}
}

// OnNotification implements core.Handler, correlating queued query answers
// back to their waiters.
func (c *Client) OnNotification(conn *core.Connection, p codec.Payload) error {
	switch v := p.(type) {
	case wire.DeliverQueryReply:
		payload, err := codec.Decode(v.Type, v.Body)
		if !c.queries.Fulfill(v.QueryID, payload, err) {
			c.logger.Debug("query answer for unknown id discarded",
				slog.String("query_id", v.QueryID.String()))
		}
		return nil
	default:
		return fmt.Errorf("unsupported notification payload %q", p.TypeTag())
	}
}

// OnQuery implements core.Handler, producing the consumption verdict for a
// delivery.
func (c *Client) OnQuery(conn *core.Connection, p codec.Payload) (codec.Payload, error) {
	v, ok := p.(wire.DeliverMessage)
	if !ok {
		return nil, fmt.Errorf("unsupported query payload %q", p.TypeTag())
	}

	payload, err := codec.Decode(v.Type, v.Body)
	if err != nil {
		return nil, err
	}

	d := Delivery{Queue: v.Queue, MessageID: v.MessageID.String(), Payload: payload}

	if v.QueryID != uuid.Nil {
		return c.answerQuery(v, d)
	}

	consumed := false
	if c.opts.OnMessage != nil {
		consumed = c.opts.OnMessage(d)
	}
	return wire.DeliverReply{Consumed: consumed}, nil
}

// answerQuery runs the query callback and enqueues its answer back through
// the queue, addressed to the originating connection.
func (c *Client) answerQuery(v wire.DeliverMessage, d Delivery) (codec.Payload, error) {
	if c.opts.OnQuery == nil {
		return wire.DeliverReply{Consumed: false}, nil
	}

	answer, err := c.opts.OnQuery(d)
	if err != nil {
		c.logger.Warn("query handler failed",
			slog.String("queue", d.Queue),
			slog.Any("error", err))
		return wire.DeliverReply{Consumed: false}, nil
	}

	tag, body, err := codec.Encode(answer)
	if err != nil {
		return nil, err
	}

	reply := wire.EnqueueQueryReply{
		Queue:    v.Queue,
		QueryID:  v.QueryID,
		OriginID: v.OriginID,
		Type:     tag,
		Body:     body,
	}
	if err := c.control(reply); err != nil {
		return nil, err
	}
	return wire.DeliverReply{Consumed: true}, nil
}
