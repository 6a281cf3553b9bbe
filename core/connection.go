// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/memq/codec"
)

// ErrClosed indicates an operation on a connection that is no longer
// established.
var ErrClosed = errors.New("connection closed")

// RemoteError carries a failure reported by the remote peer's query handler.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// Handler is the connection-event contract shared by the client and server
// roles. Each role supplies its own implementation.
type Handler interface {
	OnConnected(c *Connection)
	OnDisconnected(c *Connection)

	// OnNotification handles a fire-and-forget payload. It runs on the
	// receive loop, so inbound notifications are observed in wire order.
	OnNotification(c *Connection, p codec.Payload) error

	// OnQuery produces the reply for an inbound query. It runs on its own
	// goroutine and may itself block on further network calls.
	OnQuery(c *Connection, p codec.Payload) (codec.Payload, error)
}

// Connection wraps one transport session. It owns the receive loop that
// decodes frames and dispatches them to the handler, and exposes Notify and
// Query to its owner.
type Connection struct {
	id      uuid.UUID
	conn    net.Conn
	reader  *bufio.Reader
	handler Handler
	pending *PendingTable
	logger  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection wraps an established net.Conn. The connection does nothing
// until Start is called.
func NewConnection(conn net.Conn, handler Handler, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		id:      uuid.New(),
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, codec.InitialBufferSize),
		handler: handler,
		pending: NewPendingTable(),
		logger:  logger,
	}
}

// ID returns the connection id assigned at accept/connect time.
func (c *Connection) ID() uuid.UUID { return c.id }

// LocalAddr returns the local endpoint of the underlying transport.
func (c *Connection) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the remote endpoint of the underlying transport.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Start fires the connected event and launches the receive loop. The
// returned channel closes when the receive loop exits.
func (c *Connection) Start() <-chan struct{} {
	c.done = make(chan struct{})
	c.handler.OnConnected(c)

	go c.receiveLoop()
	return c.done
}

// Close tears down the transport. Safe to call more than once; the receive
// loop observes the closed socket and runs disconnect cleanup.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Notify sends a fire-and-forget payload.
func (c *Connection) Notify(p codec.Payload) error {
	return c.send(&codec.Envelope{Kind: codec.KindNotify}, p)
}

// Query sends a payload and blocks until the correlated reply arrives or the
// timeout elapses. On timeout the pending entry is removed; a late reply is
// silently discarded as an unknown id.
func (c *Connection) Query(p codec.Payload, timeout time.Duration) (codec.Payload, error) {
	id := uuid.New()
	w := c.pending.Begin(id)

	if err := c.send(&codec.Envelope{Kind: codec.KindQuery, ID: id}, p); err != nil {
		c.pending.Fulfill(id, nil, err)
		<-w.done
		return nil, err
	}

	return c.pending.Await(w, timeout)
}

func (c *Connection) send(env *codec.Envelope, p codec.Payload) error {
	tag, body, err := codec.Encode(p)
	if err != nil {
		return err
	}
	env.Type = tag
	env.Body = body

	return c.writeEnvelope(env)
}

func (c *Connection) writeEnvelope(env *codec.Envelope) error {
	data, err := codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return codec.WriteFrame(c.conn, data)
}

func (c *Connection) receiveLoop() {
	defer func() {
		_ = c.Close()
		c.pending.FailAll(ErrClosed)
		c.handler.OnDisconnected(c)
		close(c.done)
	}()

	for {
		frame, err := codec.ReadFrame(c.reader)
		if err != nil {
			c.logger.Debug("receive loop exiting",
				slog.String("connection_id", c.id.String()),
				slog.Any("error", err))
			return
		}

		env, err := codec.DecodeEnvelope(frame)
		if err != nil {
			c.logger.Error("malformed frame, dropping connection",
				slog.String("connection_id", c.id.String()),
				slog.Any("error", err))
			return
		}

		switch env.Kind {
		case codec.KindReply:
			c.dispatchReply(env)
		case codec.KindQuery:
			go c.dispatchQuery(env)
		case codec.KindNotify:
			if err := c.dispatchNotification(env); err != nil {
				c.logger.Error("protocol violation, dropping connection",
					slog.String("connection_id", c.id.String()),
					slog.Any("error", err))
				return
			}
		default:
			c.logger.Error("protocol violation, dropping connection",
				slog.String("connection_id", c.id.String()),
				slog.String("kind", string(env.Kind)))
			return
		}
	}
}

func (c *Connection) dispatchReply(env *codec.Envelope) {
	var (
		payload codec.Payload
		err     error
	)

	if env.Error != "" {
		err = &RemoteError{Message: env.Error}
	} else {
		payload, err = codec.Decode(env.Type, env.Body)
	}

	if !c.pending.Fulfill(env.ID, payload, err) {
		// Expected race: the waiter timed out before the reply arrived.
		c.logger.Debug("reply for unknown query id discarded",
			slog.String("connection_id", c.id.String()),
			slog.String("query_id", env.ID.String()))
	}
}

func (c *Connection) dispatchQuery(env *codec.Envelope) {
	reply := &codec.Envelope{Kind: codec.KindReply, ID: env.ID}

	payload, err := codec.Decode(env.Type, env.Body)
	if err == nil {
		payload, err = c.handler.OnQuery(c, payload)
	}

	if err != nil {
		reply.Error = err.Error()
		if werr := c.writeEnvelope(reply); werr != nil {
			c.logger.Debug("failed to write error reply", slog.Any("error", werr))
		}
		return
	}

	if err := c.send(reply, payload); err != nil {
		c.logger.Debug("failed to write reply", slog.Any("error", err))
	}
}

func (c *Connection) dispatchNotification(env *codec.Envelope) error {
	payload, err := codec.Decode(env.Type, env.Body)
	if err != nil {
		return fmt.Errorf("notification %q: %w", env.Type, err)
	}
	return c.handler.OnNotification(c, payload)
}
