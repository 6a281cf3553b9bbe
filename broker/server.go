// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/memq/broker/events"
	"github.com/absmach/memq/codec"
	"github.com/absmach/memq/core"
	"github.com/absmach/memq/wire"
)

// DefaultDeliveryTimeout bounds the blocking round trip to a subscriber.
const DefaultDeliveryTimeout = 30 * time.Second

// Options configures a broker server.
type Options struct {
	Logger  *slog.Logger
	Metrics Metrics
	Events  events.Sink

	// DeliveryTimeout is how long a delivery round trip may block before it
	// counts as a delivery failure.
	DeliveryTimeout time.Duration

	// OnConnected and OnDisconnected observe connection lifecycle.
	OnConnected    func(connID uuid.UUID)
	OnDisconnected func(connID uuid.UUID)

	// OnError observes per-queue delivery exceptions. Delivery failures are
	// retried by the delivery loop and are never fatal to the queue.
	OnError func(queue string, err error)
}

// Server is the broker facade: it owns the queue registry and the set of
// live connections, dispatches inbound control frames to registry
// operations, and performs deliveries on behalf of queue delivery
// goroutines.
type Server struct {
	opts     Options
	logger   *slog.Logger
	metrics  Metrics
	events   events.Sink
	registry *Registry

	connMu sync.RWMutex
	conns  map[uuid.UUID]*core.Connection
}

// NewServer creates a broker server. Listeners hand accepted connections to
// HandleConnection.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.DeliveryTimeout == 0 {
		opts.DeliveryTimeout = DefaultDeliveryTimeout
	}

	s := &Server{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		events:  opts.Events,
		conns:   make(map[uuid.UUID]*core.Connection),
	}
	s.registry = NewRegistry(s, opts.Logger, opts.Metrics, opts.OnError)
	return s
}

// Registry exposes the queue registry for embedded and management use.
func (s *Server) Registry() *Registry { return s.registry }

// HandleConnection serves one accepted transport connection until it closes
// or ctx is cancelled.
func (s *Server) HandleConnection(ctx context.Context, conn net.Conn) {
	c := core.NewConnection(conn, s, s.logger)
	done := c.Start()

	select {
	case <-ctx.Done():
		_ = c.Close()
		<-done
	case <-done:
	}
}

// Shutdown stops every queue and closes every live connection.
func (s *Server) Shutdown() {
	s.connMu.Lock()
	conns := make([]*core.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	s.registry.Shutdown()
}

// Information returns a broker-wide management snapshot.
func (s *Server) Information() ServerInformation {
	s.connMu.RLock()
	connections := len(s.conns)
	s.connMu.RUnlock()

	queues := s.registry.Queues()
	info := ServerInformation{
		Connections: connections,
		Queues:      make([]QueueInformation, 0, len(queues)),
	}
	for _, q := range queues {
		info.Queues = append(info.Queues, q.Information())
	}
	return info
}

// OnConnected implements core.Handler.
func (s *Server) OnConnected(c *core.Connection) {
	s.connMu.Lock()
	s.conns[c.ID()] = c
	s.connMu.Unlock()

	s.metrics.ClientConnected()
	s.events.Publish(events.ClientConnected{
		ConnectionID: c.ID().String(),
		RemoteAddr:   c.RemoteAddr().String(),
		At:           time.Now().UTC(),
	})
	s.logger.Info("client connected",
		slog.String("connection_id", c.ID().String()),
		slog.String("remote_addr", c.RemoteAddr().String()))

	if s.opts.OnConnected != nil {
		s.opts.OnConnected(c.ID())
	}
}

// OnDisconnected implements core.Handler. The connection is scrubbed from
// every queue's subscriber set before the disconnected event fires.
func (s *Server) OnDisconnected(c *core.Connection) {
	s.registry.RemoveConnection(c.ID())

	s.connMu.Lock()
	delete(s.conns, c.ID())
	s.connMu.Unlock()

	s.metrics.ClientDisconnected()
	s.events.Publish(events.ClientDisconnected{
		ConnectionID: c.ID().String(),
		At:           time.Now().UTC(),
	})
	s.logger.Info("client disconnected", slog.String("connection_id", c.ID().String()))

	if s.opts.OnDisconnected != nil {
		s.opts.OnDisconnected(c.ID())
	}
}

// OnNotification implements core.Handler. Control payloads are accepted as
// notifications for fire-and-forget callers; anything else is a protocol
// violation fatal to the connection.
func (s *Server) OnNotification(c *core.Connection, p codec.Payload) error {
	reply, ok := s.dispatch(c, p)
	if !ok {
		return fmt.Errorf("unsupported notification payload %q", p.TypeTag())
	}
	if !reply.OK {
		s.logger.Warn("control notification rejected",
			slog.String("connection_id", c.ID().String()),
			slog.String("payload", p.TypeTag()),
			slog.String("error", reply.Error))
	}
	return nil
}

// OnQuery implements core.Handler, producing the control reply.
func (s *Server) OnQuery(c *core.Connection, p codec.Payload) (codec.Payload, error) {
	reply, ok := s.dispatch(c, p)
	if !ok {
		return nil, fmt.Errorf("unsupported query payload %q", p.TypeTag())
	}
	return reply, nil
}

// DeliverMessage implements Deliverer with a blocking request/reply round
// trip to the subscriber's connection.
func (s *Server) DeliverMessage(connID uuid.UUID, queueName string, m *EnqueuedMessage) (bool, error) {
	c := s.connection(connID)
	if c == nil {
		return false, fmt.Errorf("deliver to %s: connection not established", connID)
	}

	payload := wire.DeliverMessage{
		Queue:     queueName,
		MessageID: m.ID,
		Type:      m.TypeTag,
		Body:      m.Body,
	}
	if m.Kind == KindQuery {
		payload.QueryID = m.QueryID
		payload.OriginID = m.OriginID
		payload.ReplyType = m.ReplyTag
	}

	res, err := c.Query(payload, s.opts.DeliveryTimeout)
	if err != nil {
		return false, err
	}

	reply, ok := res.(wire.DeliverReply)
	if !ok {
		return false, fmt.Errorf("unexpected delivery reply payload %q", res.TypeTag())
	}
	return reply.Consumed, nil
}

// DeliverQueryReply implements Deliverer, notifying only the originating
// connection.
func (s *Server) DeliverQueryReply(connID uuid.UUID, queueName string, m *EnqueuedMessage) error {
	c := s.connection(connID)
	if c == nil {
		return fmt.Errorf("deliver reply to %s: connection not established", connID)
	}

	return c.Notify(wire.DeliverQueryReply{
		Queue:   queueName,
		QueryID: m.QueryID,
		Type:    m.TypeTag,
		Body:    m.Body,
	})
}

func (s *Server) connection(id uuid.UUID) *core.Connection {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conns[id]
}
