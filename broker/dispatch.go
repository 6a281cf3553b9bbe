// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/google/uuid"

	"github.com/absmach/memq/broker/events"
	"github.com/absmach/memq/codec"
	"github.com/absmach/memq/core"
	"github.com/absmach/memq/wire"
)

// dispatch maps a control payload to the matching registry operation. The
// second return is false when the payload is not a control payload at all.
func (s *Server) dispatch(c *core.Connection, p codec.Payload) (wire.OpReply, bool) {
	switch v := p.(type) {
	case wire.CreateQueue:
		err := s.registry.Create(v.Config)
		if err == nil {
			s.events.Publish(events.QueueCreated{Queue: v.Config.Name, At: time.Now().UTC()})
		}
		return wire.Nack(err), true

	case wire.DeleteQueue:
		err := s.registry.Delete(v.Name)
		if err == nil {
			s.events.Publish(events.QueueDeleted{Queue: v.Name, At: time.Now().UTC()})
		}
		return wire.Nack(err), true

	case wire.PurgeQueue:
		return wire.Nack(s.registry.Purge(v.Name)), true

	case wire.Subscribe:
		return wire.Nack(s.registry.Subscribe(v.Name, c.ID(), c.LocalAddr().String(), c.RemoteAddr().String())), true

	case wire.Unsubscribe:
		return wire.Nack(s.registry.Unsubscribe(v.Name, c.ID())), true

	case wire.EnqueueMessage:
		m := newEnqueuedMessage(KindMessage, v.Type, "", v.Body, c.ID(), uuid.Nil)
		err := s.registry.Enqueue(v.Queue, m)
		if err == nil {
			s.events.Publish(events.MessageEnqueued{
				Queue:     v.Queue,
				MessageID: m.ID.String(),
				Bytes:     len(v.Body),
				At:        time.Now().UTC(),
			})
		}
		return wire.Nack(err), true

	case wire.EnqueueQuery:
		m := newEnqueuedMessage(KindQuery, v.Type, v.ReplyType, v.Body, c.ID(), v.QueryID)
		return wire.Nack(s.registry.Enqueue(v.Queue, m)), true

	case wire.EnqueueQueryReply:
		m := newEnqueuedMessage(KindQueryReply, v.Type, v.ReplyType, v.Body, v.OriginID, v.QueryID)
		return wire.Nack(s.registry.Enqueue(v.Queue, m)), true

	default:
		return wire.OpReply{}, false
	}
}
