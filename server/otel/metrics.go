// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the broker instruments. It satisfies the broker's
// Metrics interface, so it can be plugged straight into the server
// options.
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsCurrent metric.Int64UpDownCounter
	queuesCurrent      metric.Int64UpDownCounter
	subscribersCurrent metric.Int64UpDownCounter
	messagesEnqueued   metric.Int64Counter
	messagesDelivered  metric.Int64Counter
	messagesExpired    metric.Int64Counter
	deliveryFailures   metric.Int64Counter
	bytesEnqueued      metric.Int64Counter
	messageSize        metric.Int64Histogram
}

// NewMetrics creates the broker instruments on the global meter
// provider. Call InitProvider first so measurements reach the
// configured exporter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("memq-broker")

	m := &Metrics{}
	var err error

	if m.connectionsTotal, err = meter.Int64Counter(
		"memq.connections.total",
		metric.WithDescription("Total client connections accepted"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}

	if m.connectionsCurrent, err = meter.Int64UpDownCounter(
		"memq.connections.current",
		metric.WithDescription("Currently connected clients"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connections gauge: %w", err)
	}

	if m.queuesCurrent, err = meter.Int64UpDownCounter(
		"memq.queues.current",
		metric.WithDescription("Currently defined queues"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queues gauge: %w", err)
	}

	if m.subscribersCurrent, err = meter.Int64UpDownCounter(
		"memq.subscribers.current",
		metric.WithDescription("Currently registered subscribers"),
	); err != nil {
		return nil, fmt.Errorf("failed to create subscribers gauge: %w", err)
	}

	if m.messagesEnqueued, err = meter.Int64Counter(
		"memq.messages.enqueued",
		metric.WithDescription("Messages accepted for delivery"),
	); err != nil {
		return nil, fmt.Errorf("failed to create enqueued counter: %w", err)
	}

	if m.messagesDelivered, err = meter.Int64Counter(
		"memq.messages.delivered",
		metric.WithDescription("Messages consumed by a subscriber"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delivered counter: %w", err)
	}

	if m.messagesExpired, err = meter.Int64Counter(
		"memq.messages.expired",
		metric.WithDescription("Messages dropped past their max age"),
	); err != nil {
		return nil, fmt.Errorf("failed to create expired counter: %w", err)
	}

	if m.deliveryFailures, err = meter.Int64Counter(
		"memq.deliveries.failed",
		metric.WithDescription("Delivery attempts that failed or were not consumed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}

	if m.bytesEnqueued, err = meter.Int64Counter(
		"memq.bytes.enqueued",
		metric.WithDescription("Payload bytes accepted for delivery"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create bytes counter: %w", err)
	}

	if m.messageSize, err = meter.Int64Histogram(
		"memq.message.size",
		metric.WithDescription("Distribution of enqueued payload sizes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create size histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) ClientConnected() {
	ctx := context.Background()
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, 1)
}

func (m *Metrics) ClientDisconnected() {
	m.connectionsCurrent.Add(context.Background(), -1)
}

func (m *Metrics) QueueCreated() {
	m.queuesCurrent.Add(context.Background(), 1)
}

func (m *Metrics) QueueDeleted() {
	m.queuesCurrent.Add(context.Background(), -1)
}

func (m *Metrics) SubscriberAdded(queue string) {
	m.subscribersCurrent.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) SubscriberRemoved(queue string) {
	m.subscribersCurrent.Add(context.Background(), -1,
		metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) MessageEnqueued(queue string, bytes int) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("queue", queue))
	m.messagesEnqueued.Add(ctx, 1, attrs)
	m.bytesEnqueued.Add(ctx, int64(bytes), attrs)
	m.messageSize.Record(ctx, int64(bytes), attrs)
}

func (m *Metrics) MessageDelivered(queue string) {
	m.messagesDelivered.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) MessageExpired(queue string, count int) {
	m.messagesExpired.Add(context.Background(), int64(count),
		metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) DeliveryFailed(queue string) {
	m.deliveryFailures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("queue", queue)))
}
