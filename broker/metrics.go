// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

// Metrics receives broker instrumentation events. The server/otel package
// provides the OpenTelemetry implementation; a nil Metrics falls back to a
// no-op.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	QueueCreated()
	QueueDeleted()
	SubscriberAdded(queue string)
	SubscriberRemoved(queue string)
	MessageEnqueued(queue string, bytes int)
	MessageDelivered(queue string)
	MessageExpired(queue string, count int)
	DeliveryFailed(queue string)
}

type noopMetrics struct{}

func (noopMetrics) ClientConnected()               {}
func (noopMetrics) ClientDisconnected()            {}
func (noopMetrics) QueueCreated()                  {}
func (noopMetrics) QueueDeleted()                  {}
func (noopMetrics) SubscriberAdded(string)         {}
func (noopMetrics) SubscriberRemoved(string)       {}
func (noopMetrics) MessageEnqueued(string, int)    {}
func (noopMetrics) MessageDelivered(string)        {}
func (noopMetrics) MessageExpired(string, int)     {}
func (noopMetrics) DeliveryFailed(string)          {}
