// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"strings"
	"time"
)

// ConsumptionScheme governs when a message may be removed from its queue.
type ConsumptionScheme string

const (
	// AllSubscribersSatisfied keeps the message queued until every
	// subscriber is satisfied: delivered, retries exhausted, or expired.
	AllSubscribersSatisfied ConsumptionScheme = "all-subscribers"
	// FirstConsumer removes the message as soon as any one subscriber
	// reports it consumed.
	FirstConsumer ConsumptionScheme = "first-consumer"
)

// DeliveryScheme orders subscriber attempts within one delivery pass.
type DeliveryScheme string

const (
	// RoundRobin keeps the subscriber snapshot order.
	RoundRobin DeliveryScheme = "round-robin"
	// Random shuffles pending subscribers independently on every pass, so
	// repeated passes over an unreachable subscriber do not starve the rest
	// deterministically.
	Random DeliveryScheme = "random"
)

// DefaultMaxDeliveryAttempts is applied when a configuration leaves the
// retry limit unset.
const DefaultMaxDeliveryAttempts = 10

// QueueConfig defines a queue. Immutable after queue creation; the name is
// the queue's case-insensitive identity.
type QueueConfig struct {
	Name string `json:"name" yaml:"name"`

	// MaxDeliveryAttempts caps delivery attempts per (message, subscriber)
	// pair. 0 means unlimited.
	MaxDeliveryAttempts int `json:"max_delivery_attempts" yaml:"max_delivery_attempts"`

	// MaxMessageAge expires messages that linger beyond it. 0 means never.
	MaxMessageAge time.Duration `json:"max_message_age" yaml:"max_message_age"`

	// BatchDeliveryInterval spaces out delivery passes. 0 means immediate.
	BatchDeliveryInterval time.Duration `json:"batch_delivery_interval" yaml:"batch_delivery_interval"`

	// DeliveryThrottle is slept between per-subscriber sends.
	DeliveryThrottle time.Duration `json:"delivery_throttle" yaml:"delivery_throttle"`

	ConsumptionScheme ConsumptionScheme `json:"consumption_scheme" yaml:"consumption_scheme"`
	DeliveryScheme    DeliveryScheme    `json:"delivery_scheme" yaml:"delivery_scheme"`
}

// DefaultQueueConfig returns a configuration mirroring the server defaults.
func DefaultQueueConfig(name string) QueueConfig {
	return QueueConfig{
		Name:                name,
		MaxDeliveryAttempts: DefaultMaxDeliveryAttempts,
		ConsumptionScheme:   AllSubscribersSatisfied,
		DeliveryScheme:      RoundRobin,
	}
}

// Key returns the case-insensitive identity of the queue.
func (c QueueConfig) Key() string {
	return strings.ToLower(c.Name)
}

// Normalize fills unset scheme fields with defaults.
func (c *QueueConfig) Normalize() {
	if c.ConsumptionScheme == "" {
		c.ConsumptionScheme = AllSubscribersSatisfied
	}
	if c.DeliveryScheme == "" {
		c.DeliveryScheme = RoundRobin
	}
}

// Validate reports whether the configuration describes a usable queue.
func (c QueueConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: empty queue name", ErrInvalidConfig)
	}
	if c.MaxDeliveryAttempts < 0 {
		return fmt.Errorf("%w: negative max delivery attempts", ErrInvalidConfig)
	}
	if c.MaxMessageAge < 0 || c.BatchDeliveryInterval < 0 || c.DeliveryThrottle < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	switch c.ConsumptionScheme {
	case AllSubscribersSatisfied, FirstConsumer:
	default:
		return fmt.Errorf("%w: consumption scheme %q", ErrInvalidConfig, c.ConsumptionScheme)
	}
	switch c.DeliveryScheme {
	case RoundRobin, Random:
	default:
		return fmt.Errorf("%w: delivery scheme %q", ErrInvalidConfig, c.DeliveryScheme)
	}
	return nil
}
