// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/absmach/memq/wire"
)

// Registry is the case-insensitive name → Queue map. All mutating
// operations serialize on one lock; Delete joins the queue's delivery
// goroutine before removing the entry, so no in-flight delivery ever
// references a removed queue.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue

	deliverer Deliverer
	logger    *slog.Logger
	metrics   Metrics
	onError   func(queue string, err error)
}

// NewRegistry creates an empty queue registry.
func NewRegistry(d Deliverer, logger *slog.Logger, metrics Metrics, onError func(string, error)) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	r := &Registry{
		queues:    make(map[string]*Queue),
		deliverer: d,
		logger:    logger,
		metrics:   metrics,
		onError:   onError,
	}
	return r
}

// Create validates the configuration, constructs the queue, starts its
// delivery goroutine and registers it. All-or-nothing: on any error no
// queue is left behind.
func (r *Registry) Create(cfg wire.QueueConfig) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cfg.Key()
	if _, ok := r.queues[key]; ok {
		return fmt.Errorf("%w: %q", wire.ErrAlreadyExists, cfg.Name)
	}

	q := newQueue(cfg, r.deliverer, r.logger, r.metrics, r.onError)
	q.Start()
	r.queues[key] = q

	r.metrics.QueueCreated()
	r.logger.Info("queue created",
		slog.String("queue", cfg.Name),
		slog.String("consumption_scheme", string(cfg.ConsumptionScheme)),
		slog.String("delivery_scheme", string(cfg.DeliveryScheme)))
	return nil
}

// Delete stops the queue's delivery goroutine, joining it, then removes the
// entry.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := wire.QueueConfig{Name: name}.Key()
	q, ok := r.queues[key]
	if !ok {
		return fmt.Errorf("%w: %q", wire.ErrNotFound, name)
	}

	q.Stop()
	delete(r.queues, key)

	r.metrics.QueueDeleted()
	r.logger.Info("queue deleted", slog.String("queue", name))
	return nil
}

// Get resolves a queue by its case-insensitive name.
func (r *Registry) Get(name string) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[wire.QueueConfig{Name: name}.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", wire.ErrNotFound, name)
	}
	return q, nil
}

// Exists reports whether a queue with the given name is registered.
func (r *Registry) Exists(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Purge clears a queue's message list.
func (r *Registry) Purge(name string) error {
	q, err := r.Get(name)
	if err != nil {
		return err
	}
	q.Purge()
	return nil
}

// Subscribe registers a connection on a queue.
func (r *Registry) Subscribe(name string, connID uuid.UUID, localAddr, remoteAddr string) error {
	q, err := r.Get(name)
	if err != nil {
		return err
	}
	q.Subscribe(connID, localAddr, remoteAddr)
	return nil
}

// Unsubscribe removes a connection from a queue.
func (r *Registry) Unsubscribe(name string, connID uuid.UUID) error {
	q, err := r.Get(name)
	if err != nil {
		return err
	}
	q.Unsubscribe(connID)
	return nil
}

// Enqueue appends an item to the named queue.
func (r *Registry) Enqueue(name string, m *EnqueuedMessage) error {
	q, err := r.Get(name)
	if err != nil {
		return err
	}
	q.Enqueue(m)
	return nil
}

// RemoveConnection scrubs the connection from every queue's subscriber set.
// Called on disconnect so no future delivery attempt targets the gone peer.
func (r *Registry) RemoveConnection(connID uuid.UUID) {
	for _, q := range r.Queues() {
		q.Unsubscribe(connID)
	}
}

// Queues returns a snapshot of the registered queues sorted by name.
func (r *Registry) Queues() []*Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Shutdown stops every queue, joining all delivery goroutines, and clears
// the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, q := range r.queues {
		q.Stop()
		delete(r.queues, key)
	}
}
