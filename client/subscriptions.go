// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"strings"
	"sync"
)

// subscriptionRegistry remembers subscribed queues so they can be
// re-established after a reconnect.
type subscriptionRegistry struct {
	mu     sync.RWMutex
	queues map[string]string
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{queues: make(map[string]string)}
}

func (r *subscriptionRegistry) add(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[strings.ToLower(queue)] = queue
}

func (r *subscriptionRegistry) remove(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, strings.ToLower(queue))
}

func (r *subscriptionRegistry) snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	queues := make([]string, 0, len(r.queues))
	for _, name := range r.queues {
		queues = append(queues, name)
	}
	return queues
}
