// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Endpoint is one webhook destination with optional event-type filters.
type Endpoint struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// NotifierConfig tunes the webhook notifier.
type NotifierConfig struct {
	Endpoints        []Endpoint    `yaml:"endpoints"`
	QueueSize        int           `yaml:"queue_size"`
	Workers          int           `yaml:"workers"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

type job struct {
	event    Event
	endpoint *endpoint
}

type endpoint struct {
	Endpoint
	filters map[string]bool
	breaker *gobreaker.CircuitBreaker
}

// Notifier fans broker events out to HTTP endpoints through a worker pool.
// A per-endpoint circuit breaker keeps a dead endpoint from stalling the
// queue of events for the healthy ones.
type Notifier struct {
	endpoints []*endpoint
	jobs      chan job
	client    *http.Client
	logger    *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// NewNotifier starts the worker pool. Close flushes and stops it.
func NewNotifier(cfg NotifierConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		jobs:   make(chan job, cfg.QueueSize),
		client: &http.Client{},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	for _, ep := range cfg.Endpoints {
		filters := make(map[string]bool, len(ep.Events))
		for _, t := range ep.Events {
			filters[t] = true
		}
		if ep.Timeout == 0 {
			ep.Timeout = 10 * time.Second
		}

		e := &endpoint{Endpoint: ep, filters: filters}
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.Name,
			MaxRequests: 1,
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("webhook circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
		n.endpoints = append(n.endpoints, e)
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Publish queues the event for delivery to every matching endpoint. When the
// queue is full the event is dropped rather than blocking the broker.
func (n *Notifier) Publish(ev Event) {
	for _, ep := range n.endpoints {
		if len(ep.filters) > 0 && !ep.filters[ev.Type()] {
			continue
		}
		select {
		case n.jobs <- job{event: ev, endpoint: ep}:
		default:
			n.logger.Warn("webhook queue full, event dropped",
				slog.String("event_type", ev.Type()),
				slog.String("endpoint", ep.Name))
		}
	}
}

// Close stops the workers after draining queued jobs. Publish must not be
// called after Close.
func (n *Notifier) Close() {
	close(n.jobs)
	n.wg.Wait()
	n.cancel()
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for j := range n.jobs {
		n.deliver(j)
	}
}

func (n *Notifier) deliver(j job) {
	_, err := j.endpoint.breaker.Execute(func() (any, error) {
		return nil, n.send(j)
	})
	if err != nil {
		n.logger.Debug("webhook delivery failed",
			slog.String("endpoint", j.endpoint.Name),
			slog.String("event_type", j.event.Type()),
			slog.Any("error", err))
	}
}

func (n *Notifier) send(j job) error {
	payload, err := json.Marshal(map[string]any{
		"type":  j.event.Type(),
		"event": j.event,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(n.ctx, j.endpoint.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range j.endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}
