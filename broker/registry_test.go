// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/memq/wire"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(newFakeDeliverer(nil), testLogger(t), nil, nil)
	t.Cleanup(r.Shutdown)
	return r
}

func TestRegistryCreateGetDelete(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Create(wire.DefaultQueueConfig("Orders")))

	// Queue names are case-insensitive.
	q, err := r.Get("orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders", q.Name())
	assert.True(t, r.Exists("ORDERS"))

	require.NoError(t, r.Delete("orders"))
	assert.False(t, r.Exists("orders"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Create(wire.DefaultQueueConfig("dup")))
	err := r.Create(wire.DefaultQueueConfig("DUP"))
	assert.ErrorIs(t, err, wire.ErrAlreadyExists)
}

func TestRegistryRejectsInvalidConfig(t *testing.T) {
	r := testRegistry(t)

	err := r.Create(wire.QueueConfig{Name: ""})
	assert.ErrorIs(t, err, wire.ErrInvalidConfig)
	assert.Empty(t, r.Queues())

	cfg := wire.DefaultQueueConfig("bad")
	cfg.MaxMessageAge = -time.Second
	assert.ErrorIs(t, r.Create(cfg), wire.ErrInvalidConfig)
}

func TestRegistryUnknownQueueOperations(t *testing.T) {
	r := testRegistry(t)

	connID := uuid.New()
	assert.ErrorIs(t, r.Delete("nope"), wire.ErrNotFound)
	assert.ErrorIs(t, r.Purge("nope"), wire.ErrNotFound)
	assert.ErrorIs(t, r.Subscribe("nope", connID, "l", "r"), wire.ErrNotFound)
	assert.ErrorIs(t, r.Unsubscribe("nope", connID), wire.ErrNotFound)
	assert.ErrorIs(t, r.Enqueue("nope", testMessage("m")), wire.ErrNotFound)

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, wire.ErrNotFound)
}

func TestRegistryRemoveConnectionScrubsAllQueues(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Create(wire.DefaultQueueConfig("a")))
	require.NoError(t, r.Create(wire.DefaultQueueConfig("b")))

	connID := uuid.New()
	require.NoError(t, r.Subscribe("a", connID, "l", "r"))
	require.NoError(t, r.Subscribe("b", connID, "l", "r"))

	r.RemoveConnection(connID)

	for _, name := range []string{"a", "b"} {
		q, err := r.Get(name)
		require.NoError(t, err)
		assert.False(t, q.Subscribed(connID))
	}
}

func TestRegistryQueuesSnapshotSorted(t *testing.T) {
	r := testRegistry(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Create(wire.DefaultQueueConfig(name)))
	}

	queues := r.Queues()
	require.Len(t, queues, 3)
	assert.Equal(t, "alpha", queues[0].Name())
	assert.Equal(t, "mid", queues[1].Name())
	assert.Equal(t, "zeta", queues[2].Name())
}

func TestRegistryEnqueueReachesRunningQueue(t *testing.T) {
	d := newFakeDeliverer(nil)
	r := NewRegistry(d, testLogger(t), nil, nil)
	t.Cleanup(r.Shutdown)

	require.NoError(t, r.Create(wire.DefaultQueueConfig("live")))
	require.NoError(t, r.Subscribe("live", uuid.New(), "l", "r"))
	require.NoError(t, r.Enqueue("live", testMessage("hello")))

	waitFor(t, func() bool { return len(d.delivered()) == 1 }, "message delivered via registry")
}
