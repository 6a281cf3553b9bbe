// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/memq/codec"
)

type pendingPayload struct {
	N int `json:"n"`
}

func (pendingPayload) TypeTag() string { return "core.pending-test" }

func TestPendingFulfillWakesWaiter(t *testing.T) {
	table := NewPendingTable()
	id := uuid.New()
	w := table.Begin(id)

	go func() {
		time.Sleep(10 * time.Millisecond)
		table.Fulfill(id, pendingPayload{N: 7}, nil)
	}()

	payload, err := table.Await(w, time.Second)
	require.NoError(t, err)
	assert.Equal(t, pendingPayload{N: 7}, payload)
	assert.Zero(t, table.Len())
}

func TestPendingTimeoutRemovesEntry(t *testing.T) {
	table := NewPendingTable()
	id := uuid.New()
	w := table.Begin(id)

	_, err := table.Await(w, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, table.Len(), "timed-out waiter must not leak")

	// A late reply is a no-op, not a panic.
	assert.False(t, table.Fulfill(id, pendingPayload{}, nil))
}

func TestPendingFulfillUnknownIDIsNoop(t *testing.T) {
	table := NewPendingTable()
	assert.False(t, table.Fulfill(uuid.New(), pendingPayload{}, nil))
}

func TestPendingFulfillTimeoutRaceHasOneWinner(t *testing.T) {
	// Hammer the fulfill-vs-timeout race: the waiter must observe either the
	// reply or ErrTimeout, never a torn state, and the table must end empty.
	for i := 0; i < 200; i++ {
		table := NewPendingTable()
		id := uuid.New()
		w := table.Begin(id)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Fulfill(id, pendingPayload{N: 1}, nil)
		}()

		payload, err := table.Await(w, time.Microsecond)
		if err != nil {
			assert.ErrorIs(t, err, ErrTimeout)
		} else {
			assert.Equal(t, pendingPayload{N: 1}, payload)
		}
		wg.Wait()
		assert.Zero(t, table.Len())
	}
}

func TestPendingFailAll(t *testing.T) {
	table := NewPendingTable()
	boom := errors.New("boom")

	w1 := table.Begin(uuid.New())
	w2 := table.Begin(uuid.New())
	table.FailAll(boom)

	_, err := table.Await(w1, time.Second)
	assert.ErrorIs(t, err, boom)
	_, err = table.Await(w2, time.Second)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, table.Len())
}

var _ codec.Payload = pendingPayload{}
