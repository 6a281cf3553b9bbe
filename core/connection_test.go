// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/absmach/memq/codec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoPayload struct {
	Text string `json:"text"`
}

func (echoPayload) TypeTag() string { return "core.echo" }

func init() {
	codec.Register[echoPayload]()
}

// testHandler collects events and answers queries by echoing the payload.
type testHandler struct {
	notifications chan codec.Payload
	disconnected  chan struct{}
	release       chan struct{}
	queryErr      error
	mute          bool // swallow queries without replying
}

func newTestHandler(t *testing.T) *testHandler {
	h := &testHandler{
		notifications: make(chan codec.Payload, 16),
		disconnected:  make(chan struct{}, 2),
		release:       make(chan struct{}),
	}
	t.Cleanup(func() { close(h.release) })
	return h
}

func (h *testHandler) OnConnected(*Connection)    {}
func (h *testHandler) OnDisconnected(*Connection) { h.disconnected <- struct{}{} }

func (h *testHandler) OnNotification(_ *Connection, p codec.Payload) error {
	h.notifications <- p
	return nil
}

func (h *testHandler) OnQuery(_ *Connection, p codec.Payload) (codec.Payload, error) {
	if h.mute {
		<-h.release // hold the reply until the test tears down
		return nil, errors.New("muted")
	}
	if h.queryErr != nil {
		return nil, h.queryErr
	}
	return p, nil
}

func pipePair(t *testing.T, left, right Handler) (*Connection, *Connection) {
	t.Helper()

	lc, rc := net.Pipe()
	a := NewConnection(lc, left, nil)
	b := NewConnection(rc, right, nil)
	aDone := a.Start()
	bDone := b.Start()

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
		<-aDone
		<-bDone
	})
	return a, b
}

func TestConnectionNotify(t *testing.T) {
	lh, rh := newTestHandler(t), newTestHandler(t)
	a, _ := pipePair(t, lh, rh)

	require.NoError(t, a.Notify(echoPayload{Text: "hi"}))

	select {
	case p := <-rh.notifications:
		assert.Equal(t, echoPayload{Text: "hi"}, p)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestConnectionQueryReply(t *testing.T) {
	lh, rh := newTestHandler(t), newTestHandler(t)
	a, _ := pipePair(t, lh, rh)

	reply, err := a.Query(echoPayload{Text: "ping"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, echoPayload{Text: "ping"}, reply)
}

func TestConnectionQueryRemoteError(t *testing.T) {
	lh, rh := newTestHandler(t), newTestHandler(t)
	rh.queryErr = errors.New("handler refused")
	a, _ := pipePair(t, lh, rh)

	_, err := a.Query(echoPayload{Text: "ping"}, time.Second)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "handler refused", remote.Message)
}

func TestConnectionQueryTimeout(t *testing.T) {
	lh, rh := newTestHandler(t), newTestHandler(t)
	rh.mute = true
	a, _ := pipePair(t, lh, rh)

	start := time.Now()
	_, err := a.Query(echoPayload{Text: "ping"}, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectionCloseFailsPendingAndSignalsDisconnect(t *testing.T) {
	lh, rh := newTestHandler(t), newTestHandler(t)
	rh.mute = true
	a, b := pipePair(t, lh, rh)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.Query(echoPayload{Text: "ping"}, 10*time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending query not failed on disconnect")
	}

	select {
	case <-lh.disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect event not fired")
	}
}
