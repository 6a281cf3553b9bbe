// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/memq/broker"
	"github.com/absmach/memq/codec"
	"github.com/absmach/memq/ratelimit"
	"github.com/absmach/memq/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startWSServer mounts the handler on an httptest server so tests get a
// real upgrade path without picking ports.
func startWSServer(t *testing.T, cfg Config) (*broker.Server, string) {
	t.Helper()

	b := broker.NewServer(broker.Options{Logger: testLogger()})
	s := New(cfg, b, testLogger())

	hs := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(func() {
		hs.Close()
		b.Shutdown()
	})

	return b, "ws" + strings.TrimPrefix(hs.URL, "http")
}

// queryOverWS sends one query envelope as a binary websocket message and
// decodes the reply payload.
func queryOverWS(t *testing.T, ws *websocket.Conn, p codec.Payload) codec.Payload {
	t.Helper()

	tag, body, err := codec.Encode(p)
	require.NoError(t, err)

	data, err := codec.EncodeEnvelope(&codec.Envelope{
		Kind: codec.KindQuery,
		ID:   uuid.New(),
		Type: tag,
		Body: body,
	})
	require.NoError(t, err)

	var frame bytes.Buffer
	require.NoError(t, codec.WriteFrame(&frame, data))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame.Bytes()))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, reply, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)

	payload, err := codec.ReadFrame(bytes.NewReader(reply))
	require.NoError(t, err)

	env, err := codec.DecodeEnvelope(payload)
	require.NoError(t, err)
	require.Equal(t, codec.KindReply, env.Kind)

	decoded, err := codec.Decode(env.Type, env.Body)
	require.NoError(t, err)
	return decoded
}

func TestWebSocketCarriesControlOperations(t *testing.T) {
	b, url := startWSServer(t, Config{})

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	reply := queryOverWS(t, ws, wire.CreateQueue{Config: wire.DefaultQueueConfig("ws-orders")})
	op, ok := reply.(wire.OpReply)
	require.True(t, ok)
	assert.True(t, op.OK)

	info := b.Information()
	require.Len(t, info.Queues, 1)

	// Duplicate creation surfaces the wire error code, not a dropped frame.
	reply = queryOverWS(t, ws, wire.CreateQueue{Config: wire.DefaultQueueConfig("ws-orders")})
	op, ok = reply.(wire.OpReply)
	require.True(t, ok)
	assert.False(t, op.OK)
	assert.ErrorIs(t, op.Err(), wire.ErrAlreadyExists)
}

func TestWebSocketRejectsRateLimitedClients(t *testing.T) {
	limiter := ratelimit.NewIPRateLimiter(1, 1)
	defer limiter.Stop()
	_, url := startWSServer(t, Config{Limiter: limiter})

	// First dial consumes the single token.
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	ws.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWSConnAdapterSplitsBufferedReads(t *testing.T) {
	serverDone := make(chan struct{})
	var adapted net.Conn

	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		adapted = newWSConn(ws)

		// One websocket message, drained by two undersized reads.
		first := make([]byte, 3)
		if _, err := io.ReadFull(adapted, first); err != nil {
			return
		}
		rest := make([]byte, 5)
		if _, err := io.ReadFull(adapted, rest); err != nil {
			return
		}
		adapted.Write(append(first, rest...))
		close(serverDone)
	}))
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("abcdefgh")))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, echoed, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefgh"), echoed)

	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server handler did not finish")
	}
}

func TestListenShutsDownOnContextCancel(t *testing.T) {
	b := broker.NewServer(broker.Options{Logger: testLogger()})
	defer b.Shutdown()

	s := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Listen(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}
