// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package benchmarks holds end-to-end benchmarks that exercise the full
// stack over real TCP: frame codec, connection peers, queue delivery.
package benchmarks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/memq/broker"
	"github.com/absmach/memq/client"
	"github.com/absmach/memq/codec"
	"github.com/absmach/memq/wire"
)

type benchMessage struct {
	Seq     int    `json:"seq"`
	Payload string `json:"payload"`
}

func (benchMessage) TypeTag() string { return "bench.message" }

type benchRequest struct {
	Seq int `json:"seq"`
}

func (benchRequest) TypeTag() string { return "bench.request" }

type benchResponse struct {
	Seq int `json:"seq"`
}

func (benchResponse) TypeTag() string { return "bench.response" }

func init() {
	codec.Register[benchMessage]()
	codec.Register[benchRequest]()
	codec.Register[benchResponse]()
}

type benchBroker struct {
	addr string
	ln   net.Listener
	srv  *broker.Server
	wg   sync.WaitGroup
}

func startBenchBroker(b *testing.B) *benchBroker {
	b.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := broker.NewServer(broker.Options{Logger: logger})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatalf("listen failed: %v", err)
	}

	bb := &benchBroker{addr: ln.Addr().String(), ln: ln, srv: srv}
	bb.wg.Add(1)
	go func() {
		defer bb.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			bb.wg.Add(1)
			go func() {
				defer bb.wg.Done()
				srv.HandleConnection(context.Background(), conn)
			}()
		}
	}()
	return bb
}

func (bb *benchBroker) Stop() {
	bb.ln.Close()
	bb.srv.Shutdown()
	bb.wg.Wait()
}

func connect(b *testing.B, addr string, opts *client.Options) *client.Client {
	b.Helper()

	if opts == nil {
		opts = client.NewOptions()
	}
	opts.SetServers(addr).SetAutoReconnect(false)

	c, err := client.New(opts)
	if err != nil {
		b.Fatalf("client options invalid: %v", err)
	}
	if err := c.Connect(); err != nil {
		b.Fatalf("connect failed: %v", err)
	}
	return c
}

// BenchmarkConnectionEstablishment measures connect/disconnect throughput.
func BenchmarkConnectionEstablishment(b *testing.B) {
	server := startBenchBroker(b)
	defer server.Stop()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		c := connect(b, server.addr, nil)
		c.Close()
	}
}

// BenchmarkEnqueueThroughput measures fire-and-forget publish throughput
// into a queue that a single subscriber drains.
func BenchmarkEnqueueThroughput(b *testing.B) {
	server := startBenchBroker(b)
	defer server.Stop()

	var consumed atomic.Int64
	sub := connect(b, server.addr, client.NewOptions().
		SetOnMessage(func(d client.Delivery) bool {
			consumed.Add(1)
			return true
		}))
	defer sub.Close()

	queue := "bench.enqueue"
	if err := sub.CreateQueue(wire.DefaultQueueConfig(queue)); err != nil {
		b.Fatalf("create queue failed: %v", err)
	}
	if err := sub.Subscribe(queue); err != nil {
		b.Fatalf("subscribe failed: %v", err)
	}

	pub := connect(b, server.addr, nil)
	defer pub.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := pub.Enqueue(queue, benchMessage{Seq: i, Payload: "ping"}); err != nil {
			b.Fatalf("enqueue failed: %v", err)
		}
	}

	// Wait for the queue to drain so deliveries are counted in the run.
	deadline := time.Now().Add(30 * time.Second)
	for consumed.Load() < int64(b.N) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	b.StopTimer()

	if got := consumed.Load(); got < int64(b.N) {
		b.Fatalf("consumed %d of %d messages", got, b.N)
	}
}

// BenchmarkQueryRoundTrip measures request/reply latency through a queue.
func BenchmarkQueryRoundTrip(b *testing.B) {
	server := startBenchBroker(b)
	defer server.Stop()

	responder := connect(b, server.addr, client.NewOptions().
		SetOnQuery(func(d client.Delivery) (codec.Payload, error) {
			req := d.Payload.(benchRequest)
			return benchResponse{Seq: req.Seq}, nil
		}))
	defer responder.Close()

	queue := "bench.query"
	if err := responder.CreateQueue(wire.DefaultQueueConfig(queue)); err != nil {
		b.Fatalf("create queue failed: %v", err)
	}
	if err := responder.Subscribe(queue); err != nil {
		b.Fatalf("subscribe failed: %v", err)
	}

	requester := connect(b, server.addr, nil)
	defer requester.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		reply, err := requester.Query(queue, benchRequest{Seq: i}, 10*time.Second)
		if err != nil {
			b.Fatalf("query failed: %v", err)
		}
		if resp, ok := reply.(benchResponse); !ok || resp.Seq != i {
			b.Fatalf("unexpected reply %#v for seq %d", reply, i)
		}
	}
}

// BenchmarkFanout measures delivery fan-out to multiple subscribers.
func BenchmarkFanout(b *testing.B) {
	for _, subscribers := range []int{2, 8} {
		b.Run(fmt.Sprintf("subscribers-%d", subscribers), func(b *testing.B) {
			server := startBenchBroker(b)
			defer server.Stop()

			queue := "bench.fanout"
			var consumed atomic.Int64

			subs := make([]*client.Client, subscribers)
			for i := range subs {
				subs[i] = connect(b, server.addr, client.NewOptions().
					SetOnMessage(func(d client.Delivery) bool {
						consumed.Add(1)
						return true
					}))
				defer subs[i].Close()
			}

			if err := subs[0].CreateQueue(wire.DefaultQueueConfig(queue)); err != nil {
				b.Fatalf("create queue failed: %v", err)
			}
			for i := range subs {
				if err := subs[i].Subscribe(queue); err != nil {
					b.Fatalf("subscribe failed: %v", err)
				}
			}

			pub := connect(b, server.addr, nil)
			defer pub.Close()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := pub.Enqueue(queue, benchMessage{Seq: i, Payload: "fanout"}); err != nil {
					b.Fatalf("enqueue failed: %v", err)
				}
			}

			want := int64(b.N) * int64(subscribers)
			deadline := time.Now().Add(60 * time.Second)
			for consumed.Load() < want && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			b.StopTimer()

			if got := consumed.Load(); got < want {
				b.Fatalf("delivered %d of %d expected", got, want)
			}
		})
	}
}
