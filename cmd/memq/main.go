// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/memq/broker"
	"github.com/absmach/memq/broker/events"
	"github.com/absmach/memq/config"
	"github.com/absmach/memq/ratelimit"
	"github.com/absmach/memq/server/health"
	"github.com/absmach/memq/server/otel"
	"github.com/absmach/memq/server/tcp"
	"github.com/absmach/memq/server/websocket"
	"github.com/google/uuid"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting message broker", "version", version)
	slog.Info("Configuration loaded",
		"tcp_listener", cfg.Server.TCPAddr,
		"ws_listener", cfg.Server.WSAddr,
		"ws_enabled", cfg.Server.WSEnabled,
		"health_enabled", cfg.Server.HealthEnabled,
		"metrics_enabled", cfg.Server.MetricsEnabled,
		"declared_queues", len(cfg.Queues),
		"log_level", cfg.Log.Level)

	var otelShutdown func(context.Context) error
	var metrics broker.Metrics

	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(otel.ProviderConfig{
			Endpoint:       cfg.Server.MetricsAddr,
			ServiceName:    cfg.Server.OtelServiceName,
			ServiceVersion: cfg.Server.OtelServiceVersion,
			InstanceID:     uuid.NewString(),
		})
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown

		m, err := otel.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		metrics = m
		slog.Info("OpenTelemetry metrics enabled", "endpoint", cfg.Server.MetricsAddr)
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	sink := events.Discard
	if cfg.Webhook.Enabled {
		notifier := events.NewNotifier(cfg.Webhook.Notifier, logger)
		defer notifier.Close()
		sink = notifier
		slog.Info("Webhooks enabled",
			"endpoints", len(cfg.Webhook.Notifier.Endpoints),
			"workers", cfg.Webhook.Notifier.Workers,
			"queue_size", cfg.Webhook.Notifier.QueueSize)
	} else {
		slog.Info("Webhooks disabled")
	}

	b := broker.NewServer(broker.Options{
		Logger:          logger,
		Metrics:         metrics,
		Events:          sink,
		DeliveryTimeout: cfg.Broker.DeliveryTimeout,
	})

	for _, qc := range cfg.Queues {
		if err := b.Registry().Create(qc); err != nil {
			slog.Error("Failed to create declared queue", "queue", qc.Name, "error", err)
			os.Exit(1)
		}
		slog.Info("Queue declared", "queue", qc.Name,
			"delivery_scheme", qc.DeliveryScheme,
			"consumption_scheme", qc.ConsumptionScheme)
	}

	var limiter *ratelimit.IPRateLimiter
	if cfg.Server.ConnPerIP > 0 {
		limiter = ratelimit.NewIPRateLimiter(float64(cfg.Server.ConnPerIP), cfg.Server.ConnPerIP)
		defer limiter.Stop()
		slog.Info("Connection rate limiting enabled", "per_ip_per_second", cfg.Server.ConnPerIP)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	serverErr := make(chan error, 3)

	tcpServer := tcp.New(tcp.Config{
		Address:         cfg.Server.TCPAddr,
		Logger:          logger,
		Limiter:         limiter,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxConnections:  cfg.Server.TCPMaxConn,
	}, b)

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Starting TCP server", "address", cfg.Server.TCPAddr)
		if err := tcpServer.Listen(ctx); err != nil {
			serverErr <- err
		}
	}()

	if cfg.Server.WSEnabled {
		wsServer := websocket.New(websocket.Config{
			Address:         cfg.Server.WSAddr,
			Path:            cfg.Server.WSPath,
			Limiter:         limiter,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, b, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting WebSocket server", "address", cfg.Server.WSAddr, "path", cfg.Server.WSPath)
			if err := wsServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, b, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("Starting health check server", "address", cfg.Server.HealthAddr)
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("Message broker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	cancel()
	wg.Wait()

	b.Shutdown()

	if otelShutdown != nil {
		otelCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		}
	}

	slog.Info("Message broker stopped")
}
