// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/absmach/memq/broker/events"
	"github.com/absmach/memq/wire"
)

// Config holds all configuration for the queue broker.
type Config struct {
	Server  ServerConfig       `yaml:"server"`
	Broker  BrokerConfig       `yaml:"broker"`
	Log     LogConfig          `yaml:"log"`
	Webhook WebhookConfig      `yaml:"webhook"`
	Queues  []wire.QueueConfig `yaml:"queues"`
}

// ServerConfig holds listener-related configuration.
type ServerConfig struct {
	TCPAddr         string        `yaml:"tcp_addr"`
	WSAddr          string        `yaml:"ws_addr"`
	WSPath          string        `yaml:"ws_path"`
	HealthAddr      string        `yaml:"health_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"` // OTLP gRPC endpoint
	TCPMaxConn      int           `yaml:"tcp_max_connections"`
	ConnPerIP       int           `yaml:"connections_per_ip_per_second"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WSEnabled       bool          `yaml:"ws_enabled"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`

	OtelServiceName    string `yaml:"otel_service_name"`
	OtelServiceVersion string `yaml:"otel_service_version"`
}

// BrokerConfig holds broker-specific settings.
type BrokerConfig struct {
	// DeliveryTimeout bounds each blocking delivery round trip.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Notifier events.NotifierConfig `yaml:",inline"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			TCPAddr:         ":45784",
			WSAddr:          ":45785",
			WSPath:          "/memq",
			WSEnabled:       true,
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			MetricsAddr:     "localhost:4317",
			MetricsEnabled:  false,
			TCPMaxConn:      10000,
			ConnPerIP:       0, // unlimited
			ShutdownTimeout: 30 * time.Second,

			OtelServiceName:    "memq-broker",
			OtelServiceVersion: "1.0.0",
		},
		Broker: BrokerConfig{
			DeliveryTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Webhook: WebhookConfig{
			Enabled: false,
			Notifier: events.NotifierConfig{
				QueueSize:        10000,
				Workers:          5,
				FailureThreshold: 5,
				ResetTimeout:     60 * time.Second,
			},
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.TCPAddr == "" {
		return fmt.Errorf("server.tcp_addr cannot be empty")
	}
	if c.Server.TCPMaxConn < 0 {
		return fmt.Errorf("server.tcp_max_connections cannot be negative")
	}
	if c.Server.ConnPerIP < 0 {
		return fmt.Errorf("server.connections_per_ip_per_second cannot be negative")
	}
	if c.Server.WSEnabled && c.Server.WSAddr == "" {
		return fmt.Errorf("server.ws_addr required when websocket is enabled")
	}
	if c.Server.HealthEnabled && c.Server.HealthAddr == "" {
		return fmt.Errorf("server.health_addr required when health is enabled")
	}

	if c.Broker.DeliveryTimeout < time.Second {
		return fmt.Errorf("broker.delivery_timeout must be at least 1 second")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Server.MetricsEnabled {
		if c.Server.MetricsAddr == "" {
			return fmt.Errorf("server.metrics_addr required when metrics enabled")
		}
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
		}
	}

	if c.Webhook.Enabled {
		if c.Webhook.Notifier.QueueSize < 100 {
			return fmt.Errorf("webhook.queue_size must be at least 100")
		}
		if c.Webhook.Notifier.Workers < 1 {
			return fmt.Errorf("webhook.workers must be at least 1")
		}
		for i, endpoint := range c.Webhook.Notifier.Endpoints {
			if endpoint.Name == "" {
				return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
			}
			if endpoint.URL == "" {
				return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
			}
		}
	}

	// Queues declared in the file are created at startup; their names must
	// not collide case-insensitively.
	seen := map[string]int{}
	for i := range c.Queues {
		c.Queues[i].Normalize()
		if err := c.Queues[i].Validate(); err != nil {
			return fmt.Errorf("queues[%d]: %w", i, err)
		}
		key := c.Queues[i].Key()
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("queues[%d] duplicates queues[%d]: %q", i, prev, c.Queues[i].Name)
		}
		seen[key] = i
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
