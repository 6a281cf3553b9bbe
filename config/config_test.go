// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/absmach/memq/broker/events"
	"github.com/absmach/memq/wire"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.TCPAddr != ":45784" {
		t.Errorf("expected default TCP addr :45784, got %s", cfg.Server.TCPAddr)
	}
	if cfg.Server.TCPMaxConn != 10000 {
		t.Errorf("expected default max connections 10000, got %d", cfg.Server.TCPMaxConn)
	}
	if cfg.Broker.DeliveryTimeout != 30*time.Second {
		t.Errorf("expected delivery timeout 30s, got %v", cfg.Broker.DeliveryTimeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty tcp addr",
			modify: func(c *Config) {
				c.Server.TCPAddr = ""
			},
			wantErr: true,
		},
		{
			name: "websocket enabled without addr",
			modify: func(c *Config) {
				c.Server.WSEnabled = true
				c.Server.WSAddr = ""
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "delivery timeout too short",
			modify: func(c *Config) {
				c.Broker.DeliveryTimeout = 500 * time.Millisecond
			},
			wantErr: true,
		},
		{
			name: "declared queues validated",
			modify: func(c *Config) {
				c.Queues = []wire.QueueConfig{{Name: ""}}
			},
			wantErr: true,
		},
		{
			name: "declared queues must not collide",
			modify: func(c *Config) {
				c.Queues = []wire.QueueConfig{
					wire.DefaultQueueConfig("Orders"),
					wire.DefaultQueueConfig("orders"),
				}
			},
			wantErr: true,
		},
		{
			name: "webhook endpoint without url",
			modify: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Notifier.Endpoints = append(c.Webhook.Notifier.Endpoints,
					events.Endpoint{Name: "hook"})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}

	if cfg.Server.TCPAddr != ":45784" {
		t.Errorf("expected default config, got TCP addr %s", cfg.Server.TCPAddr)
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	cfg := Default()
	cfg.Server.TCPAddr = ":9999"
	cfg.Broker.DeliveryTimeout = 45 * time.Second
	cfg.Log.Level = "debug"
	cfg.Queues = []wire.QueueConfig{wire.DefaultQueueConfig("boot")}

	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Server.TCPAddr != ":9999" {
		t.Errorf("expected TCP addr :9999, got %s", loaded.Server.TCPAddr)
	}
	if loaded.Broker.DeliveryTimeout != 45*time.Second {
		t.Errorf("expected delivery timeout 45s, got %v", loaded.Broker.DeliveryTimeout)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
	if len(loaded.Queues) != 1 || loaded.Queues[0].Name != "boot" {
		t.Errorf("expected declared queue boot, got %+v", loaded.Queues)
	}
}
