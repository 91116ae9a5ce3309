package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rmax-ai/linkd/pkg/api"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != defaultAddr {
		t.Errorf("expected addr %s, got %s", defaultAddr, cfg.Addr)
	}
	if !cfg.Hosts(serviceConnections) || !cfg.Hosts(serviceNotifications) {
		t.Errorf("expected both services, got %v", cfg.Services)
	}
	if cfg.Bus != "memory" || cfg.Lease != "none" {
		t.Errorf("expected memory bus without lease, got %s/%s", cfg.Bus, cfg.Lease)
	}
	if cfg.TxTimeout != 2*time.Second || cfg.TxRetries != 3 {
		t.Errorf("unexpected tx settings %v/%d", cfg.TxTimeout, cfg.TxRetries)
	}
	if b := cfg.engineConfig().Budget(); b >= api.WriteTimeout {
		t.Errorf("default tx budget %v does not fit the response bound", b)
	}
	if cfg.RelayInterval != time.Second {
		t.Errorf("expected relay interval 1s, got %v", cfg.RelayInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("expected info level, got %v", cfg.LogLevel)
	}
	if !strings.HasSuffix(cfg.DBPath, "linkd-graph.db") || !strings.HasSuffix(cfg.NotificationsDBPath, "linkd-notifications.db") {
		t.Errorf("unexpected db paths %s %s", cfg.DBPath, cfg.NotificationsDBPath)
	}
}

func TestLoadConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("LINKD_PORT", "9000")
	t.Setenv("LINKD_BUS", "redis")
	t.Setenv("LINKD_REDIS_ADDR", "localhost:6379")

	cfg, err := LoadConfig([]string{"-services", "Connections, connections", "-lease", "redis", "-node-id", "n1", "-log-level", "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("expected port from env, got %s", cfg.Addr)
	}
	if len(cfg.Services) != 1 || cfg.Hosts(serviceNotifications) {
		t.Errorf("expected only connections, got %v", cfg.Services)
	}
	if cfg.Bus != "redis" || cfg.Lease != "redis" || cfg.NodeID != "n1" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		errorSubstr string
	}{
		{
			name:        "zero tx timeout from flag",
			args:        []string{"-tx-timeout", "0s"},
			errorSubstr: "tx timeout must be positive",
		},
		{
			name:        "negative relay interval from env",
			envVars:     map[string]string{"LINKD_RELAY_INTERVAL": "-1s"},
			errorSubstr: "LINKD_RELAY_INTERVAL must be positive",
		},
		{
			name:        "invalid tx timeout format from env",
			envVars:     map[string]string{"LINKD_TX_TIMEOUT": "soon"},
			errorSubstr: "invalid LINKD_TX_TIMEOUT",
		},
		{
			name:        "invalid tx retries from env",
			envVars:     map[string]string{"LINKD_TX_RETRIES": "many"},
			errorSubstr: "invalid LINKD_TX_RETRIES",
		},
		{
			name:        "negative tx retries",
			args:        []string{"-tx-retries", "-1"},
			errorSubstr: "tx retries cannot be negative",
		},
		{
			name:        "tx bound over the response bound",
			args:        []string{"-tx-timeout", "3s", "-tx-retries", "3"},
			errorSubstr: "over the 10s response bound",
		},
		{
			name:        "unknown service",
			args:        []string{"-services", "posts"},
			errorSubstr: "unsupported service: posts",
		},
		{
			name:        "unknown bus",
			args:        []string{"-bus", "kafka"},
			errorSubstr: "unsupported bus: kafka",
		},
		{
			name:        "redis bus without address",
			args:        []string{"-bus", "redis"},
			errorSubstr: "bus=redis requires redis-addr",
		},
		{
			name:        "redis lease without address",
			args:        []string{"-lease", "redis"},
			errorSubstr: "lease=redis requires redis-addr",
		},
		{
			name:        "unknown lease",
			args:        []string{"-lease", "etcd"},
			errorSubstr: "unsupported lease: etcd",
		},
		{
			name:        "notifications alone without connections url",
			args:        []string{"-services", "notifications"},
			errorSubstr: "requires connections-url",
		},
		{
			name:        "notifications alone on the memory bus",
			args:        []string{"-services", "notifications", "-connections-url", "http://conns:8095"},
			errorSubstr: "requires bus=redis",
		},
		{
			name:        "invalid log level",
			args:        []string{"-log-level", "loud"},
			errorSubstr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(tt.args)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorSubstr)
			}
			if !strings.Contains(err.Error(), tt.errorSubstr) {
				t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
			}
		})
	}
}
