package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("invalid_config", "error", err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
	slog.Info("system_started", "component", "linkd", "services", cfg.Services, "bus", cfg.Bus, "lease", cfg.Lease, "node_id", cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg)
	if err != nil {
		slog.Error("failed_to_init_daemon", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Run(ctx); err != nil {
		slog.Error("daemon_failed", "error", err)
		d.Close()
		os.Exit(1)
	}
	slog.Info("shutdown_complete")
}
