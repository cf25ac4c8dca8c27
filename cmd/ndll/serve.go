package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/woxQAQ/ndll/internal/config"
	"github.com/woxQAQ/ndll/internal/host"
)

func newServeCommand() *cobra.Command {
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE:  serveAction,
	}
	serveCommand.Flags().String("addr", "", "Metrics listen address (default: metrics.addr from the config)")
	return serveCommand
}

func serveAction(cmd *cobra.Command, _ []string) error {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}
	return withHost(cmd, func(ctx context.Context, h *host.Host, cfg *config.Config) error {
		if addr == "" {
			addr = cfg.Metrics.Addr
		}
		if err := h.LoadPlugins(); err != nil {
			return err
		}

		// Handle shutdown signals
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return h.ServeMetrics(ctx, addr)
	})
}
