package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/ndll/internal/config"
	"github.com/woxQAQ/ndll/internal/host"
)

func newApp() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ndll",
		Short:   "Load native and WebAssembly plugins and call their functions",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Example: `  Call add__2 from a shared library:
  $ ndll call ./libmath.so add 3 4

  Call a variadic function:
  $ ndll call --mult ./libmath.so sum 1 2 3

  List plugins found under the configured plugin paths:
  $ ndll plugins list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(
		newCallCommand(),
		newPluginsCommand(),
		newServeCommand(),
		newAPICommand(),
	)
	return rootCmd
}

// loadConfig reads the configuration named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// newLogger builds a development logger for debug and a production logger
// at the given level otherwise.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// withHost runs fn against a host built from the command's configuration.
func withHost(cmd *cobra.Command, fn func(ctx context.Context, h *host.Host, cfg *config.Config) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := host.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			logger.Error("Failed to shut down host", zap.Error(err))
		}
	}()
	return fn(ctx, h, cfg)
}
