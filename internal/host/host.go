// Package host assembles a plugin host from configuration: the ndll Context,
// the native and Wasm platforms, the plugin manager and the metrics collector.
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/addon"
	"github.com/woxQAQ/ndll/internal/config"
	"github.com/woxQAQ/ndll/internal/metrics"
	"github.com/woxQAQ/ndll/internal/platform"
	"github.com/woxQAQ/ndll/internal/wasm"
	"github.com/woxQAQ/ndll/pkg/ndll"
)

// Host runs plugins on one ndll Context. LoadPlugins, Call, CallLibrary and
// Close may be used from several goroutines; they run one at a time because
// the Context is single-threaded.
type Host struct {
	mu sync.Mutex

	cfg         *config.Config
	logger      *zap.Logger
	wasmRuntime *wasm.Runtime
	platforms   map[string]platform.Platform
	ndll        *ndll.Context
	metrics     *metrics.Collector
	manager     *addon.Manager
}

// New creates a host. Only one host may exist at a time because it owns the
// process-wide ndll Context.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Host, error) {
	wasmRuntime, err := wasm.NewRuntime(ctx, logger, cfg.Wasm.Runtime())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	collector := metrics.NewCollector()
	platforms := map[string]platform.Platform{
		addon.BackendNative: platform.Native(),
		addon.BackendWasm:   wasm.NewPlatform(ctx, wasmRuntime, logger),
	}

	nctx, err := ndll.NewContext(logger, &ndll.Config{
		Platform:     platforms[addon.BackendNative],
		LoaderSymbol: cfg.LoaderSymbol,
		Observer:     collector,
	})
	if err != nil {
		_ = wasmRuntime.Close(ctx)
		return nil, err
	}

	loader := addon.NewLoader(nctx, platforms, logger)

	logger.Info("Plugin host initialized",
		zap.Strings("plugin_paths", cfg.PluginPaths),
		zap.Uint32("wasm_memory_pages", cfg.Wasm.MemoryPages),
		zap.String("wasm_cache_dir", cfg.Wasm.CacheDir),
	)

	return &Host{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "host")),
		wasmRuntime: wasmRuntime,
		platforms:   platforms,
		ndll:        nctx,
		metrics:     collector,
		manager:     addon.NewManager(cfg.PluginPaths, loader, logger),
	}, nil
}

// Context returns the ndll Context.
func (h *Host) Context() *ndll.Context { return h.ndll }

// Manager returns the plugin manager.
func (h *Host) Manager() *addon.Manager { return h.manager }

// Metrics returns the metrics collector.
func (h *Host) Metrics() *metrics.Collector { return h.metrics }

// Platform returns the platform serving backend.
func (h *Host) Platform(backend string) (platform.Platform, bool) {
	p, ok := h.platforms[backend]
	return p, ok
}

// LoadPlugins loads every plugin under the configured paths.
func (h *Host) LoadPlugins() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.manager.LoadAll()
	h.metrics.SetRegistryStats(h.ndll.Stats())
	return err
}

// Call invokes a plugin function by qualified name.
func (h *Host) Call(qualified string, args ...any) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.metrics.SetRegistryStats(h.ndll.Stats())
	return h.manager.Call(qualified, args...)
}

// CallLibrary loads name from the library at path through backend, calls it
// once and unloads it.
func (h *Host) CallLibrary(backend, path, name string, arity int, args ...any) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.metrics.SetRegistryStats(h.ndll.Stats())

	p, ok := h.platforms[backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	fn, err := h.ndll.OpenWith(p, path, name, arity)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := fn.Close(); err != nil {
			h.logger.Warn("Failed to unload library", zap.String("path", path), zap.Error(err))
		}
	}()
	return fn.Call(args...)
}

// ServeMetrics serves /metrics on addr until ctx is done.
func (h *Host) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the host.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Info("Shutting down plugin host")

	err := multierr.Combine(h.manager.Shutdown(), h.ndll.Close())

	// Shutdown Wasm runtime.
	if rerr := h.wasmRuntime.Close(ctx); rerr != nil {
		h.logger.Error("Failed to shutdown Wasm runtime", zap.Error(rerr))
		err = multierr.Append(err, rerr)
	}

	h.logger.Info("Plugin host shutdown complete")
	return err
}
