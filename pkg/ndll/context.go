// Package ndll loads native functions exported by arity and calls them with
// managed values passed as opaque handle tokens.
//
// A library exports "<name>__<arity>" (or "<name>__MULT") as a zero-argument
// factory returning the real entry point, plus a loader symbol that receives
// the callback native code uses to reach the managed side.
package ndll

import (
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/bridge"
	"github.com/woxQAQ/ndll/internal/handle"
	"github.com/woxQAQ/ndll/internal/platform"
)

// DefaultLoaderSymbol is the symbol every library exports to receive the
// loader callback.
const DefaultLoaderSymbol = "hx_set_loader"

// Observer receives load and call events.
type Observer interface {
	ObserveLoad(name string, arity int, ok bool)
	ObserveCall(name string, arity int, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveLoad(string, int, bool)          {}
func (nopObserver) ObserveCall(string, int, time.Duration) {}

// Config configures a Context.
type Config struct {
	// Platform opens libraries for Open and Load. Defaults to platform.Native.
	Platform platform.Platform

	// Model resolves dynamic access from native code. Defaults to
	// bridge.DynamicModel.
	Model bridge.Model

	// LoaderSymbol is the loader install entry point.
	LoaderSymbol string

	// Observer receives load and call events. May be nil.
	Observer Observer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Platform:     platform.Native(),
		Model:        bridge.DynamicModel{},
		LoaderSymbol: DefaultLoaderSymbol,
	}
}

// Context owns the handle registry and every library loaded through it.
// Native callbacks are process-wide, so only one Context may be open at a
// time.
//
// A Context is not safe for concurrent use; callers serialize all calls.
type Context struct {
	cfg     Config
	bridge  *bridge.Bridge
	logger  *zap.Logger
	modules map[*module]struct{}
	closed  bool

	// Modules of Functions dropped without Close, queued by cleanups.
	leakMu sync.Mutex
	leaked []*module
}

// module is the library owned by one Function.
type module struct {
	lib    platform.Library
	path   string
	symbol string
	closed bool
}

// NewContext creates and activates a Context.
func NewContext(logger *zap.Logger, cfg *Config) (*Context, error) {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.Platform != nil {
			c.Platform = cfg.Platform
		}
		if cfg.Model != nil {
			c.Model = cfg.Model
		}
		if cfg.LoaderSymbol != "" {
			c.LoaderSymbol = cfg.LoaderSymbol
		}
		c.Observer = cfg.Observer
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}

	b := bridge.New(logger, c.Model)
	if err := bridge.Activate(b); err != nil {
		_ = b.Close()
		return nil, &ContextActiveError{}
	}

	ctx := &Context{
		cfg:     *c,
		bridge:  b,
		logger:  logger.With(zap.String("component", "ndll")),
		modules: make(map[*module]struct{}),
	}
	ctx.logger.Info("Context opened",
		zap.String("platform", c.Platform.Name()),
		zap.String("loader_symbol", c.LoaderSymbol),
	)
	return ctx, nil
}

// Bridge returns the bridge native callbacks dispatch to.
func (c *Context) Bridge() *bridge.Bridge { return c.bridge }

// Registry returns the handle registry.
func (c *Context) Registry() *handle.Registry { return c.bridge.Registry() }

// Stats returns handle registry occupancy.
func (c *Context) Stats() handle.Stats { return c.bridge.Registry().Stats() }

// Platform returns the platform Open and Load use.
func (c *Context) Platform() platform.Platform { return c.cfg.Platform }

// Loaded returns the number of libraries currently held open.
func (c *Context) Loaded() int { return len(c.modules) }

// Closed reports whether Close has run.
func (c *Context) Closed() bool { return c.closed }

func (c *Context) unload(m *module) error {
	if m.closed {
		return nil
	}
	m.closed = true
	delete(c.modules, m)
	c.logger.Debug("Unloading library",
		zap.String("path", m.path),
		zap.String("symbol", m.symbol),
	)
	// Finalizers registered by this library must run while its code is mapped.
	err := c.bridge.DisposeLibrary(m.lib)
	return multierr.Append(err, m.lib.Close())
}

// Close finalizes pending abstracts, unloads every library still open and
// disposes the registry. Safe to call multiple times.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}

	err := c.bridge.Close()
	c.Reclaim()
	for m := range c.modules {
		err = multierr.Append(err, c.unload(m))
	}
	bridge.Deactivate(c.bridge)
	c.closed = true

	c.logger.Info("Context closed")
	return err
}
