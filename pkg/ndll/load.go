package ndll

import (
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/bridge"
	"github.com/woxQAQ/ndll/internal/platform"
)

const (
	// VarArgs declares a function taking an argument vector.
	VarArgs = -1

	// MaxArity is the largest fixed arity.
	MaxArity = 5
)

// SymbolName returns the exported factory symbol for name and arity.
func SymbolName(name string, arity int) string {
	if arity == VarArgs {
		return name + "__MULT"
	}
	return fmt.Sprintf("%s__%d", name, arity)
}

func checkArity(op string, arity int) error {
	if arity < VarArgs || arity > MaxArity {
		return &ContractError{Op: op, Reason: fmt.Sprintf("arity %d outside [%d, %d]", arity, VarArgs, MaxArity)}
	}
	return nil
}

// Load opens name with the given arity from the library at path. A function
// that cannot be loaded yields (nil, nil); the reason is logged. Contract
// violations are returned as errors.
func (c *Context) Load(path, name string, arity int) (*Function, error) {
	fn, err := c.Open(path, name, arity)
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		c.logger.Warn("Native function unavailable",
			zap.String("path", path),
			zap.String("symbol", loadErr.Symbol),
			zap.String("stage", string(loadErr.Stage)),
			zap.Error(loadErr.Err),
		)
		return nil, nil
	}
	return fn, err
}

// Open is Load with load failures returned as *LoadError.
func (c *Context) Open(path, name string, arity int) (*Function, error) {
	return c.OpenWith(c.cfg.Platform, path, name, arity)
}

// OpenWith opens a function through p instead of the configured platform.
func (c *Context) OpenWith(p platform.Platform, path, name string, arity int) (*Function, error) {
	if err := checkArity("load", arity); err != nil {
		return nil, err
	}
	if c.closed {
		return nil, &ContractError{Op: "load", Reason: "context is closed"}
	}
	c.Reclaim()

	fn, err := c.load(p, path, name, arity)
	c.cfg.Observer.ObserveLoad(name, arity, err == nil)
	return fn, err
}

func (c *Context) load(p platform.Platform, path, name string, arity int) (*Function, error) {
	symbol := SymbolName(name, arity)

	lib, err := p.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Symbol: symbol, Stage: StageOpen, Err: err}
	}

	entry, err := c.bind(p, lib, symbol)
	if err != nil {
		if cerr := lib.Close(); cerr != nil {
			c.logger.Warn("Failed to unload library after load failure",
				zap.String("path", path),
				zap.Error(cerr),
			)
		}
		return nil, err
	}

	m := &module{lib: lib, path: path, symbol: symbol}
	c.modules[m] = struct{}{}

	fn := &Function{
		ctx:    c,
		mod:    m,
		name:   name,
		arity:  arity,
		entry:  entry,
		invoke: invokers[arity-VarArgs],
	}
	fn.cleanup = runtime.AddCleanup(fn, c.enqueue, m)

	c.logger.Info("Native function loaded",
		zap.String("path", path),
		zap.String("symbol", symbol),
		zap.String("platform", p.Name()),
	)
	return fn, nil
}

// bind resolves and runs the factory, then installs the loader callback. The
// factory runs before the loader symbol is looked up, so a library without
// one still has its factory invoked before the load fails.
func (c *Context) bind(p platform.Platform, lib platform.Library, symbol string) (uintptr, error) {
	path := lib.Path()
	fail := func(stage Stage, err error) (uintptr, error) {
		return 0, &LoadError{Path: path, Symbol: symbol, Stage: stage, Err: err}
	}

	factory, err := lib.Lookup(symbol)
	if err != nil {
		return fail(StageSymbol, err)
	}
	loader, err := bridge.LoaderCallback(p)
	if err != nil {
		return fail(StageCallback, err)
	}

	f := c.bridge.Enter(lib)
	entry := lib.Call(factory)
	if entry == 0 {
		if err := c.bridge.Leave(f); err != nil {
			return fail(StageFactory, err)
		}
		return fail(StageFactory, ErrNullEntry)
	}
	install, err := lib.Lookup(c.cfg.LoaderSymbol)
	if err != nil {
		return fail(StageLoader, multierr.Append(err, c.bridge.Leave(f)))
	}
	lib.Call(install, loader)
	if err := c.bridge.Leave(f); err != nil {
		return fail(StageFactory, err)
	}
	return entry, nil
}
