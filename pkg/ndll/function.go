package ndll

import (
	"fmt"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/bridge"
	"github.com/woxQAQ/ndll/internal/handle"
	"github.com/woxQAQ/ndll/internal/platform"
)

// Function is a loaded native function. It owns its library until Close.
// A Function dropped without Close is unloaded by the next Context.Reclaim.
type Function struct {
	ctx     *Context
	mod     *module
	name    string
	arity   int
	entry   uintptr
	invoke  invoker
	cleanup runtime.Cleanup
}

var _ bridge.Caller = (*Function)(nil)

// invoker calls entry with the argument tokens in the shape of one arity.
type invoker func(f *Function, args []handle.Token) (uintptr, error)

// invokers is indexed by arity+1.
var invokers = [...]invoker{
	callMult,
	func(f *Function, _ []handle.Token) (uintptr, error) {
		return f.mod.lib.Call(f.entry), nil
	},
	func(f *Function, a []handle.Token) (uintptr, error) {
		return f.mod.lib.Call(f.entry, uintptr(a[0])), nil
	},
	func(f *Function, a []handle.Token) (uintptr, error) {
		return f.mod.lib.Call(f.entry, uintptr(a[0]), uintptr(a[1])), nil
	},
	func(f *Function, a []handle.Token) (uintptr, error) {
		return f.mod.lib.Call(f.entry, uintptr(a[0]), uintptr(a[1]), uintptr(a[2])), nil
	},
	func(f *Function, a []handle.Token) (uintptr, error) {
		return f.mod.lib.Call(f.entry, uintptr(a[0]), uintptr(a[1]), uintptr(a[2]), uintptr(a[3])), nil
	},
	func(f *Function, a []handle.Token) (uintptr, error) {
		return f.mod.lib.Call(f.entry, uintptr(a[0]), uintptr(a[1]), uintptr(a[2]), uintptr(a[3]), uintptr(a[4])), nil
	},
}

// callMult passes the tokens as (argv, n). The token array is pinned until
// the call's frame closes; an empty call passes a null argv.
func callMult(f *Function, args []handle.Token) (uintptr, error) {
	lib := f.mod.lib
	if ac, ok := lib.(platform.ArgvCaller); ok {
		argv := make([]uintptr, len(args))
		for i, t := range args {
			argv[i] = uintptr(t)
		}
		return ac.CallArgv(f.entry, argv), nil
	}
	if len(args) == 0 {
		return lib.Call(f.entry, 0, 0), nil
	}
	argv, err := f.ctx.bridge.Registry().AddressOfPinned(args)
	if err != nil {
		return 0, err
	}
	return lib.Call(f.entry, argv, uintptr(len(args))), nil
}

// Name returns the base symbol name.
func (f *Function) Name() string { return f.name }

// Arity returns the declared arity, VarArgs for a MULT function.
func (f *Function) Arity() int { return f.arity }

// Path returns the library path.
func (f *Function) Path() string { return f.mod.path }

// Closed reports whether the function was closed or reclaimed.
func (f *Function) Closed() bool { return f.mod.closed }

// Call0 calls a function of arity 0.
func (f *Function) Call0() (any, error) {
	return f.call(0, nil)
}

// Call1 calls a function of arity 1.
func (f *Function) Call1(a1 any) (any, error) {
	return f.call(1, []any{a1})
}

// Call2 calls a function of arity 2.
func (f *Function) Call2(a1, a2 any) (any, error) {
	return f.call(2, []any{a1, a2})
}

// Call3 calls a function of arity 3.
func (f *Function) Call3(a1, a2, a3 any) (any, error) {
	return f.call(3, []any{a1, a2, a3})
}

// Call4 calls a function of arity 4.
func (f *Function) Call4(a1, a2, a3, a4 any) (any, error) {
	return f.call(4, []any{a1, a2, a3, a4})
}

// Call5 calls a function of arity 5.
func (f *Function) Call5(a1, a2, a3, a4, a5 any) (any, error) {
	return f.call(5, []any{a1, a2, a3, a4, a5})
}

// CallMult calls a MULT function with any number of arguments.
func (f *Function) CallMult(args []any) (any, error) {
	return f.call(VarArgs, args)
}

// Call implements bridge.Caller: a MULT function takes every argument, a fixed
// arity function must get exactly its arity.
func (f *Function) Call(args ...any) (any, error) {
	if f.arity == VarArgs {
		return f.CallMult(args)
	}
	return f.call(len(args), args)
}

func (f *Function) call(arity int, args []any) (_ any, err error) {
	op := fmt.Sprintf("call%d", arity)
	if arity == VarArgs {
		op = "callMult"
	}
	switch {
	case f.arity != arity:
		return nil, &ContractError{Op: op, Reason: fmt.Sprintf("%s declared with arity %d", f.name, f.arity)}
	case f.mod.closed:
		return nil, &ContractError{Op: op, Reason: fmt.Sprintf("%s is closed", f.name)}
	case f.ctx.closed:
		return nil, &ContractError{Op: op, Reason: "context is closed"}
	}

	b := f.ctx.bridge
	if b.Depth() == 0 {
		f.ctx.Reclaim()
	}
	start := time.Now()
	frame := b.Enter(f.mod.lib)
	defer func() {
		err = multierr.Append(err, b.Leave(frame))
		f.ctx.cfg.Observer.ObserveCall(f.name, f.arity, time.Since(start))
	}()

	tokens := make([]handle.Token, len(args))
	for i, a := range args {
		tokens[i] = b.Wrap(a)
	}

	ret, err := f.invoke(f, tokens)
	if err != nil {
		return nil, err
	}
	v, err := b.Unwrap(handle.Token(ret))
	if err != nil {
		return nil, &ResultError{Func: f.name, Err: err}
	}

	f.ctx.logger.Debug("Native call returned",
		zap.String("symbol", f.mod.symbol),
		zap.Int("depth", frame.Depth()),
	)
	return v, nil
}

// Close unloads the library. Closing twice is a no-op.
func (f *Function) Close() error {
	f.cleanup.Stop()
	return f.ctx.unload(f.mod)
}
