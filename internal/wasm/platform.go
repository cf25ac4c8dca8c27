package wasm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental/table"
	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/platform"
)

// exportTag marks addresses of exported functions. Untagged addresses are
// offsets into the guest's function table, which is how guests hand out
// function pointers.
const exportTag = uintptr(1) << 62

// Platform loads WebAssembly guests as libraries. Guests import the bridge API
// from the hxcffi host module; every parameter and result of an entry point
// is an i64.
type Platform struct {
	ctx       context.Context
	runtime   *Runtime
	loader    *ModuleLoader
	instances *InstanceManager
	logger    *zap.Logger

	cookies atomic.Uintptr
}

// NewPlatform creates a platform backed by rt. Guest code runs under ctx.
func NewPlatform(ctx context.Context, rt *Runtime, logger *zap.Logger) *Platform {
	return &Platform{
		ctx:       ctx,
		runtime:   rt,
		loader:    NewModuleLoader(rt, logger),
		instances: NewInstanceManager(rt, logger),
		logger:    logger.With(zap.String("component", "wasm-platform")),
	}
}

// Name returns "wasm".
func (p *Platform) Name() string { return "wasm" }

// Open compiles and instantiates the guest at path.
func (p *Platform) Open(path string) (platform.Library, error) {
	return p.open(path, &FileSource{Path: path})
}

// OpenBytes instantiates an in-memory guest under name.
func (p *Platform) OpenBytes(name string, data []byte) (platform.Library, error) {
	return p.open(name, &BytesSource{ModuleName: name, Data: data})
}

func (p *Platform) open(path string, source ModuleSource) (platform.Library, error) {
	if p.runtime.IsClosed() {
		return nil, &platform.OpenError{Path: path, Err: platform.ErrClosed}
	}
	compiled, err := p.loader.Load(p.ctx, source)
	if err != nil {
		return nil, &platform.OpenError{Path: path, Err: err}
	}
	inst, err := p.instances.Instantiate(p.ctx, compiled)
	if err != nil {
		return nil, &platform.OpenError{Path: path, Err: err}
	}
	return &Library{
		ctx:    p.ctx,
		path:   path,
		inst:   inst,
		logger: p.logger.With(zap.String("path", path)),
	}, nil
}

// NewCallback returns a cookie for fn. Guests reach the bridge through their
// imports, so the cookie is only ever passed back and never called.
func (p *Platform) NewCallback(fn any) (uintptr, error) {
	if fn == nil {
		return 0, &platform.CallbackError{Err: "nil function"}
	}
	return p.cookies.Add(1), nil
}

// Library is an instantiated guest.
type Library struct {
	ctx    context.Context
	path   string
	inst   *Instance
	logger *zap.Logger

	closed atomic.Bool
}

// Path returns the path (or name) the guest was opened from.
func (l *Library) Path() string { return l.path }

// Instance returns the underlying instance.
func (l *Library) Instance() *Instance { return l.inst }

// Lookup returns the tagged address of an exported function.
func (l *Library) Lookup(name string) (uintptr, error) {
	if l.closed.Load() {
		return 0, platform.ErrClosed
	}
	idx, ok := l.inst.export(name)
	if !ok {
		return 0, &platform.SymbolNotFoundError{Path: l.path, Symbol: name}
	}
	return exportTag | uintptr(idx), nil
}

// Call invokes the function at fn. Arguments are padded with zeros or
// truncated to the function's parameter count. Traps are logged and yield 0.
func (l *Library) Call(fn uintptr, args ...uintptr) uintptr {
	if l.closed.Load() {
		l.logger.Error("Call into closed Wasm library")
		return 0
	}
	f, err := l.function(fn, len(args))
	if err != nil {
		l.logger.Error("Failed to resolve Wasm function", zap.Error(err))
		return 0
	}

	params := make([]uint64, len(f.Definition().ParamTypes()))
	for i := range params {
		if i < len(args) {
			params[i] = uint64(args[i])
		}
	}
	res, err := f.Call(l.ctx, params...)
	if err != nil {
		l.logger.Error("Wasm function trapped",
			zap.String("function", f.Definition().DebugName()),
			zap.Error(err),
		)
		return 0
	}
	if len(res) == 0 {
		return 0
	}
	return uintptr(res[0])
}

// CallArgv copies argv into guest memory and calls fn with its pointer and
// length. An empty argv is passed as a null pointer.
func (l *Library) CallArgv(fn uintptr, argv []uintptr) uintptr {
	if len(argv) == 0 {
		return l.Call(fn, 0, 0)
	}
	mem := NewMemory(l.inst.Module())
	words := make([]uint64, len(argv))
	for i, w := range argv {
		words[i] = uint64(w)
	}
	ptr, err := mem.WriteWords(l.ctx, words)
	if err != nil {
		l.logger.Error("Failed to copy argument vector into Wasm memory", zap.Error(err))
		return 0
	}
	defer mem.Free(l.ctx, ptr)
	return l.Call(fn, uintptr(ptr), uintptr(len(argv)))
}

// function resolves fn to an export or a table entry taking n i64s.
func (l *Library) function(fn uintptr, n int) (api.Function, error) {
	if fn&exportTag != 0 {
		if f, ok := l.inst.exportAt(int(fn &^ exportTag)); ok {
			return f, nil
		}
		return nil, &FunctionNotFoundError{ModuleName: l.inst.Name, Address: fn}
	}

	params := make([]api.ValueType, n)
	for i := range params {
		params[i] = api.ValueTypeI64
	}
	for _, results := range [][]api.ValueType{{api.ValueTypeI64}, nil} {
		if f := lookupTable(l.inst.Module(), uint32(fn), params, results); f != nil {
			return f, nil
		}
	}
	return nil, &FunctionNotFoundError{ModuleName: l.inst.Name, Address: fn}
}

// lookupTable returns nil where table.LookupFunction would panic: out of
// range offsets, null entries and signature mismatches.
func lookupTable(mod api.Module, offset uint32, params, results []api.ValueType) (f api.Function) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
		}
	}()
	return table.LookupFunction(mod, 0, offset, params, results)
}

// Close closes the instance. Safe to call multiple times.
func (l *Library) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.inst.Close(l.ctx); err != nil {
		return fmt.Errorf("close wasm library %s: %w", l.path, err)
	}
	return nil
}
