// Package platformtest provides an in-process platform whose libraries are
// tables of Go functions, for exercising the loader and bridge without a C
// toolchain.
package platformtest

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/woxQAQ/ndll/internal/platform"
)

// Fake is a platform.Platform backed by Go functions. Every function, symbol
// and callback gets a distinct fake address; Call dispatches on it through
// platform.CallFunc.
type Fake struct {
	mu      sync.Mutex
	libs    map[string]map[string]any
	funcs   map[uintptr]any
	next    uintptr
	open    map[*Library]struct{}
	opened  int
	closed  int
	callbks int
}

// New creates an empty fake platform.
func New() *Fake {
	return &Fake{
		libs:  make(map[string]map[string]any),
		funcs: make(map[uintptr]any),
		next:  0x1000,
		open:  make(map[*Library]struct{}),
	}
}

// AddLibrary makes path loadable with the given exported symbols.
func (f *Fake) AddLibrary(path string, symbols map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.libs[path] = symbols
}

// Func registers fn and returns its fake address, as a factory symbol would
// return a real entry point.
func (f *Fake) Func(fn any) uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.register(fn)
}

func (f *Fake) register(fn any) uintptr {
	f.next += 0x10
	f.funcs[f.next] = fn
	return f.next
}

// Name implements platform.Platform.
func (f *Fake) Name() string { return "fake" }

// Open implements platform.Platform.
func (f *Fake) Open(path string) (platform.Library, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	symbols, ok := f.libs[path]
	if !ok {
		return nil, &platform.OpenError{Path: path, Err: os.ErrNotExist}
	}
	lib := &Library{fake: f, path: path, symbols: make(map[string]uintptr, len(symbols))}
	for name, fn := range symbols {
		lib.symbols[name] = f.register(fn)
	}
	f.open[lib] = struct{}{}
	f.opened++
	return lib, nil
}

// NewCallback implements platform.Platform.
func (f *Fake) NewCallback(fn any) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbks++
	return f.register(fn), nil
}

// Call invokes the function registered at addr.
func (f *Fake) Call(addr uintptr, args ...uintptr) uintptr {
	f.mu.Lock()
	fn, ok := f.funcs[addr]
	f.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("platformtest: call to unknown address %#x", addr))
	}
	return platform.CallFunc(fn, args)
}

// Resolve asks the loader callback at loader for the entry named name, the
// way native code passes a C string.
func (f *Fake) Resolve(loader uintptr, name string) uintptr {
	cs := append([]byte(name), 0)
	ptr := f.Call(loader, uintptr(unsafe.Pointer(&cs[0])))
	runtime.KeepAlive(cs)
	return ptr
}

// CString returns a NUL-terminated copy of s and its address. The slice must
// be kept alive while the address is in use.
func CString(s string) ([]byte, uintptr) {
	cs := append([]byte(s), 0)
	return cs, uintptr(unsafe.Pointer(&cs[0]))
}

// OpenCount returns the number of libraries currently open.
func (f *Fake) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

// Opened returns the total number of successful Open calls.
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Closed returns the total number of Close calls that unloaded a library.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Callbacks returns the number of NewCallback calls.
func (f *Fake) Callbacks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbks
}

// Library is a library opened from a Fake.
type Library struct {
	fake    *Fake
	path    string
	symbols map[string]uintptr
	closed  bool
}

// Path implements platform.Library.
func (l *Library) Path() string { return l.path }

// Lookup implements platform.Library.
func (l *Library) Lookup(name string) (uintptr, error) {
	if l.closed {
		return 0, platform.ErrClosed
	}
	addr, ok := l.symbols[name]
	if !ok {
		return 0, &platform.SymbolNotFoundError{Path: l.path, Symbol: name}
	}
	return addr, nil
}

// Call implements platform.Library.
func (l *Library) Call(fn uintptr, args ...uintptr) uintptr {
	return l.fake.Call(fn, args...)
}

// Close implements platform.Library. Closing twice does not count twice.
func (l *Library) Close() error {
	l.fake.mu.Lock()
	defer l.fake.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	delete(l.fake.open, l)
	l.fake.closed++
	return nil
}
