//go:build darwin || (linux && (amd64 || arm64))

package platform

import (
	"sync"

	"github.com/ebitengine/purego"
)

var native = &sharedLibraryPlatform{}

// Native returns the dlopen-based platform. It is a process-wide singleton.
func Native() Platform {
	return native
}

type sharedLibraryPlatform struct{}

func (*sharedLibraryPlatform) Name() string { return "native" }

// Open loads a shared library with lazy symbol binding.
func (*sharedLibraryPlatform) Open(path string) (Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_LOCAL)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	return &SharedLibrary{path: path, handle: h}, nil
}

// NewCallback wraps fn with purego. fn must take and return pointer-sized
// integer kinds.
func (*sharedLibraryPlatform) NewCallback(fn any) (ptr uintptr, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{Err: r}
		}
	}()
	return purego.NewCallback(fn), nil
}

// SharedLibrary an abstraction around a platform specific shared library.
type SharedLibrary struct {
	path string

	mu     sync.Mutex
	handle uintptr
}

// Path returns the path the library was opened from.
func (so *SharedLibrary) Path() string { return so.path }

// Lookup returns the address of the named symbol.
func (so *SharedLibrary) Lookup(name string) (uintptr, error) {
	so.mu.Lock()
	h := so.handle
	so.mu.Unlock()
	if h == 0 {
		return 0, ErrClosed
	}
	sym, err := purego.Dlsym(h, name)
	if err != nil {
		return 0, &SymbolNotFoundError{Path: so.path, Symbol: name, Err: err}
	}
	if sym == 0 {
		return 0, &SymbolNotFoundError{Path: so.path, Symbol: name}
	}
	return sym, nil
}

// Call invokes the C function at fn.
func (so *SharedLibrary) Call(fn uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(fn, args...)
	return r1
}

// Close releases the dynamically loaded library from this process.
func (so *SharedLibrary) Close() error {
	so.mu.Lock()
	defer so.mu.Unlock()
	if so.handle == 0 {
		return nil
	}
	err := purego.Dlclose(so.handle)
	so.handle = 0
	return err
}
