package platform

// Platform is the process-level loader capability: open a library by path and
// turn Go functions into pointers that foreign code can call back through.
type Platform interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Open loads the library at path.
	Open(path string) (Library, error)

	// NewCallback returns a foreign-callable pointer for fn. Pointers are
	// never released; callers create a bounded number of them.
	NewCallback(fn any) (uintptr, error)
}

// Library is one loaded module. Function pointers are only meaningful to the
// library that produced them.
type Library interface {
	// Path returns the path the library was opened from.
	Path() string

	// Lookup resolves an exported symbol.
	Lookup(name string) (uintptr, error)

	// Call invokes the function at fn with pointer-sized arguments and returns
	// its pointer-sized result.
	Call(fn uintptr, args ...uintptr) uintptr

	// Close unloads the library.
	Close() error
}

// ArgvCaller is implemented by libraries that cannot read an argument vector
// from host memory and need it copied into their own address space.
type ArgvCaller interface {
	CallArgv(fn uintptr, argv []uintptr) uintptr
}
