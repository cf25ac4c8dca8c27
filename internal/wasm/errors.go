package wasm

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is matched when a guest pointer and length leave linear memory.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrOutOfMemory is matched when the guest allocator returns a null pointer.
	ErrOutOfMemory = errors.New("guest out of memory")
)

// CompilationError occurs when a guest binary fails to compile.
type CompilationError struct {
	ModuleName string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile guest '%s': %v", e.ModuleName, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// InstantiationError occurs when a compiled guest cannot be instantiated,
// typically because it imports something hxcffi does not provide.
type InstantiationError struct {
	ModuleName string
	InstanceID string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate guest '%s' as %s: %v", e.ModuleName, e.InstanceID, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// InstanceLimitError occurs when the runtime already holds its maximum
// number of live instances.
type InstanceLimitError struct {
	Limit int
}

func (e *InstanceLimitError) Error() string {
	return fmt.Sprintf("instance limit reached (%d live instances)", e.Limit)
}

// FunctionNotFoundError occurs when a guest address names no callable
// function: an unknown export index, an empty table slot or a signature that
// is not all i64.
type FunctionNotFoundError struct {
	ModuleName string
	Address    uintptr
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("no function at address %#x in module '%s'", e.Address, e.ModuleName)
}

// MemoryAccessError occurs when a host function cannot read or write the
// guest buffer it was handed.
type MemoryAccessError struct {
	Operation string
	Address   uint32
	Length    uint32
	Err       error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("guest memory %s of %d bytes at %#x: %v", e.Operation, e.Length, e.Address, e.Err)
}

func (e *MemoryAccessError) Unwrap() error { return e.Err }

// HostFunctionError occurs when the hxcffi host module cannot be built.
type HostFunctionError struct {
	FunctionName string
	Err          error
}

func (e *HostFunctionError) Error() string {
	return fmt.Sprintf("host module '%s': %v", e.FunctionName, e.Err)
}

func (e *HostFunctionError) Unwrap() error { return e.Err }
