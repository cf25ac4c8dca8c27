package platform

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by backends that are not available on this OS.
var ErrUnsupported = errors.New("platform: not supported on this system")

// ErrClosed is returned when a closed library is used.
var ErrClosed = errors.New("platform: library closed")

// OpenError occurs when a library cannot be loaded.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open library '%s': %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// SymbolNotFoundError occurs when a library does not export a symbol.
type SymbolNotFoundError struct {
	Path   string
	Symbol string
	Err    error
}

func (e *SymbolNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("symbol '%s' not found in '%s': %v", e.Symbol, e.Path, e.Err)
	}
	return fmt.Sprintf("symbol '%s' not found in '%s'", e.Symbol, e.Path)
}

func (e *SymbolNotFoundError) Unwrap() error {
	return e.Err
}

// CallbackError occurs when a Go function cannot be turned into a callback.
type CallbackError struct {
	Err any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("failed to create callback: %v", e.Err)
}
