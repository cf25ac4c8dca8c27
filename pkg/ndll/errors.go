package ndll

import (
	"errors"
	"fmt"

	"github.com/woxQAQ/ndll/internal/bridge"
)

// ErrNullEntry is matched when a factory symbol returns a null entry point.
var ErrNullEntry = errors.New("factory returned a null entry point")

// Stage names the load step that failed.
type Stage string

const (
	StageOpen     Stage = "open"
	StageSymbol   Stage = "symbol"
	StageFactory  Stage = "factory"
	StageLoader   Stage = "loader"
	StageCallback Stage = "callback"
)

// LoadError occurs when a native function cannot be loaded. Load absorbs it
// into a nil result; Open returns it.
type LoadError struct {
	Path   string
	Symbol string
	Stage  Stage
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load '%s' from '%s' (%s): %v", e.Symbol, e.Path, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ContractError occurs when the caller misuses the API: an arity outside the
// supported range, a call shape that does not match the declared arity, or
// use after Close.
type ContractError struct {
	Op     string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: contract violation: %s", e.Op, e.Reason)
}

// ContextActiveError occurs when a Context is created while another one is
// still open.
type ContextActiveError struct{}

func (e *ContextActiveError) Error() string {
	return "another ndll context is still open"
}

func (e *ContextActiveError) Unwrap() error {
	return bridge.ErrBridgeActive
}

// ResultError occurs when a native function returns a token that does not
// name a live value.
type ResultError struct {
	Func string
	Err  error
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("native function '%s' returned an invalid handle: %v", e.Func, e.Err)
}

func (e *ResultError) Unwrap() error {
	return e.Err
}
