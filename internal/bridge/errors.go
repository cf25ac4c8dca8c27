package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrBridgeActive is returned by Activate while another bridge is active.
	ErrBridgeActive = errors.New("another bridge is already active")

	// ErrFinalizerSet is returned when an abstract already has a finalizer.
	ErrFinalizerSet = errors.New("abstract finalizer already set")

	// ErrNoLibrary is returned when an operation needs the library of the
	// current native call but no call is in progress.
	ErrNoLibrary = errors.New("no native call in progress")
)

// TypeError occurs when a handle does not hold a value of the expected type.
type TypeError struct {
	Op   string
	Want ValueType
	Got  ValueType
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: expected %s value, got %s", e.Op, e.Want, e.Got)
}

// IndexError occurs when an array index is out of range.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("array index %d out of range [0, %d)", e.Index, e.Len)
}
