package handle

import (
	"errors"
	"fmt"
)

// ErrInvalidToken is matched by every InvalidTokenError.
var ErrInvalidToken = errors.New("invalid handle token")

// InvalidTokenError occurs when a token does not name a live handle of the expected class.
type InvalidTokenError struct {
	Token  Token
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid handle %s: %s", e.Token, e.Reason)
}

func (e *InvalidTokenError) Unwrap() error {
	return ErrInvalidToken
}

// NotPinnableError occurs when a value has no storage that can be pinned.
type NotPinnableError struct {
	Type string
}

func (e *NotPinnableError) Error() string {
	return fmt.Sprintf("value of type %s cannot be pinned", e.Type)
}

// TrimError occurs when a trim target lies beyond the current list lengths.
type TrimError struct {
	Transient, Memory         int
	HaveTransient, HaveMemory int
}

func (e *TrimError) Error() string {
	return fmt.Sprintf("cannot trim to (%d handles, %d blocks): registry holds (%d handles, %d blocks)",
		e.Transient, e.Memory, e.HaveTransient, e.HaveMemory)
}

// FrameOrderError occurs when a frame is closed out of stack order.
type FrameOrderError struct {
	Depth int
	Top   int
}

func (e *FrameOrderError) Error() string {
	if e.Top == 0 {
		return fmt.Sprintf("frame at depth %d closed with no open frames", e.Depth)
	}
	return fmt.Sprintf("frame at depth %d closed while frame at depth %d is still open", e.Depth, e.Top)
}

// MemoryError occurs when an unmanaged block cannot be allocated.
type MemoryError struct {
	Length int
	Err    error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("failed to allocate %d bytes: %v", e.Length, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}
