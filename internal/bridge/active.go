package bridge

import "sync/atomic"

// Native callbacks are process-wide, so at most one bridge serves them.
var active atomic.Pointer[Bridge]

// Activate makes b the bridge native callbacks dispatch to.
func Activate(b *Bridge) error {
	if active.Load() == b {
		return nil
	}
	if !active.CompareAndSwap(nil, b) {
		return ErrBridgeActive
	}
	return nil
}

// Deactivate detaches b if it is the active bridge.
func Deactivate(b *Bridge) {
	active.CompareAndSwap(b, nil)
}

// Active returns the bridge native callbacks dispatch to, or nil.
func Active() *Bridge {
	return active.Load()
}
