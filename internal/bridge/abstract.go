package bridge

import (
	"fmt"
	"runtime"
	"weak"

	"github.com/woxQAQ/ndll/internal/platform"
)

// Abstract is an opaque native resource carried through managed code. Kind tags
// the resource type; Pointer is the native data it wraps.
type Abstract struct {
	Kind    uintptr
	Pointer uintptr

	fin      *finalizer
	disposed bool
}

// Finalizer returns the native finalizer address, or 0.
func (a *Abstract) Finalizer() uintptr {
	if a.fin == nil {
		return 0
	}
	return a.fin.fn
}

// Disposed reports whether the abstract was disposed.
func (a *Abstract) Disposed() bool { return a.disposed }

func (a *Abstract) String() string {
	return fmt.Sprintf("abstract(kind %#x, data %#x)", a.Kind, a.Pointer)
}

// finalizer is the pending native finalizer of one abstract. It refers to
// the abstract only weakly, so an unreachable abstract is collected and its
// finalizer queued.
type finalizer struct {
	fn      uintptr
	lib     platform.Library
	kind    uintptr
	data    uintptr
	self    weak.Pointer[Abstract]
	cleanup runtime.Cleanup
	done    bool
}

// abstract returns the abstract the finalizer belongs to, or a stand-in with
// the same kind and data once it has been collected.
func (f *finalizer) abstract() *Abstract {
	if a := f.self.Value(); a != nil {
		return a
	}
	return &Abstract{Kind: f.kind, Pointer: f.data, fin: f}
}
