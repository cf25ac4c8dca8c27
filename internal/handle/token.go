package handle

import "fmt"

// Token is the pointer-sized value native code holds in place of a managed value.
//
// Layout (most significant bit first):
//
//	[class:2][generation:30][index:32]
//
// The zero Token is the null reference. Generations start at 1, so a live
// token is never zero.
type Token uint64

// Null is the token that resolves to nil.
const Null Token = 0

// Class is the lifetime class of a handle.
type Class uint8

const (
	// ClassNone only appears on the null token.
	ClassNone Class = iota
	// ClassTransient handles are owned by the enclosing call frame.
	ClassTransient
	// ClassPinned handles are transient and keep the value's storage at a fixed address.
	ClassPinned
	// ClassPersistent handles live until DestroyPersistent.
	ClassPersistent
)

const (
	classShift = 62
	genShift   = 32
	genMask    = 1<<30 - 1
	indexMask  = 1<<32 - 1
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassPinned:
		return "pinned"
	case ClassPersistent:
		return "persistent"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

func makeToken(c Class, gen uint32, index int) Token {
	return Token(uint64(c)<<classShift | uint64(gen&genMask)<<genShift | uint64(index)&indexMask)
}

// Class returns the lifetime class encoded in the token.
func (t Token) Class() Class {
	return Class(t >> classShift)
}

// IsNull reports whether t is the null reference.
func (t Token) IsNull() bool {
	return t == Null
}

func (t Token) generation() uint32 {
	return uint32(t>>genShift) & genMask
}

func (t Token) index() int {
	return int(t & indexMask)
}

func (t Token) String() string {
	if t.IsNull() {
		return "token(null)"
	}
	return fmt.Sprintf("token(%s #%d gen %d)", t.Class(), t.index(), t.generation())
}

// nextGeneration advances a generation counter, skipping zero.
func nextGeneration(g uint32) uint32 {
	g = (g + 1) & genMask
	if g == 0 {
		g = 1
	}
	return g
}
