package handle

import (
	"container/list"
	"fmt"
	"reflect"
	"runtime"
	"unsafe"

	"go.uber.org/zap"
)

// Registry maps handle tokens to managed values.
//
// It owns three collections: the transient list (transient and pinned handles,
// trimmed back by call frames), the raw memory list, and the persistent list.
// A Registry is not safe for concurrent use; callers serialize access.
type Registry struct {
	transient []entry
	memory    []*block
	gen       uint32

	persistent *list.List
	slots      []slot
	freeSlot   int

	memoryBytes int
	disposed    bool
	logger      *zap.Logger
}

type entry struct {
	value  any
	gen    uint32
	pinner *runtime.Pinner
}

// persistentNode is the value stored in the persistent list.
type persistentNode struct {
	value any
	slot  int
}

// slot is one cell of the persistent arena. Free slots form a linked list
// through next.
type slot struct {
	elem *list.Element
	gen  uint32
	next int
}

const endOfSlots = -1

// Stats is a snapshot of registry occupancy.
type Stats struct {
	Transient   int
	Memory      int
	MemoryBytes int
	Persistent  int
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		persistent: list.New(),
		freeSlot:   endOfSlots,
		logger:     logger.With(zap.String("component", "handle-registry")),
	}
}

func (r *Registry) mustBeLive() {
	if r.disposed {
		panic("handle: registry used after Dispose")
	}
}

func (r *Registry) push(v any, c Class, p *runtime.Pinner) Token {
	r.gen = nextGeneration(r.gen)
	r.transient = append(r.transient, entry{value: v, gen: r.gen, pinner: p})
	return makeToken(c, r.gen, len(r.transient)-1)
}

// CreateTransient registers v until the enclosing frame closes.
func (r *Registry) CreateTransient(v any) Token {
	r.mustBeLive()
	return r.push(v, ClassTransient, nil)
}

// CreatePinned registers v and pins its storage until the enclosing frame closes.
func (r *Registry) CreatePinned(v any) (Token, error) {
	r.mustBeLive()
	p, _, err := pin(v)
	if err != nil {
		return Null, err
	}
	return r.push(v, ClassPinned, p), nil
}

// AddressOfPinned pins v and returns the address of its storage. The pin is
// tracked in the transient list and released with the enclosing frame.
func (r *Registry) AddressOfPinned(v any) (uintptr, error) {
	r.mustBeLive()
	p, addr, err := pin(v)
	if err != nil {
		return 0, err
	}
	r.push(v, ClassPinned, p)
	return addr, nil
}

// CreatePersistent registers v until DestroyPersistent. A nil value yields the
// null token.
func (r *Registry) CreatePersistent(v any) Token {
	r.mustBeLive()
	if v == nil {
		return Null
	}

	idx := r.freeSlot
	if idx == endOfSlots {
		r.slots = append(r.slots, slot{next: endOfSlots})
		idx = len(r.slots) - 1
	} else {
		r.freeSlot = r.slots[idx].next
	}

	s := &r.slots[idx]
	s.gen = nextGeneration(s.gen)
	s.next = endOfSlots
	s.elem = r.persistent.PushBack(&persistentNode{value: v, slot: idx})
	return makeToken(ClassPersistent, s.gen, idx)
}

// DestroyPersistent releases a persistent handle in constant time.
func (r *Registry) DestroyPersistent(t Token) error {
	s, err := r.persistentSlot(t)
	if err != nil {
		return err
	}
	r.persistent.Remove(s.elem)
	s.elem = nil
	s.next = r.freeSlot
	r.freeSlot = t.index()
	return nil
}

func (r *Registry) persistentSlot(t Token) (*slot, error) {
	if t.Class() != ClassPersistent {
		return nil, &InvalidTokenError{Token: t, Reason: "not a persistent handle"}
	}
	idx := t.index()
	if idx >= len(r.slots) {
		return nil, &InvalidTokenError{Token: t, Reason: "unknown persistent slot"}
	}
	s := &r.slots[idx]
	if s.elem == nil || s.gen != t.generation() {
		return nil, &InvalidTokenError{Token: t, Reason: "persistent handle already destroyed"}
	}
	return s, nil
}

// Resolve returns the value referenced by t.
func (r *Registry) Resolve(t Token) (any, error) {
	switch t.Class() {
	case ClassNone:
		if t.IsNull() {
			return nil, nil
		}
		return nil, &InvalidTokenError{Token: t, Reason: "no lifetime class"}
	case ClassTransient, ClassPinned:
		idx := t.index()
		if idx >= len(r.transient) || r.transient[idx].gen != t.generation() {
			return nil, &InvalidTokenError{Token: t, Reason: "transient handle released"}
		}
		return r.transient[idx].value, nil
	default:
		s, err := r.persistentSlot(t)
		if err != nil {
			return nil, err
		}
		return s.elem.Value.(*persistentNode).value, nil
	}
}

// AllocateRawMemory allocates an unmanaged block of length bytes and returns
// its address. The block is released with the enclosing frame.
func (r *Registry) AllocateRawMemory(length int) (uintptr, error) {
	b, err := r.allocate(length)
	if err != nil {
		return 0, err
	}
	return b.ptr, nil
}

// AllocateCString copies s into an unmanaged NUL-terminated block.
func (r *Registry) AllocateCString(s string) (uintptr, error) {
	b, err := r.allocate(len(s) + 1)
	if err != nil {
		return 0, err
	}
	buf := b.bytes()
	copy(buf, s)
	buf[len(s)] = 0
	return b.ptr, nil
}

func (r *Registry) allocate(length int) (*block, error) {
	r.mustBeLive()
	b, err := allocBlock(length)
	if err != nil {
		return nil, err
	}
	r.memory = append(r.memory, b)
	r.memoryBytes += b.size
	return b, nil
}

// Trim releases every transient handle and memory block beyond the given
// counts. It is the only way transient state is released.
func (r *Registry) Trim(transientCount, memoryCount int) error {
	if transientCount < 0 || memoryCount < 0 ||
		transientCount > len(r.transient) || memoryCount > len(r.memory) {
		return &TrimError{
			Transient:     transientCount,
			Memory:        memoryCount,
			HaveTransient: len(r.transient),
			HaveMemory:    len(r.memory),
		}
	}

	for i := transientCount; i < len(r.transient); i++ {
		if p := r.transient[i].pinner; p != nil {
			p.Unpin()
		}
		r.transient[i] = entry{}
	}
	r.transient = r.transient[:transientCount]

	for i := memoryCount; i < len(r.memory); i++ {
		r.releaseBlock(r.memory[i])
		r.memory[i] = nil
	}
	r.memory = r.memory[:memoryCount]
	return nil
}

func (r *Registry) releaseBlock(b *block) {
	r.memoryBytes -= b.size
	if err := b.release(); err != nil {
		r.logger.Warn("Failed to release memory block",
			zap.Int("size", b.size),
			zap.Error(err),
		)
	}
}

// Dispose releases every handle and memory block. Safe to call multiple times.
func (r *Registry) Dispose() {
	if r.disposed {
		return
	}
	_ = r.Trim(0, 0)

	for e := r.persistent.Front(); e != nil; e = e.Next() {
		e.Value.(*persistentNode).value = nil
	}
	r.persistent.Init()
	r.slots = nil
	r.freeSlot = endOfSlots
	r.disposed = true

	r.logger.Debug("Registry disposed")
}

// Persistent calls fn for every live persistent value, oldest first.
func (r *Registry) Persistent(fn func(t Token, v any) bool) {
	for e := r.persistent.Front(); e != nil; e = e.Next() {
		n := e.Value.(*persistentNode)
		if !fn(makeToken(ClassPersistent, r.slots[n.slot].gen, n.slot), n.value) {
			return
		}
	}
}

// TransientCount returns the length of the transient list.
func (r *Registry) TransientCount() int { return len(r.transient) }

// MemoryCount returns the length of the raw memory list.
func (r *Registry) MemoryCount() int { return len(r.memory) }

// PersistentCount returns the number of live persistent handles.
func (r *Registry) PersistentCount() int { return r.persistent.Len() }

// Stats returns current occupancy.
func (r *Registry) Stats() Stats {
	return Stats{
		Transient:   len(r.transient),
		Memory:      len(r.memory),
		MemoryBytes: r.memoryBytes,
		Persistent:  r.persistent.Len(),
	}
}

// Disposed reports whether Dispose has run.
func (r *Registry) Disposed() bool { return r.disposed }

// pin pins the storage behind v and returns its address.
func pin(v any) (*runtime.Pinner, uintptr, error) {
	rv := reflect.ValueOf(v)
	var ptr unsafe.Pointer
	switch rv.Kind() {
	case reflect.Pointer, reflect.UnsafePointer:
		if rv.IsNil() {
			return nil, 0, &NotPinnableError{Type: fmt.Sprintf("%T(nil)", v)}
		}
		ptr = rv.UnsafePointer()
	case reflect.Slice:
		if rv.Len() == 0 {
			return nil, 0, &NotPinnableError{Type: fmt.Sprintf("empty %T", v)}
		}
		ptr = rv.UnsafePointer()
	case reflect.String:
		if rv.Len() == 0 {
			return nil, 0, &NotPinnableError{Type: "empty string"}
		}
		ptr = unsafe.Pointer(unsafe.StringData(rv.String()))
	default:
		return nil, 0, &NotPinnableError{Type: fmt.Sprintf("%T", v)}
	}

	p := &runtime.Pinner{}
	p.Pin(ptr)
	return p, uintptr(ptr), nil
}
