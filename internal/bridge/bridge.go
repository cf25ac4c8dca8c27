// Package bridge exposes managed values to native code as opaque handle
// tokens and resolves the dynamic operations native code performs on them.
package bridge

import (
	"fmt"
	"math"
	"reflect"
	"runtime"
	"sync"
	"weak"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/woxQAQ/ndll/internal/handle"
	"github.com/woxQAQ/ndll/internal/intern"
	"github.com/woxQAQ/ndll/internal/platform"
)

// Bridge owns the handle registry, the frame stack and the name table of one
// context. Every native call runs between Enter and Leave; values native code
// creates in between are transient to that call.
//
// A Bridge is not safe for concurrent use.
type Bridge struct {
	reg    *handle.Registry
	frames *handle.FrameStack
	names  *intern.Table
	model  Model
	logger *zap.Logger

	libs        []platform.Library
	finalizable map[*finalizer]struct{}
	closed      bool

	// Finalizers of collected abstracts, queued by cleanups.
	collectedMu sync.Mutex
	collected   []*finalizer
}

// New creates a bridge resolving dynamic access through model. A nil model
// selects DynamicModel.
func New(logger *zap.Logger, model Model) *Bridge {
	if model == nil {
		model = DynamicModel{}
	}
	reg := handle.NewRegistry(logger)
	return &Bridge{
		reg:         reg,
		frames:      handle.NewFrameStack(reg),
		names:       intern.New(),
		model:       model,
		logger:      logger.With(zap.String("component", "bridge")),
		finalizable: make(map[*finalizer]struct{}),
	}
}

// Registry returns the handle registry.
func (b *Bridge) Registry() *handle.Registry { return b.reg }

// Names returns the name table.
func (b *Bridge) Names() *intern.Table { return b.names }

// Model returns the value model.
func (b *Bridge) Model() Model { return b.model }

// Enter opens a frame for a call into lib.
func (b *Bridge) Enter(lib platform.Library) handle.Frame {
	b.libs = append(b.libs, lib)
	return b.frames.Open()
}

// Leave closes f, releasing every transient value created since Enter.
func (b *Bridge) Leave(f handle.Frame) error {
	if err := b.frames.Close(f); err != nil {
		return err
	}
	b.libs = b.libs[:len(b.libs)-1]
	return nil
}

// Depth returns the number of native calls in progress.
func (b *Bridge) Depth() int { return b.frames.Depth() }

// Library returns the library of the innermost native call, or nil.
func (b *Bridge) Library() platform.Library {
	if len(b.libs) == 0 {
		return nil
	}
	return b.libs[len(b.libs)-1]
}

// Wrap registers v as a transient value.
func (b *Bridge) Wrap(v any) handle.Token {
	if v == nil {
		return handle.Null
	}
	return b.reg.CreateTransient(v)
}

// Unwrap resolves t.
func (b *Bridge) Unwrap(t handle.Token) (any, error) {
	return b.reg.Resolve(t)
}

// AllocNull returns the null token.
func (b *Bridge) AllocNull() handle.Token { return 0 }

// AllocInt wraps n.
func (b *Bridge) AllocInt(n int) handle.Token { return b.Wrap(n) }

// AllocFloat wraps f.
func (b *Bridge) AllocFloat(f float64) handle.Token { return b.Wrap(f) }

// AllocBool wraps v.
func (b *Bridge) AllocBool(v bool) handle.Token { return b.Wrap(v) }

// AllocString wraps s.
func (b *Bridge) AllocString(s string) handle.Token { return b.Wrap(s) }

// Int reads an integer value.
func (b *Bridge) Int(t handle.Token) (int, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return 0, err
	}
	if n, ok := toInt(v); ok {
		return n, nil
	}
	return 0, &TypeError{Op: "val_int", Want: TypeInt, Got: TypeOf(v)}
}

// Float reads a numeric value as a float.
func (b *Bridge) Float(t handle.Token) (float64, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return 0, err
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	return 0, &TypeError{Op: "val_float", Want: TypeFloat, Got: TypeOf(v)}
}

// Bool reads a bool value.
func (b *Bridge) Bool(t handle.Token) (bool, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return false, err
	}
	if v, ok := v.(bool); ok {
		return v, nil
	}
	return false, &TypeError{Op: "val_bool", Want: TypeBool, Got: TypeOf(v)}
}

// String reads a string or byte slice value.
func (b *Bridge) String(t handle.Token) (string, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return "", err
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", &TypeError{Op: "val_string", Want: TypeString, Got: TypeOf(v)}
}

// TypeOf classifies the value referenced by t.
func (b *Bridge) TypeOf(t handle.Token) (ValueType, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return TypeUnknown, err
	}
	return TypeOf(v), nil
}

// ID interns a field name.
func (b *Bridge) ID(name string) int { return b.names.Intern(name) }

// Name returns the field name for id.
func (b *Bridge) Name(id int) (string, error) { return b.names.Resolve(id) }

// EmptyObject wraps a new dynamic object.
func (b *Bridge) EmptyObject() handle.Token { return b.Wrap(NewObject()) }

// Field reads field id of recv.
func (b *Bridge) Field(recv handle.Token, id int) (handle.Token, error) {
	name, err := b.names.Resolve(id)
	if err != nil {
		return handle.Null, err
	}
	r, err := b.reg.Resolve(recv)
	if err != nil {
		return handle.Null, err
	}
	v, err := b.model.Get(r, name)
	if err != nil {
		return handle.Null, err
	}
	return b.Wrap(v), nil
}

// SetField assigns field id of recv.
func (b *Bridge) SetField(recv handle.Token, id int, v handle.Token) error {
	name, err := b.names.Resolve(id)
	if err != nil {
		return err
	}
	r, err := b.reg.Resolve(recv)
	if err != nil {
		return err
	}
	val, err := b.reg.Resolve(v)
	if err != nil {
		return err
	}
	return b.model.Set(r, name, val)
}

// AllocArray wraps a new array of n nulls.
func (b *Bridge) AllocArray(n int) handle.Token {
	if n < 0 {
		n = 0
	}
	return b.Wrap(&Array{items: make([]any, n)})
}

// ArraySize returns the length of an array value.
func (b *Bridge) ArraySize(t handle.Token) (int, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return 0, err
	}
	switch a := v.(type) {
	case *Array:
		return a.Len(), nil
	case []any:
		return len(a), nil
	case []byte:
		return len(a), nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv.Len(), nil
	}
	return 0, &TypeError{Op: "val_array_size", Want: TypeArray, Got: TypeOf(v)}
}

// ArrayAt reads element i of an array value.
func (b *Bridge) ArrayAt(t handle.Token, i int) (handle.Token, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return handle.Null, err
	}
	var elem any
	switch a := v.(type) {
	case *Array:
		if i < 0 || i >= a.Len() {
			return handle.Null, &IndexError{Index: i, Len: a.Len()}
		}
		elem = a.At(i)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return handle.Null, &TypeError{Op: "val_array_i", Want: TypeArray, Got: TypeOf(v)}
		}
		if i < 0 || i >= rv.Len() {
			return handle.Null, &IndexError{Index: i, Len: rv.Len()}
		}
		elem = rv.Index(i).Interface()
	}
	return b.Wrap(elem), nil
}

// ArraySet assigns element i of an array value. Arrays built by native code
// grow to fit i.
func (b *Bridge) ArraySet(t handle.Token, i int, v handle.Token) error {
	arr, err := b.reg.Resolve(t)
	if err != nil {
		return err
	}
	val, err := b.reg.Resolve(v)
	if err != nil {
		return err
	}
	switch a := arr.(type) {
	case *Array:
		if i < 0 {
			return &IndexError{Index: i, Len: a.Len()}
		}
		a.Set(i, val)
		return nil
	case []any:
		if i < 0 || i >= len(a) {
			return &IndexError{Index: i, Len: len(a)}
		}
		a[i] = val
		return nil
	}
	return &TypeError{Op: "val_array_set_i", Want: TypeArray, Got: TypeOf(arr)}
}

// ArrayPush appends to an array built by native code.
func (b *Bridge) ArrayPush(t handle.Token, v handle.Token) error {
	arr, err := b.reg.Resolve(t)
	if err != nil {
		return err
	}
	val, err := b.reg.Resolve(v)
	if err != nil {
		return err
	}
	a, ok := arr.(*Array)
	if !ok {
		return &TypeError{Op: "val_array_push", Want: TypeArray, Got: TypeOf(arr)}
	}
	a.Push(val)
	return nil
}

// Call invokes the function value fn.
func (b *Bridge) Call(fn handle.Token, args []handle.Token) (handle.Token, error) {
	f, err := b.reg.Resolve(fn)
	if err != nil {
		return handle.Null, err
	}
	return b.invoke(f, "", args)
}

// Invoke calls member id of recv.
func (b *Bridge) Invoke(recv handle.Token, id int, args []handle.Token) (handle.Token, error) {
	name, err := b.names.Resolve(id)
	if err != nil {
		return handle.Null, err
	}
	r, err := b.reg.Resolve(recv)
	if err != nil {
		return handle.Null, err
	}
	return b.invoke(r, name, args)
}

func (b *Bridge) invoke(recv any, name string, args []handle.Token) (_ handle.Token, err error) {
	vals := make([]any, len(args))
	for i, a := range args {
		if vals[i], err = b.reg.Resolve(a); err != nil {
			return handle.Null, fmt.Errorf("argument %d: %w", i, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("managed call %q panicked: %v", name, r)
		}
	}()
	res, err := b.model.Invoke(recv, name, vals)
	if err != nil {
		return handle.Null, err
	}
	return b.Wrap(res), nil
}

// Root creates a persistent handle for the value of t. The handle survives
// frame exits until Unroot.
func (b *Bridge) Root(t handle.Token) (handle.Token, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return handle.Null, err
	}
	return b.reg.CreatePersistent(v), nil
}

// Unroot releases a persistent handle.
func (b *Bridge) Unroot(t handle.Token) error {
	return b.reg.DestroyPersistent(t)
}

// BytesAddress returns the address of a byte buffer value, pinned until the
// current frame closes. Strings are copied to raw memory.
func (b *Bridge) BytesAddress(t handle.Token) (uintptr, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case []byte:
		if len(v) == 0 {
			return 0, nil
		}
		return b.reg.AddressOfPinned(v)
	case string:
		return b.reg.AllocateCString(v)
	}
	return 0, &TypeError{Op: "val_bytes", Want: TypeArray, Got: TypeOf(v)}
}

// BytesLen returns the length of a byte buffer or string value.
func (b *Bridge) BytesLen(t handle.Token) (int, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case []byte:
		return len(v), nil
	case string:
		return len(v), nil
	}
	return 0, &TypeError{Op: "val_bytes_len", Want: TypeArray, Got: TypeOf(v)}
}

// CString copies a string value into raw memory owned by the current frame.
func (b *Bridge) CString(t handle.Token) (uintptr, error) {
	s, err := b.String(t)
	if err != nil {
		return 0, err
	}
	return b.reg.AllocateCString(s)
}

// AllocAbstract wraps a native resource.
func (b *Bridge) AllocAbstract(kind, ptr uintptr) handle.Token {
	return b.Wrap(&Abstract{Kind: kind, Pointer: ptr})
}

// Abstract resolves an abstract value.
func (b *Bridge) Abstract(t handle.Token) (*Abstract, error) {
	v, err := b.reg.Resolve(t)
	if err != nil {
		return nil, err
	}
	a, ok := v.(*Abstract)
	if !ok {
		return nil, &TypeError{Op: "val_data", Want: TypeAbstract, Got: TypeOf(v)}
	}
	return a, nil
}

// AbstractKind returns the kind tag of the abstract t.
func (b *Bridge) AbstractKind(t handle.Token) (uintptr, error) {
	a, err := b.Abstract(t)
	if err != nil {
		return 0, err
	}
	return a.Kind, nil
}

// AbstractData returns the native pointer wrapped by the abstract t.
func (b *Bridge) AbstractData(t handle.Token) (uintptr, error) {
	a, err := b.Abstract(t)
	if err != nil {
		return 0, err
	}
	return a.Pointer, nil
}

// SetFinalizer attaches the native finalizer fn to the abstract t. fn belongs
// to the library of the current native call and runs at most once: on
// DisposeAbstract, when the abstract is collected, when that library is
// unloaded or when the bridge closes, whichever comes first.
func (b *Bridge) SetFinalizer(t handle.Token, fn uintptr) error {
	a, err := b.Abstract(t)
	if err != nil {
		return err
	}
	lib := b.Library()
	if lib == nil {
		return ErrNoLibrary
	}
	if a.fin != nil {
		return ErrFinalizerSet
	}
	fin := &finalizer{fn: fn, lib: lib, kind: a.Kind, data: a.Pointer, self: weak.Make(a)}
	a.fin = fin
	fin.cleanup = runtime.AddCleanup(a, b.enqueueCollected, fin)
	b.finalizable[fin] = struct{}{}
	return nil
}

// enqueueCollected runs on the cleanup goroutine, so it only records fin.
func (b *Bridge) enqueueCollected(fin *finalizer) {
	b.collectedMu.Lock()
	defer b.collectedMu.Unlock()
	b.collected = append(b.collected, fin)
}

// DisposeAbstract runs the finalizer of a inside its own frame, passing a
// handle to a. It does nothing when a has no finalizer or was already
// disposed.
func (b *Bridge) DisposeAbstract(a *Abstract) error {
	if a.disposed {
		return nil
	}
	a.disposed = true
	if a.fin == nil {
		return nil
	}
	return b.finalize(a.fin)
}

func (b *Bridge) finalize(fin *finalizer) error {
	if fin.done {
		return nil
	}
	fin.done = true
	fin.cleanup.Stop()
	delete(b.finalizable, fin)

	a := fin.abstract()
	a.disposed = true
	f := b.Enter(fin.lib)
	fin.lib.Call(fin.fn, uintptr(b.Wrap(a)))
	return b.Leave(f)
}

// DisposeLibrary runs every pending finalizer that belongs to lib. Call it
// before lib is closed.
func (b *Bridge) DisposeLibrary(lib platform.Library) error {
	var err error
	for fin := range b.finalizable {
		if fin.lib == lib {
			err = multierr.Append(err, b.finalize(fin))
		}
	}
	return err
}

// ReclaimAbstracts runs the finalizers of abstracts collected since the last
// call and returns how many ran.
func (b *Bridge) ReclaimAbstracts() int {
	b.collectedMu.Lock()
	queue := b.collected
	b.collected = nil
	b.collectedMu.Unlock()

	n := 0
	for _, fin := range queue {
		if fin.done || b.closed {
			continue
		}
		if err := b.finalize(fin); err != nil {
			b.logger.Warn("Failed to finalize collected abstract", zap.Error(err))
		}
		n++
	}
	if n > 0 {
		b.logger.Debug("Finalized collected abstracts", zap.Int("count", n))
	}
	return n
}

// Pending returns the number of finalizers that have not run yet.
func (b *Bridge) Pending() int { return len(b.finalizable) }

// Log writes a message from native code. Levels are 0 debug, 1 info, 2 warn
// and 3 error.
func (b *Bridge) Log(level int, msg string) {
	switch level {
	case 0:
		b.logger.Debug(msg)
	case 2:
		b.logger.Warn(msg)
	case 3:
		b.logger.Error(msg)
	default:
		b.logger.Info(msg)
	}
}

// Misuse reports an invalid request from native code. The request yields the
// null token or a zero value.
func (b *Bridge) Misuse(op string, err error) {
	b.logger.Error("Native callback misuse",
		zap.String("op", op),
		zap.Int("depth", b.Depth()),
		zap.Error(err),
	)
}

// Close runs pending abstract finalizers and disposes the registry. Safe to
// call multiple times.
func (b *Bridge) Close() error {
	if b.closed {
		return nil
	}
	b.ReclaimAbstracts()
	var err error
	for fin := range b.finalizable {
		err = multierr.Append(err, b.finalize(fin))
	}
	b.reg.Dispose()
	b.closed = true
	return err
}

// Closed reports whether Close has run.
func (b *Bridge) Closed() bool { return b.closed }

func toInt(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int(rv.Uint()), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if n, ok := toInt(v); ok {
		return float64(n), true
	}
	return math.NaN(), false
}
