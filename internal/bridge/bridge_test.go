package bridge

import (
	"errors"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/ndll/internal/handle"
	"github.com/woxQAQ/ndll/internal/platform/platformtest"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(zaptest.NewLogger(t), nil)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBridge_Scalars(t *testing.T) {
	b := newTestBridge(t)

	n, err := b.Int(b.AllocInt(-12))
	require.NoError(t, err)
	require.Equal(t, -12, n)

	f, err := b.Float(b.AllocFloat(2.25))
	require.NoError(t, err)
	require.Equal(t, 2.25, f)

	f, err = b.Float(b.AllocInt(3))
	require.NoError(t, err)
	require.Equal(t, 3.0, f)

	v, err := b.Bool(b.AllocBool(true))
	require.NoError(t, err)
	require.True(t, v)

	s, err := b.String(b.AllocString("héllo"))
	require.NoError(t, err)
	require.Equal(t, "héllo", s)

	typ, err := b.TypeOf(handle.Null)
	require.NoError(t, err)
	require.Equal(t, TypeNull, typ)
}

func TestBridge_TypeErrors(t *testing.T) {
	b := newTestBridge(t)
	str := b.AllocString("x")

	var typeErr *TypeError
	_, err := b.Int(str)
	require.True(t, errors.As(err, &typeErr))
	require.Equal(t, TypeInt, typeErr.Want)
	require.Equal(t, TypeString, typeErr.Got)

	_, err = b.Bool(b.AllocInt(1))
	require.True(t, errors.As(err, &typeErr))

	_, err = b.String(b.AllocInt(1))
	require.True(t, errors.As(err, &typeErr))

	_, err = b.Int(handle.Token(0xdead))
	require.ErrorIs(t, err, handle.ErrInvalidToken)
}

func TestBridge_Objects(t *testing.T) {
	b := newTestBridge(t)

	obj := b.EmptyObject()
	id := b.ID("answer")
	require.Equal(t, id, b.ID("answer"))
	require.NoError(t, b.SetField(obj, id, b.AllocInt(42)))

	field, err := b.Field(obj, id)
	require.NoError(t, err)
	n, err := b.Int(field)
	require.NoError(t, err)
	require.Equal(t, 42, n)

	missing, err := b.Field(obj, b.ID("missing"))
	require.NoError(t, err)
	require.Equal(t, handle.Null, missing)

	_, err = b.Field(obj, 999)
	require.Error(t, err)

	name, err := b.Name(id)
	require.NoError(t, err)
	require.Equal(t, "answer", name)
}

func TestBridge_Arrays(t *testing.T) {
	b := newTestBridge(t)

	arr := b.AllocArray(2)
	size, err := b.ArraySize(arr)
	require.NoError(t, err)
	require.Equal(t, 2, size)

	require.NoError(t, b.ArraySet(arr, 3, b.AllocString("d")))
	require.NoError(t, b.ArrayPush(arr, b.AllocInt(5)))
	size, err = b.ArraySize(arr)
	require.NoError(t, err)
	require.Equal(t, 5, size)

	elem, err := b.ArrayAt(arr, 3)
	require.NoError(t, err)
	s, err := b.String(elem)
	require.NoError(t, err)
	require.Equal(t, "d", s)

	elem, err = b.ArrayAt(arr, 0)
	require.NoError(t, err)
	require.Equal(t, handle.Null, elem)

	var idxErr *IndexError
	_, err = b.ArrayAt(arr, 5)
	require.True(t, errors.As(err, &idxErr))
	require.Equal(t, 5, idxErr.Len)

	slice := b.Wrap([]int{7, 8})
	elem, err = b.ArrayAt(slice, 1)
	require.NoError(t, err)
	n, err := b.Int(elem)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	var typeErr *TypeError
	require.True(t, errors.As(b.ArrayPush(slice, elem), &typeErr))
}

func TestBridge_CallAndInvoke(t *testing.T) {
	b := newTestBridge(t)

	add := b.Wrap(func(a, c int) int { return a + c })
	res, err := b.Call(add, []handle.Token{b.AllocInt(3), b.AllocInt(4)})
	require.NoError(t, err)
	n, err := b.Int(res)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	recv := b.Wrap(&point{X: 2, Y: 3})
	res, err = b.Invoke(recv, b.ID("Sum"), nil)
	require.NoError(t, err)
	n, err = b.Int(res)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = b.Call(b.AllocInt(1), nil)
	require.ErrorIs(t, err, ErrNotCallable)

	_, err = b.Call(add, []handle.Token{handle.Token(0xbad)})
	require.ErrorIs(t, err, handle.ErrInvalidToken)

	panics := b.Wrap(func() int { panic("nope") })
	_, err = b.Call(panics, nil)
	require.ErrorContains(t, err, "panicked")
}

func TestBridge_FramesReleaseTransients(t *testing.T) {
	b := newTestBridge(t)
	lib := &platformtest.Library{}

	f := b.Enter(lib)
	require.Equal(t, 1, b.Depth())
	require.Equal(t, lib, b.Library())

	tok := b.AllocString("scoped")
	root, err := b.Root(tok)
	require.NoError(t, err)
	require.NoError(t, b.Leave(f))
	require.Equal(t, 0, b.Depth())
	require.Nil(t, b.Library())

	_, err = b.Unwrap(tok)
	require.ErrorIs(t, err, handle.ErrInvalidToken)

	s, err := b.String(root)
	require.NoError(t, err)
	require.Equal(t, "scoped", s)

	require.NoError(t, b.Unroot(root))
	require.ErrorIs(t, b.Unroot(root), handle.ErrInvalidToken)
}

func TestBridge_Buffers(t *testing.T) {
	b := newTestBridge(t)
	f := b.Enter(nil)

	data := []byte{1, 2, 3}
	addr, err := b.BytesAddress(b.Wrap(data))
	require.NoError(t, err)
	require.Equal(t, uintptr(unsafe.Pointer(&data[0])), addr)

	n, err := b.BytesLen(b.AllocString("abcd"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	cs, err := b.CString(b.AllocString("native"))
	require.NoError(t, err)
	require.Equal(t, "native", goString(cs))

	before := b.Registry().MemoryCount()
	require.NoError(t, b.Leave(f))
	require.Less(t, b.Registry().MemoryCount(), before)
}

func TestBridge_AbstractFinalizer(t *testing.T) {
	b := newTestBridge(t)
	fake := platformtest.New()

	var finalized []uintptr
	fin := fake.Func(func(v uintptr) {
		a, err := b.Abstract(handle.Token(v))
		require.NoError(t, err)
		require.Positive(t, b.Depth(), "finalizer runs inside a frame")
		finalized = append(finalized, a.Pointer)
	})
	fake.AddLibrary("res.so", map[string]any{})
	lib, err := fake.Open("res.so")
	require.NoError(t, err)

	f := b.Enter(lib)
	tok := b.AllocAbstract(0x7, 0xcafe)
	var typeErr *TypeError
	require.True(t, errors.As(b.SetFinalizer(b.AllocInt(1), fin), &typeErr), "not an abstract")
	require.NoError(t, b.SetFinalizer(tok, fin))
	require.ErrorIs(t, b.SetFinalizer(tok, fin), ErrFinalizerSet)
	a, err := b.Abstract(tok)
	require.NoError(t, err)
	kind, err := b.AbstractKind(tok)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x7), kind)
	data, err := b.AbstractData(tok)
	require.NoError(t, err)
	require.Equal(t, uintptr(0xcafe), data)
	_, err = b.AbstractData(b.AllocNull())
	require.Error(t, err)

	require.NoError(t, b.DisposeAbstract(a))
	require.NoError(t, b.DisposeAbstract(a))
	require.Equal(t, []uintptr{0xcafe}, finalized)
	require.NoError(t, b.Leave(f))

	f = b.Enter(lib)
	require.NoError(t, b.SetFinalizer(b.AllocAbstract(0x7, 0xbeef), fin))
	require.NoError(t, b.Leave(f))

	require.NoError(t, b.Close())
	require.Equal(t, []uintptr{0xcafe, 0xbeef}, finalized, "close runs pending finalizers")
	require.True(t, b.Registry().Disposed())
}

func TestBridge_DisposeLibrary(t *testing.T) {
	b := newTestBridge(t)
	fake := platformtest.New()
	fake.AddLibrary("a.so", map[string]any{})
	fake.AddLibrary("b.so", map[string]any{})
	libA, err := fake.Open("a.so")
	require.NoError(t, err)
	libB, err := fake.Open("b.so")
	require.NoError(t, err)

	var finalized []uintptr
	fin := fake.Func(func(v uintptr) {
		data, err := b.AbstractData(handle.Token(v))
		require.NoError(t, err)
		require.Same(t, libA, b.Library())
		finalized = append(finalized, data)
	})

	f := b.Enter(libA)
	keep := []handle.Token{b.AllocAbstract(1, 0xa1), b.AllocAbstract(1, 0xa2)}
	for _, tok := range keep {
		require.NoError(t, b.SetFinalizer(tok, fin))
	}
	require.NoError(t, b.Leave(f))
	f = b.Enter(libB)
	other := b.AllocAbstract(1, 0xb1)
	require.NoError(t, b.SetFinalizer(other, fake.Func(func(uintptr) {
		t.Error("finalizer of another library ran")
	})))
	otherRoot, err := b.Root(other)
	require.NoError(t, err)
	require.NoError(t, b.Leave(f))

	require.NoError(t, b.DisposeLibrary(libA))
	require.ElementsMatch(t, []uintptr{0xa1, 0xa2}, finalized)
	require.Equal(t, 1, b.Pending())
	require.NoError(t, b.DisposeLibrary(libA))
	require.Len(t, finalized, 2)

	a, err := b.Abstract(otherRoot)
	require.NoError(t, err)
	require.False(t, a.Disposed())
	require.NoError(t, b.DisposeLibrary(libB))
}

func TestBridge_ReclaimAbstracts(t *testing.T) {
	b := newTestBridge(t)
	fake := platformtest.New()
	fake.AddLibrary("res.so", map[string]any{})
	lib, err := fake.Open("res.so")
	require.NoError(t, err)

	var finalized []uintptr
	fin := fake.Func(func(v uintptr) {
		a, err := b.Abstract(handle.Token(v))
		require.NoError(t, err)
		finalized = append(finalized, a.Pointer)
	})

	f := b.Enter(lib)
	require.NoError(t, b.SetFinalizer(b.AllocAbstract(0x2, 0xd00d), fin))
	require.NoError(t, b.Leave(f))
	require.Equal(t, 1, b.Pending())

	reclaimed := 0
	for i := 0; i < 100 && reclaimed == 0; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
		reclaimed = b.ReclaimAbstracts()
	}
	require.Equal(t, 1, reclaimed)
	require.Equal(t, []uintptr{0xd00d}, finalized)
	require.Equal(t, 0, b.Pending())
}

func TestBridge_SetFinalizerOutsideCall(t *testing.T) {
	b := New(zap.NewNop(), nil)
	defer b.Close()

	require.ErrorIs(t, b.SetFinalizer(b.AllocAbstract(1, 2), 0x10), ErrNoLibrary)
}

func TestActivate(t *testing.T) {
	first := New(zap.NewNop(), nil)
	second := New(zap.NewNop(), nil)

	require.NoError(t, Activate(first))
	require.NoError(t, Activate(first))
	require.ErrorIs(t, Activate(second), ErrBridgeActive)
	require.Same(t, first, Active())

	Deactivate(second)
	require.Same(t, first, Active())
	Deactivate(first)
	require.Nil(t, Active())
}
