package platform

import (
	"errors"
	"math"
	"os"
	"testing"
)

func TestCallFunc_Integers(t *testing.T) {
	add := func(a, b int64) int64 { return a + b }

	neg := int64(-4)
	got := CallFunc(add, []uintptr{3, uintptr(neg)})
	if int64(got) != -1 {
		t.Errorf("CallFunc(add, 3, -4) = %d, want -1", int64(got))
	}
}

func TestCallFunc_MissingAndSurplusArgs(t *testing.T) {
	pair := func(a, b uintptr) uintptr { return a*10 + b }

	if got := CallFunc(pair, []uintptr{7}); got != 70 {
		t.Errorf("missing arg: got %d, want 70", got)
	}
	if got := CallFunc(pair, []uintptr{1, 2, 3, 4}); got != 12 {
		t.Errorf("surplus args: got %d, want 12", got)
	}
}

func TestCallFunc_Variadic(t *testing.T) {
	sum := func(base uintptr, rest ...uintptr) uintptr {
		for _, r := range rest {
			base += r
		}
		return base
	}

	if got := CallFunc(sum, []uintptr{1, 2, 3, 4}); got != 10 {
		t.Errorf("CallFunc(sum) = %d, want 10", got)
	}
	if got := CallFunc(sum, nil); got != 0 {
		t.Errorf("CallFunc(sum) with no args = %d, want 0", got)
	}
}

func TestCallFunc_FloatsAndBools(t *testing.T) {
	half := func(f float64, negate bool) float64 {
		if negate {
			return -f / 2
		}
		return f / 2
	}

	got := CallFunc(half, []uintptr{uintptr(math.Float64bits(3)), 1})
	if f := math.Float64frombits(uint64(got)); f != -1.5 {
		t.Errorf("CallFunc(half) = %v, want -1.5", f)
	}
}

func TestCallFunc_NoResult(t *testing.T) {
	called := false
	fn := func() { called = true }

	if got := CallFunc(fn, nil); got != 0 {
		t.Errorf("void function returned %d", got)
	}
	if !called {
		t.Error("function was not called")
	}
}

func TestCallFunc_NotAFunction(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("CallFunc on a non-function should panic")
		}
	}()
	CallFunc(42, nil)
}

func TestErrors(t *testing.T) {
	openErr := &OpenError{Path: "/no/lib.so", Err: os.ErrNotExist}
	if !errors.Is(openErr, os.ErrNotExist) {
		t.Error("OpenError should unwrap to its cause")
	}
	if openErr.Error() != "failed to open library '/no/lib.so': file does not exist" {
		t.Errorf("unexpected message: %s", openErr.Error())
	}

	symErr := &SymbolNotFoundError{Path: "lib.so", Symbol: "add__2"}
	if symErr.Error() != "symbol 'add__2' not found in 'lib.so'" {
		t.Errorf("unexpected message: %s", symErr.Error())
	}
}
