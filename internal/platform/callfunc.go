package platform

import (
	"fmt"
	"math"
	"reflect"
	"unsafe"
)

// CallFunc invokes the Go function fn as if it were called through a C
// function pointer: each argument is a pointer-sized word converted to the
// parameter's type. Missing arguments are zero and surplus arguments are
// dropped, as with the cdecl convention.
//
// Supported parameter and result kinds are integers, uintptr, bool, float32,
// float64 (as IEEE-754 bits) and unsafe.Pointer.
func CallFunc(fn any, args []uintptr) uintptr {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		panic(fmt.Sprintf("platform: CallFunc on non-function %T", fn))
	}
	ft := fv.Type()

	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}

	in := make([]reflect.Value, 0, len(args))
	for i := 0; i < fixed; i++ {
		var w uintptr
		if i < len(args) {
			w = args[i]
		}
		in = append(in, wordToValue(w, ft.In(i)))
	}
	if ft.IsVariadic() {
		elem := ft.In(fixed).Elem()
		for i := fixed; i < len(args); i++ {
			in = append(in, wordToValue(args[i], elem))
		}
	}

	out := fv.Call(in)
	if len(out) == 0 {
		return 0
	}
	return valueToWord(out[0])
}

func wordToValue(w uintptr, t reflect.Type) reflect.Value {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(int64(w))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		v.SetUint(uint64(w))
	case reflect.Bool:
		v.SetBool(w != 0)
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(uint32(w))))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(uint64(w)))
	case reflect.UnsafePointer:
		v.SetPointer(unsafe.Pointer(w))
	default:
		panic(fmt.Sprintf("platform: unsupported parameter type %s", t))
	}
	return v
}

func valueToWord(v reflect.Value) uintptr {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uintptr(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintptr(v.Uint())
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	case reflect.Float32:
		return uintptr(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		return uintptr(math.Float64bits(v.Float()))
	case reflect.UnsafePointer:
		return uintptr(v.UnsafePointer())
	default:
		panic(fmt.Sprintf("platform: unsupported result type %s", v.Type()))
	}
}
