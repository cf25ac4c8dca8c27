package bridge

import (
	"errors"
	"fmt"
	"reflect"
)

// Model resolves dynamic access on managed values. The bridge delegates every
// name-based operation native code performs to it.
type Model interface {
	// Get reads the field name of recv.
	Get(recv any, name string) (any, error)

	// Set assigns the field name of recv.
	Set(recv any, name string, v any) error

	// Invoke calls the member name of recv with args, or recv itself when
	// name is empty.
	Invoke(recv any, name string, args []any) (any, error)
}

// Caller is a managed value that can be invoked with dynamic arguments, like a
// loaded native function.
type Caller interface {
	Call(args ...any) (any, error)
}

// ErrNotCallable is matched when Invoke targets a value that is not a function.
var ErrNotCallable = errors.New("value is not callable")

// FieldError occurs when a field cannot be read or written.
type FieldError struct {
	Type   string
	Name   string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field '%s' of %s: %s", e.Name, e.Type, e.Reason)
}

// ArgumentError occurs when a managed function rejects its arguments.
type ArgumentError struct {
	Func   string
	Index  int
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("call to %s: %s", e.Func, e.Reason)
	}
	return fmt.Sprintf("call to %s: argument %d: %s", e.Func, e.Index, e.Reason)
}

// DynamicModel resolves fields on *Object, map[string]any and Go structs, and
// invokes Go functions, methods and Callers through reflection.
type DynamicModel struct{}

var _ Model = DynamicModel{}

// Get implements Model. Missing fields of dynamic objects read as nil.
func (DynamicModel) Get(recv any, name string) (any, error) {
	switch r := recv.(type) {
	case nil:
		return nil, &FieldError{Type: "null", Name: name, Reason: "receiver is null"}
	case *Object:
		v, _ := r.Get(name)
		return v, nil
	case map[string]any:
		return r[name], nil
	case *Array:
		if name == "length" {
			return r.Len(), nil
		}
	case string:
		if name == "length" {
			return len(r), nil
		}
	}

	rv := reflect.ValueOf(recv)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && name == "length" {
		return rv.Len(), nil
	}
	if m := rv.MethodByName(name); m.IsValid() {
		return m.Interface(), nil
	}
	sv := reflect.Indirect(rv)
	if sv.Kind() == reflect.Struct {
		if f := sv.FieldByName(name); f.IsValid() && f.CanInterface() {
			return f.Interface(), nil
		}
	}
	return nil, &FieldError{Type: fmt.Sprintf("%T", recv), Name: name, Reason: "no such field"}
}

// Set implements Model.
func (DynamicModel) Set(recv any, name string, v any) error {
	switch r := recv.(type) {
	case nil:
		return &FieldError{Type: "null", Name: name, Reason: "receiver is null"}
	case *Object:
		r.Set(name, v)
		return nil
	case map[string]any:
		r[name] = v
		return nil
	}

	rv := reflect.ValueOf(recv)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return &FieldError{Type: fmt.Sprintf("%T", recv), Name: name, Reason: "receiver is not assignable"}
	}
	f := rv.Elem().FieldByName(name)
	if !f.IsValid() || !f.CanSet() {
		return &FieldError{Type: fmt.Sprintf("%T", recv), Name: name, Reason: "no such settable field"}
	}
	cv, err := convertArg(v, f.Type())
	if err != nil {
		return &FieldError{Type: fmt.Sprintf("%T", recv), Name: name, Reason: err.Error()}
	}
	f.Set(cv)
	return nil
}

// Invoke implements Model.
func (m DynamicModel) Invoke(recv any, name string, args []any) (any, error) {
	fn := recv
	if name != "" {
		if rv := reflect.ValueOf(recv); recv != nil {
			if meth := rv.MethodByName(name); meth.IsValid() {
				return callValue(name, meth, args)
			}
		}
		member, err := m.Get(recv, name)
		if err != nil {
			return nil, err
		}
		fn = member
	}

	if c, ok := fn.(Caller); ok {
		return c.Call(args...)
	}
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, fmt.Errorf("%w: %T", ErrNotCallable, fn)
	}
	label := name
	if label == "" {
		label = fv.Type().String()
	}
	return callValue(label, fv, args)
}

var errorType = reflect.TypeFor[error]()

func callValue(label string, fv reflect.Value, args []any) (any, error) {
	ft := fv.Type()
	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, &ArgumentError{Func: label, Index: -1,
				Reason: fmt.Sprintf("want at least %d arguments, got %d", fixed, len(args))}
		}
	} else if len(args) != fixed {
		return nil, &ArgumentError{Func: label, Index: -1,
			Reason: fmt.Sprintf("want %d arguments, got %d", fixed, len(args))}
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var t reflect.Type
		if i < fixed {
			t = ft.In(i)
		} else {
			t = ft.In(fixed).Elem()
		}
		v, err := convertArg(a, t)
		if err != nil {
			return nil, &ArgumentError{Func: label, Index: i, Reason: err.Error()}
		}
		in[i] = v
	}

	out := fv.Call(in)
	switch {
	case len(out) == 0:
		return nil, nil
	case len(out) == 1 && ft.Out(0) == errorType:
		err, _ := out[0].Interface().(error)
		return nil, err
	case len(out) == 2 && ft.Out(1) == errorType:
		err, _ := out[1].Interface().(error)
		return out[0].Interface(), err
	default:
		return out[0].Interface(), nil
	}
}

func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use null as %s", t)
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(t) {
		return av, nil
	}
	if isNumeric(av.Kind()) && isNumeric(t.Kind()) {
		return av.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", a, t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
