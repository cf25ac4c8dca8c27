package bridge

import (
	"reflect"
)

// ValueType is the type code native code receives from val_type. Codes follow
// the hx CFFI value type enumeration.
type ValueType int

const (
	TypeUnknown  ValueType = -1
	TypeNull     ValueType = 0
	TypeFloat    ValueType = 1
	TypeBool     ValueType = 2
	TypeString   ValueType = 3
	TypeObject   ValueType = 4
	TypeArray    ValueType = 5
	TypeFunction ValueType = 6
	TypeInt      ValueType = 0xff
	TypeAbstract ValueType = 0x100
)

func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	case TypeFunction:
		return "function"
	case TypeInt:
		return "int"
	case TypeAbstract:
		return "abstract"
	default:
		return "unknown"
	}
}

// TypeOf classifies a managed value.
func TypeOf(v any) ValueType {
	switch v := v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case string:
		return TypeString
	case *Object, map[string]any:
		return TypeObject
	case *Array, []any, []byte:
		return TypeArray
	case *Abstract:
		return TypeAbstract
	case Caller:
		return TypeFunction
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return TypeInt
		case reflect.Float32, reflect.Float64:
			return TypeFloat
		case reflect.Func:
			return TypeFunction
		case reflect.Slice, reflect.Array:
			return TypeArray
		case reflect.Pointer:
			if rv.IsNil() {
				return TypeNull
			}
		}
		return TypeObject
	}
}

// Object is the dynamic object native code builds with alloc_empty_object.
// Field order is insertion order.
type Object struct {
	keys   []string
	fields map[string]any
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]any)}
}

// Get returns a field.
func (o *Object) Get(name string) (any, bool) {
	v, ok := o.fields[name]
	return v, ok
}

// Set assigns a field, appending it to the key order on first assignment.
func (o *Object) Set(name string, v any) {
	if _, ok := o.fields[name]; !ok {
		o.keys = append(o.keys, name)
	}
	o.fields[name] = v
}

// Keys returns field names in insertion order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of fields.
func (o *Object) Len() int { return len(o.keys) }

// Array is the growable array native code builds with alloc_array.
type Array struct {
	items []any
}

// NewArray creates an array holding items.
func NewArray(items ...any) *Array {
	return &Array{items: items}
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.items) }

// At returns element i, or nil when out of range.
func (a *Array) At(i int) any {
	if i < 0 || i >= len(a.items) {
		return nil
	}
	return a.items[i]
}

// Set assigns element i, growing the array with nils as needed.
func (a *Array) Set(i int, v any) {
	if i < 0 {
		return
	}
	for len(a.items) <= i {
		a.items = append(a.items, nil)
	}
	a.items[i] = v
}

// Push appends v.
func (a *Array) Push(v any) {
	a.items = append(a.items, v)
}

// Items returns the backing elements.
func (a *Array) Items() []any { return a.items }
