package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
	name string
}

func (p *point) Scale(k int) *point { return &point{X: p.X * k, Y: p.Y * k} }

func (p point) Sum() int { return p.X + p.Y }

func TestDynamicModel_Get(t *testing.T) {
	m := DynamicModel{}

	obj := NewObject()
	obj.Set("a", 1)

	tests := []struct {
		name string
		recv any
		key  string
		want any
	}{
		{"object field", obj, "a", 1},
		{"object missing field", obj, "b", nil},
		{"map field", map[string]any{"k": "v"}, "k", "v"},
		{"struct field", point{X: 3}, "X", 3},
		{"struct pointer field", &point{Y: 4}, "Y", 4},
		{"array length", NewArray(1, 2, 3), "length", 3},
		{"string length", "hello", "length", 5},
		{"slice length", []int{1, 2}, "length", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Get(tt.recv, tt.key)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDynamicModel_GetErrors(t *testing.T) {
	m := DynamicModel{}

	_, err := m.Get(nil, "x")
	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	require.Equal(t, "null", fieldErr.Type)

	_, err = m.Get(point{}, "name")
	require.True(t, errors.As(err, &fieldErr), "unexported fields are not visible")

	_, err = m.Get(42, "x")
	require.True(t, errors.As(err, &fieldErr))
}

func TestDynamicModel_Set(t *testing.T) {
	m := DynamicModel{}

	obj := NewObject()
	require.NoError(t, m.Set(obj, "z", "last"))
	require.NoError(t, m.Set(obj, "a", "first"))
	require.Equal(t, []string{"z", "a"}, obj.Keys())

	p := &point{}
	require.NoError(t, m.Set(p, "X", int64(9)))
	require.Equal(t, 9, p.X)

	var fieldErr *FieldError
	require.True(t, errors.As(m.Set(point{}, "X", 1), &fieldErr), "struct values are not assignable")
	require.True(t, errors.As(m.Set(p, "X", "nine"), &fieldErr))
	require.True(t, errors.As(m.Set(p, "name", "x"), &fieldErr))
}

func TestDynamicModel_Invoke(t *testing.T) {
	m := DynamicModel{}

	add := func(a, b int) int { return a + b }
	got, err := m.Invoke(add, "", []any{3, int64(4)})
	require.NoError(t, err)
	require.Equal(t, 7, got)

	sum := func(xs ...float64) float64 {
		total := 0.0
		for _, x := range xs {
			total += x
		}
		return total
	}
	got, err = m.Invoke(sum, "", []any{1, 2.5, uint8(3)})
	require.NoError(t, err)
	require.Equal(t, 6.5, got)

	got, err = m.Invoke(&point{X: 1, Y: 2}, "Scale", []any{10})
	require.NoError(t, err)
	require.Equal(t, &point{X: 10, Y: 20}, got)

	got, err = m.Invoke(point{X: 1, Y: 2}, "Sum", nil)
	require.NoError(t, err)
	require.Equal(t, 3, got)

	obj := NewObject()
	obj.Set("twice", func(n int) int { return 2 * n })
	got, err = m.Invoke(obj, "twice", []any{21})
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestDynamicModel_InvokeErrors(t *testing.T) {
	m := DynamicModel{}

	_, err := m.Invoke(42, "", nil)
	require.ErrorIs(t, err, ErrNotCallable)

	var argErr *ArgumentError
	_, err = m.Invoke(func(a int) int { return a }, "", nil)
	require.True(t, errors.As(err, &argErr))
	require.Equal(t, -1, argErr.Index)

	_, err = m.Invoke(func(a int) int { return a }, "", []any{"x"})
	require.True(t, errors.As(err, &argErr))
	require.Equal(t, 0, argErr.Index)

	boom := errors.New("boom")
	_, err = m.Invoke(func() error { return boom }, "", nil)
	require.ErrorIs(t, err, boom)

	_, err = m.Invoke(func() (int, error) { return 0, boom }, "", nil)
	require.ErrorIs(t, err, boom)
}

type countingCaller struct{ calls int }

func (c *countingCaller) Call(args ...any) (any, error) {
	c.calls++
	return len(args), nil
}

func TestDynamicModel_InvokeCaller(t *testing.T) {
	c := &countingCaller{}
	got, err := DynamicModel{}.Invoke(c, "", []any{1, 2})
	require.NoError(t, err)
	require.Equal(t, 2, got)
	require.Equal(t, 1, c.calls)
	require.Equal(t, TypeFunction, TypeOf(c))
}

func TestTypeOf(t *testing.T) {
	var nilPoint *point
	tests := []struct {
		v    any
		want ValueType
	}{
		{nil, TypeNull},
		{nilPoint, TypeNull},
		{true, TypeBool},
		{7, TypeInt},
		{uint16(7), TypeInt},
		{1.5, TypeFloat},
		{"s", TypeString},
		{NewObject(), TypeObject},
		{map[string]any{}, TypeObject},
		{&point{}, TypeObject},
		{NewArray(), TypeArray},
		{[]byte("b"), TypeArray},
		{[]int{1}, TypeArray},
		{&Abstract{}, TypeAbstract},
		{func() {}, TypeFunction},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, TypeOf(tt.v), "%#v", tt.v)
	}
	require.Equal(t, "abstract", TypeAbstract.String())
	require.Equal(t, "unknown", TypeUnknown.String())
}
