package handle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_EmptyIsNoop(t *testing.T) {
	reg := newTestRegistry(t)
	reg.CreateTransient("outside")
	stack := NewFrameStack(reg)

	before := reg.Stats()
	f := stack.Open()
	require.NoError(t, stack.Close(f))
	require.Equal(t, before, reg.Stats())
	require.Equal(t, 0, stack.Depth())
}

func TestFrame_RestoresCounts(t *testing.T) {
	for _, n := range []int{0, 1, 5, 100} {
		reg := newTestRegistry(t)
		reg.CreateTransient("pre")
		stack := NewFrameStack(reg)

		f := stack.Open()
		open := reg.Stats()
		for i := 0; i < n; i++ {
			reg.CreateTransient(i)
			if i%3 == 0 {
				_, err := reg.AllocateRawMemory(i)
				require.NoError(t, err)
			}
		}
		require.NoError(t, stack.Close(f))
		require.Equal(t, open, reg.Stats(), "allocations: %d", n)
	}
}

func TestFrame_Nested(t *testing.T) {
	reg := newTestRegistry(t)
	stack := NewFrameStack(reg)

	outer := stack.Open()
	a := reg.CreateTransient("a")

	inner := stack.Open()
	require.Equal(t, 2, inner.Depth())
	b := reg.CreateTransient("b")
	require.NoError(t, stack.Close(inner))

	_, err := reg.Resolve(b)
	require.ErrorIs(t, err, ErrInvalidToken)
	v, err := reg.Resolve(a)
	require.NoError(t, err)
	require.Equal(t, "a", v)

	require.NoError(t, stack.Close(outer))
	require.Equal(t, 0, reg.TransientCount())
}

func TestFrame_OutOfOrder(t *testing.T) {
	reg := newTestRegistry(t)
	stack := NewFrameStack(reg)

	outer := stack.Open()
	inner := stack.Open()

	err := stack.Close(outer)
	var orderErr *FrameOrderError
	require.True(t, errors.As(err, &orderErr))
	require.Equal(t, 1, orderErr.Depth)
	require.Equal(t, 2, orderErr.Top)
	require.Equal(t, 2, stack.Depth())

	require.NoError(t, stack.Close(inner))
	require.NoError(t, stack.Close(outer))

	err = stack.Close(outer)
	require.True(t, errors.As(err, &orderErr))
	require.Equal(t, 0, orderErr.Top)
}

func TestFrame_StaleSibling(t *testing.T) {
	reg := newTestRegistry(t)
	stack := NewFrameStack(reg)

	first := stack.Open()
	require.NoError(t, stack.Close(first))

	reg.CreateTransient("x")
	second := stack.Open()

	// A frame with the same depth but a different restore point is rejected.
	var orderErr *FrameOrderError
	require.True(t, errors.As(stack.Close(first), &orderErr))
	require.NoError(t, stack.Close(second))
}
