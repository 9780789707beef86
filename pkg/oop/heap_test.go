package oop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, MaxSmallInteger, MinSmallInteger} {
		s, ok := WrapInt(n)
		require.True(t, ok)
		require.Equal(t, n, UnwrapInt(s))
	}
}

func TestWrapIntOverflow(t *testing.T) {
	_, ok := WrapInt(MaxSmallInteger + 1)
	require.False(t, ok)
	_, ok = WrapInt(MinSmallInteger - 1)
	require.False(t, ok)
}

func TestAtPutRoundTrip(t *testing.T) {
	h := NewHeap()
	ref := h.Allocate(1, FormatVariablePointers, 0, 3)

	require.NoError(t, h.AtPut(ref, 2, SmallInteger(42)))
	v, err := h.At(ref, 2)
	require.NoError(t, err)
	require.Equal(t, SmallInteger(42), v)
}

func TestAtOutOfBounds(t *testing.T) {
	h := NewHeap()
	ref := h.Allocate(1, FormatVariablePointers, 0, 2)
	_, err := h.At(ref, 0)
	require.ErrorIs(t, err, ErrOutOfBounds)
	_, err = h.At(ref, 3)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestIdentityHashLazyAndStable(t *testing.T) {
	h := NewHeap()
	ref := h.Allocate(1, FormatPointers, 2, 0)

	first := h.IdentityHash(ref)
	require.NotZero(t, first)
	second := h.IdentityHash(ref)
	require.Equal(t, first, second)
}

func TestBecomeSwapsIdentityAndHash(t *testing.T) {
	h := NewHeap()
	a := h.Allocate(1, FormatPointers, 1, 0)
	b := h.Allocate(2, FormatPointers, 1, 0)

	h.StorePointer(a, 0, SmallInteger(1))
	h.StorePointer(b, 0, SmallInteger(2))
	hashA := h.IdentityHash(a)
	hashB := h.IdentityHash(b)

	require.NoError(t, h.Become(a, b))

	va, _ := h.Fetch(a, 0)
	vb, _ := h.Fetch(b, 0)
	require.Equal(t, SmallInteger(2), va)
	require.Equal(t, SmallInteger(1), vb)
	require.Equal(t, hashB, h.IdentityHash(a))
	require.Equal(t, hashA, h.IdentityHash(b))
}

func TestBecomeTwiceIsIdentity(t *testing.T) {
	h := NewHeap()
	a := h.Allocate(1, FormatPointers, 1, 0)
	b := h.Allocate(2, FormatPointers, 1, 0)
	h.StorePointer(a, 0, SmallInteger(1))
	h.StorePointer(b, 0, SmallInteger(2))

	require.NoError(t, h.Become(a, b))
	require.NoError(t, h.Become(a, b))

	va, _ := h.Fetch(a, 0)
	vb, _ := h.Fetch(b, 0)
	require.Equal(t, SmallInteger(1), va)
	require.Equal(t, SmallInteger(2), vb)
}

func TestBecomeShapeMismatch(t *testing.T) {
	h := NewHeap()
	a := h.Allocate(1, FormatPointers, 1, 0)
	b := h.Allocate(2, FormatBytes, 0, 4)
	require.ErrorIs(t, h.Become(a, b), ErrBecomeShapeMismatch)
}

func TestBecomeBatchRollsBackOnFailure(t *testing.T) {
	h := NewHeap()
	a1 := h.Allocate(1, FormatPointers, 1, 0)
	b1 := h.Allocate(2, FormatPointers, 1, 0)
	a2 := h.Allocate(1, FormatPointers, 1, 0)
	b2 := h.Allocate(2, FormatBytes, 0, 2) // mismatched shape, batch fails here

	h.StorePointer(a1, 0, SmallInteger(10))
	h.StorePointer(b1, 0, SmallInteger(20))

	err := h.BecomeBatch([]Handle{a1, a2}, []Handle{b1, b2})
	require.Error(t, err)

	// a1/b1 must be restored to their pre-batch identities.
	va1, _ := h.Fetch(a1, 0)
	vb1, _ := h.Fetch(b1, 0)
	require.Equal(t, SmallInteger(10), va1)
	require.Equal(t, SmallInteger(20), vb1)
}

func TestInstancesOfTracksAllocations(t *testing.T) {
	h := NewHeap()
	const class ClassRef = 7
	a := h.Allocate(class, FormatPointers, 0, 0)
	b := h.Allocate(class, FormatPointers, 0, 0)

	instances := h.InstancesOf(class)
	require.ElementsMatch(t, []Handle{a, b}, instances)

	h.Free(a)
	require.ElementsMatch(t, []Handle{b}, h.InstancesOf(class))
}
