package class

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/oop"
)

func TestLookupWalksSuperclassChain(t *testing.T) {
	r := NewRegistry()
	base := NewClass(1, "Object", 0, Shape{FixedSlots: 0})
	mid := NewClass(2, "Animal", 1, Shape{FixedSlots: 1})
	leaf := NewClass(3, "Dog", 2, Shape{FixedSlots: 2})
	r.Define(base)
	r.Define(mid)
	r.Define(leaf)

	speak := bytecode.NewCompiledMethod("speak", 0, 0, 0, nil, nil, false)
	r.AddMethod(2, "speak", speak)

	found, owner, err := r.Lookup(3, "speak")
	require.NoError(t, err)
	require.Same(t, speak, found)
	require.Equal(t, oop.ClassRef(2), owner)
}

func TestLookupFailsAtRoot(t *testing.T) {
	r := NewRegistry()
	r.Define(NewClass(1, "Object", 0, Shape{}))

	_, _, err := r.Lookup(1, "frobnicate")
	require.ErrorIs(t, err, ErrMethodNotFound)
}

func TestSuperLookupStartsAboveCompiledInClass(t *testing.T) {
	r := NewRegistry()
	r.Define(NewClass(1, "Object", 0, Shape{}))
	r.Define(NewClass(2, "Animal", 1, Shape{}))
	r.Define(NewClass(3, "Dog", 2, Shape{}))

	animalSpeak := bytecode.NewCompiledMethod("speak", 0, 0, 0, nil, nil, false)
	dogSpeak := bytecode.NewCompiledMethod("speak", 0, 0, 0, nil, nil, false)
	r.AddMethod(2, "speak", animalSpeak)
	r.AddMethod(3, "speak", dogSpeak)

	// A super send compiled into Dog's method must find Animal's speak,
	// not Dog's own, even though Dog is also in the picture.
	found, _, err := r.SuperLookup(3, "speak")
	require.NoError(t, err)
	require.Same(t, animalSpeak, found)
}

func TestNewFailsOnVariableClass(t *testing.T) {
	h := oop.NewHeap()
	c := NewClass(1, "Array", 0, Shape{Tail: TailPointers})
	_, err := c.New(h)
	require.Error(t, err)
}

func TestNewWithSizeFailsOnFixedClassNonzero(t *testing.T) {
	h := oop.NewHeap()
	c := NewClass(1, "Point", 0, Shape{FixedSlots: 2})
	_, err := c.NewWithSize(h, 3)
	require.Error(t, err)

	ref, err := c.NewWithSize(h, 0)
	require.NoError(t, err)
	require.NotZero(t, ref)
}

func TestSubclassesFindsTransitiveDescendants(t *testing.T) {
	r := NewRegistry()
	r.Define(NewClass(1, "Object", 0, Shape{}))
	r.Define(NewClass(2, "Animal", 1, Shape{}))
	r.Define(NewClass(3, "Dog", 2, Shape{}))

	require.ElementsMatch(t, []oop.ClassRef{2, 3}, r.Subclasses(1))
	require.ElementsMatch(t, []oop.ClassRef{3}, r.Subclasses(2))
}

func TestAddMethodFiresMutationHook(t *testing.T) {
	r := NewRegistry()
	r.Define(NewClass(1, "Object", 0, Shape{}))

	var invalidated []oop.ClassRef
	r.OnMutate(func(ref oop.ClassRef) { invalidated = append(invalidated, ref) })

	r.AddMethod(1, "foo", bytecode.NewCompiledMethod("foo", 0, 0, 0, nil, nil, false))
	require.Equal(t, []oop.ClassRef{1}, invalidated)
}
