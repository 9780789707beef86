package image

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/class"
	"github.com/kristofer/stvm/pkg/oop"
)

func TestBootstrapAllocatesCanonicalNilTrueFalseAtReservedHandles(t *testing.T) {
	h := oop.NewHeap()
	reg := class.NewRegistry()

	k, err := Bootstrap(h, reg)
	require.NoError(t, err)

	require.Equal(t, k.UndefinedObject, h.Class(oop.Handle(oop.NilValue.(oop.Reference))))
	require.Equal(t, k.True, h.Class(oop.Handle(oop.True.(oop.Reference))))
	require.Equal(t, k.False, h.Class(oop.Handle(oop.False.(oop.Reference))))
}

func TestBootstrapWiresSuperclassChain(t *testing.T) {
	h := oop.NewHeap()
	reg := class.NewRegistry()
	k, err := Bootstrap(h, reg)
	require.NoError(t, err)

	trueClass := reg.Get(k.True)
	require.NotNil(t, trueClass)
	require.Equal(t, k.Boolean, trueClass.Superclass)

	booleanClass := reg.Get(k.Boolean)
	require.Equal(t, k.Object, booleanClass.Superclass)

	objectClass := reg.Get(k.Object)
	require.Equal(t, oop.ClassRef(0), objectClass.Superclass)
}

func TestBootstrapRefusesToRunOnAlreadyPopulatedHeap(t *testing.T) {
	h := oop.NewHeap()
	h.Allocate(0, oop.FormatPointers, 0, 0) // consumes handle 1 ahead of Bootstrap
	reg := class.NewRegistry()

	_, err := Bootstrap(h, reg)
	require.Error(t, err)
}

func TestArrayShapeAllowsVariableNew(t *testing.T) {
	h := oop.NewHeap()
	reg := class.NewRegistry()
	k, err := Bootstrap(h, reg)
	require.NoError(t, err)

	arrayClass := reg.Get(k.Array)
	ref, err := arrayClass.NewWithSize(h, 3)
	require.NoError(t, err)
	require.Equal(t, 3, h.VariableSize(ref))
}
