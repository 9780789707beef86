package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/image"
	"github.com/kristofer/stvm/pkg/oop"
)

func TestInstallSnapshotReopensExistingKernelClass(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(nil))

	snap := &image.Snapshot{
		Classes: []image.ClassSpec{
			{
				Name: "Object",
				Methods: []image.MethodSpec{
					{Selector: "yourself", Bytecodes: []byte{0}},
				},
			},
		},
	}
	require.NoError(t, installSnapshot(v, snap))

	cls := v.Classes.Named("Object")
	require.NotNil(t, cls)
	assert.Equal(t, v.Kernel.Object, cls.Ref)
	_, _, err := v.Classes.Lookup(cls.Ref, "yourself")
	assert.NoError(t, err)
}

func TestInstallSnapshotRejectsUnknownSuperclass(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(nil))

	snap := &image.Snapshot{
		Classes: []image.ClassSpec{
			{Name: "Orphan", Superclass: "Nonexistent"},
		},
	}
	err := installSnapshot(v, snap)
	assert.Error(t, err)
}

func TestMaterializeLiteralCoversEveryKind(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(nil))

	cases := []image.Literal{
		{Kind: image.LiteralNil},
		{Kind: image.LiteralBool, Bool: true},
		{Kind: image.LiteralSmallInteger, Int: 42},
		{Kind: image.LiteralFloat, Flt: 3.25},
		{Kind: image.LiteralString, Str: "hi"},
		{Kind: image.LiteralSymbol, Str: "foo:"},
	}
	for _, lit := range cases {
		val, err := materializeLiteral(v, lit)
		require.NoError(t, err)
		assert.NotNil(t, val)
	}

	symLit, err := materializeLiteral(v, image.Literal{Kind: image.LiteralSymbol, Str: "foo:"})
	require.NoError(t, err)
	ref, ok := symLit.(oop.Reference)
	require.True(t, ok)
	text, ok := v.Machine.SymbolText(ref)
	require.True(t, ok)
	assert.Equal(t, "foo:", text)
}

func TestMaterializeLiteralRejectsOutOfRangeInteger(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(nil))

	_, err := materializeLiteral(v, image.Literal{Kind: image.LiteralSmallInteger, Int: 1 << 62})
	assert.Error(t, err)
}
