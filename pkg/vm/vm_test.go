package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/image"
	"github.com/kristofer/stvm/pkg/vmconfig"
)

func testVM(t *testing.T) *VM {
	t.Helper()
	cfg, err := vmconfig.Default()
	require.NoError(t, err)
	return New(cfg, nil)
}

// echoSnapshot defines one class, Echo, whose sole method answers self --
// opcode 120 is bytecode.ReturnBase+bytecode.ReturnReceiver, the smallest
// method body that drives Interpreter.Run to a clean stepDone.
func echoSnapshot() *image.Snapshot {
	return &image.Snapshot{
		RootClass:    "Echo",
		RootSelector: "identity",
		Classes: []image.ClassSpec{
			{
				Name:       "Echo",
				Superclass: "Object",
				Methods: []image.MethodSpec{
					{
						Selector:  "identity",
						Bytecodes: []byte{bytecode.ReturnBase + bytecode.ReturnReceiver},
					},
				},
			},
		},
	}
}

func TestLoadImageBootstrapsKernelWithNilSnapshot(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(nil))
	assert.NotZero(t, v.Kernel.Object)
	assert.NotZero(t, v.Kernel.SmallInteger)
}

func TestRunSendsRootSelectorAgainstInstalledSnapshot(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(echoSnapshot()))

	result, err := v.Run("Echo", "identity")
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestRunUnknownRootClassErrors(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(echoSnapshot()))

	_, err := v.Run("NoSuchClass", "identity")
	assert.Error(t, err)
}

func TestRunUnknownSelectorErrors(t *testing.T) {
	v := testVM(t)
	require.NoError(t, v.LoadImage(echoSnapshot()))

	_, err := v.Run("Echo", "noSuchSelector")
	assert.Error(t, err)
}

func TestRunDoesNotUnderstandProducesRuntimeError(t *testing.T) {
	v := testVM(t)
	snap := echoSnapshot()
	snap.Classes[0].Methods[0].Bytecodes = []byte{
		bytecode.PushSpecialBase + bytecode.SpecialSelf,
		bytecode.SendLiteralSelectorBase, // send literal selector 0 against self
	}
	snap.Classes[0].Methods[0].Literals = []image.Literal{{Kind: image.LiteralSymbol, Str: "bogus"}}
	require.NoError(t, v.LoadImage(snap))

	_, err := v.Run("Echo", "identity")
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindDoesNotUnderstand, rerr.Kind)
}

func TestShutdownSucceeds(t *testing.T) {
	v := testVM(t)
	assert.NoError(t, v.Shutdown())
}
