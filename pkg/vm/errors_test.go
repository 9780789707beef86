package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/context"
)

func TestCaptureTraceWalksSenderChain(t *testing.T) {
	store := context.NewStore()
	method := bytecode.NewCompiledMethod("foo", 0, 0, 0, nil, nil, false)
	senderRef := store.New(&context.Context{Kind: context.KindMethod, Method: method})
	calleeRef := store.New(&context.Context{Kind: context.KindMethod, Sender: senderRef, Method: method, PC: 3})

	frames := captureTrace(store, calleeRef)
	require.Len(t, frames, 2)
	assert.Equal(t, "foo", frames[0].Selector)
	assert.Equal(t, 3, frames[0].PC)
	assert.Equal(t, "foo", frames[1].Selector)
}

func TestWrapRuntimeErrorNilIsNil(t *testing.T) {
	store := context.NewStore()
	assert.Nil(t, wrapRuntimeError(store, 0, nil))
}

func TestWrapRuntimeErrorClassifiesBlockCannotReturn(t *testing.T) {
	store := context.NewStore()
	err := wrapRuntimeError(store, 0, context.ErrBlockCannotReturn)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindBlockCannotReturn, rerr.Kind)
	assert.ErrorIs(t, rerr, context.ErrBlockCannotReturn)
}

func TestRuntimeErrorMessageIncludesTrace(t *testing.T) {
	store := context.NewStore()
	method := bytecode.NewCompiledMethod("foo", 0, 0, 0, nil, nil, false)
	ref := store.New(&context.Context{Kind: context.KindMethod, Method: method, PC: 1})

	err := wrapRuntimeError(store, ref, errors.New("boom"))
	msg := err.Error()
	assert.Contains(t, msg, "boom")
	assert.Contains(t, msg, "#foo")
}
