package primitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/cache"
	"github.com/kristofer/stvm/pkg/context"
	"github.com/kristofer/stvm/pkg/oop"
	"github.com/kristofer/stvm/pkg/process"
)

func newSchedulingTestMachine() *Machine {
	m := newTestMachine()
	m.Cache = cache.New(64)
	m.Semaphores = map[oop.Handle]*process.Semaphore{}
	return m
}

func newActiveProcess(m *Machine) (*process.Process, context.Ref) {
	ref := m.Contexts.New(&context.Context{Kind: context.KindMethod})
	p := process.NewProcess(ref, 0)
	m.Scheduler.Resume(p)
	return p, ref
}

func TestWaitBlocksWithNoExcessSignal(t *testing.T) {
	m := newSchedulingTestMachine()
	_, _ = newActiveProcess(m)
	semaHandle := m.Heap.Allocate(0, oop.FormatPointers, 0, 0)

	out := Dispatch(m, PrimWait, Call{Receiver: oop.Reference(semaHandle)})
	assert.Equal(t, ResultSwitchProcess, out.Result)
	assert.Equal(t, context.Ref(0), out.NextRef)
}

func TestWaitSucceedsImmediatelyWithExcessSignal(t *testing.T) {
	m := newSchedulingTestMachine()
	_, _ = newActiveProcess(m)
	semaHandle := m.Heap.Allocate(0, oop.FormatPointers, 0, 0)
	sema, ok := semaphoreFor(m, oop.Reference(semaHandle))
	require.True(t, ok)
	sema.ExcessSignals = 1

	out := Dispatch(m, PrimWait, Call{Receiver: oop.Reference(semaHandle)})
	assert.False(t, out.Failed)
	assert.Equal(t, oop.Reference(semaHandle), out.Value)
	assert.Equal(t, 0, sema.ExcessSignals)
}

func TestSignalResumesWaitingHigherPriorityProcess(t *testing.T) {
	m := newSchedulingTestMachine()
	active, _ := newActiveProcess(m)
	semaHandle := m.Heap.Allocate(0, oop.FormatPointers, 0, 0)

	waiterRef := m.Contexts.New(&context.Context{Kind: context.KindMethod})
	waiter := process.NewProcess(waiterRef, active.Priority+10)
	sema, ok := semaphoreFor(m, oop.Reference(semaHandle))
	require.True(t, ok)
	ok = sema.Wait(waiter)
	require.False(t, ok)

	out := Dispatch(m, PrimSignal, Call{Receiver: oop.Reference(semaHandle)})
	require.Equal(t, ResultSwitchProcess, out.Result)
	assert.Equal(t, waiterRef, out.NextRef)
	assert.Equal(t, waiter, m.Scheduler.Active())
}

func TestSignalWithNoWaiterIncrementsExcessSignals(t *testing.T) {
	m := newSchedulingTestMachine()
	_, _ = newActiveProcess(m)
	semaHandle := m.Heap.Allocate(0, oop.FormatPointers, 0, 0)

	out := Dispatch(m, PrimSignal, Call{Receiver: oop.Reference(semaHandle)})
	assert.False(t, out.Failed)
	sema, _ := semaphoreFor(m, oop.Reference(semaHandle))
	assert.Equal(t, 1, sema.ExcessSignals)
}

func TestFlushCacheInvalidatesEntries(t *testing.T) {
	m := newSchedulingTestMachine()
	method := bytecode.NewCompiledMethod("foo", 0, 0, 0, nil, nil, false)
	m.Cache.Store(m.SmallIntegerClass, "foo", method, m.SmallIntegerClass)
	require.Equal(t, 1, m.Cache.Len())

	recv := oop.Reference(m.Heap.Allocate(m.SmallIntegerClass, oop.FormatPointers, 0, 0))
	out := Dispatch(m, PrimFlushCache, Call{Receiver: recv})
	assert.False(t, out.Failed)
	assert.Equal(t, 0, m.Cache.Len())
}

func TestResumeAndSuspendAreUnregistered(t *testing.T) {
	assert.Nil(t, Lookup(87))
	assert.Nil(t, Lookup(88))
}
