package primitive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/class"
	"github.com/kristofer/stvm/pkg/context"
	"github.com/kristofer/stvm/pkg/hostservice"
	"github.com/kristofer/stvm/pkg/oop"
	"github.com/kristofer/stvm/pkg/process"
)

// nextTestRef hands out distinct ClassRefs for test fixtures; a real image
// assigns these from the heap's own handle space (pkg/image's bootstrap),
// but these tests only need them to be distinct and stable.
var nextTestRef = oop.ClassRef(1)

func defineClass(m *Machine, name string, shape class.Shape) oop.ClassRef {
	ref := nextTestRef
	nextTestRef++
	m.Classes.Define(class.NewClass(ref, name, 0, shape))
	return ref
}

func newTestMachine() *Machine {
	m := &Machine{
		Heap:      oop.NewHeap(),
		Classes:   class.NewRegistry(),
		Contexts:  context.NewStore(),
		Scheduler: process.NewScheduler(),
		Host:      hostservice.NewRegistry(),
		Interrupt: process.NewInterruptCheck(1000),
		Closures:  map[oop.Handle]*context.ClosureRecord{},
		Symbols:   map[oop.Handle]string{},
	}
	m.SmallIntegerClass = defineClass(m, "SmallInteger", class.Shape{})
	m.FloatClass = defineClass(m, "Float", class.Shape{})
	return m
}

func TestAddSucceedsOnSmallIntegers(t *testing.T) {
	m := newTestMachine()
	out := Dispatch(m, PrimAdd, Call{Receiver: oop.SmallInteger(3), Args: []oop.Value{oop.SmallInteger(4)}})
	require.False(t, out.Failed)
	assert.Equal(t, oop.SmallInteger(7), out.Value)
}

func TestAddOverflowFailsForFallbackSend(t *testing.T) {
	m := newTestMachine()
	out := Dispatch(m, PrimAdd, Call{Receiver: oop.SmallInteger(oop.MaxSmallInteger), Args: []oop.Value{oop.SmallInteger(1)}})
	assert.True(t, out.Failed)
}

func TestDivideByZeroFails(t *testing.T) {
	m := newTestMachine()
	out := Dispatch(m, PrimDivide, Call{Receiver: oop.SmallInteger(10), Args: []oop.Value{oop.SmallInteger(0)}})
	assert.True(t, out.Failed)
}

func TestFlooredModAndDiv(t *testing.T) {
	m := newTestMachine()
	out := Dispatch(m, PrimMod, Call{Receiver: oop.SmallInteger(-7), Args: []oop.Value{oop.SmallInteger(3)}})
	require.False(t, out.Failed)
	assert.Equal(t, oop.SmallInteger(2), out.Value)

	out = Dispatch(m, PrimIntegerDiv, Call{Receiver: oop.SmallInteger(-7), Args: []oop.Value{oop.SmallInteger(3)}})
	require.False(t, out.Failed)
	assert.Equal(t, oop.SmallInteger(-3), out.Value)
}

func TestBitShiftFailsAtWordBoundary(t *testing.T) {
	m := newTestMachine()
	out := Dispatch(m, PrimBitShift, Call{Receiver: oop.SmallInteger(1), Args: []oop.Value{oop.SmallInteger(62)}})
	assert.True(t, out.Failed)

	out = Dispatch(m, PrimBitShift, Call{Receiver: oop.SmallInteger(1), Args: []oop.Value{oop.SmallInteger(4)}})
	require.False(t, out.Failed)
	assert.Equal(t, oop.SmallInteger(16), out.Value)
}

func TestNewAllocatesFixedInstance(t *testing.T) {
	m := newTestMachine()
	pointClassRef := defineClass(m, "Point", class.Shape{FixedSlots: 2})
	out := Dispatch(m, PrimNew, Call{Receiver: oop.Reference(pointClassRef)})
	require.False(t, out.Failed)
	ref, ok := out.Value.(oop.Reference)
	require.True(t, ok)
	assert.Equal(t, 2, m.Heap.InstanceSize(oop.Handle(ref)))
}

func TestNewWithSizeZeroToleratedOnFixedClass(t *testing.T) {
	m := newTestMachine()
	fixedClassRef := defineClass(m, "Fixed", class.Shape{FixedSlots: 3})
	out := Dispatch(m, PrimNewWithSize, Call{Receiver: oop.Reference(fixedClassRef), Args: []oop.Value{oop.SmallInteger(0)}})
	assert.False(t, out.Failed)
}

func TestNewWithSizeFailsOnFixedClassWithNonzeroSize(t *testing.T) {
	m := newTestMachine()
	fixedClassRef := defineClass(m, "Fixed", class.Shape{FixedSlots: 3})
	out := Dispatch(m, PrimNewWithSize, Call{Receiver: oop.Reference(fixedClassRef), Args: []oop.Value{oop.SmallInteger(5)}})
	assert.True(t, out.Failed)
}

func TestAtAndAtPutRespectBounds(t *testing.T) {
	m := newTestMachine()
	arrayClassRef := defineClass(m, "Array", class.Shape{Tail: class.TailPointers})
	ref := m.Heap.Allocate(arrayClassRef, oop.FormatVariablePointers, 0, 3)

	out := Dispatch(m, PrimAtPut, Call{Receiver: oop.Reference(ref), Args: []oop.Value{oop.SmallInteger(1), oop.SmallInteger(99)}})
	require.False(t, out.Failed)

	out = Dispatch(m, PrimAt, Call{Receiver: oop.Reference(ref), Args: []oop.Value{oop.SmallInteger(1)}})
	require.False(t, out.Failed)
	assert.Equal(t, oop.SmallInteger(99), out.Value)

	out = Dispatch(m, PrimAt, Call{Receiver: oop.Reference(ref), Args: []oop.Value{oop.SmallInteger(4)}})
	assert.True(t, out.Failed)
}

func TestBecomeArraySwapsEachElementPairwise(t *testing.T) {
	m := newTestMachine()
	thingRef := defineClass(m, "Thing", class.Shape{FixedSlots: 0})
	a1 := m.Heap.Allocate(thingRef, oop.FormatPointers, 0, 0)
	a2 := m.Heap.Allocate(thingRef, oop.FormatPointers, 0, 0)
	b1 := m.Heap.Allocate(thingRef, oop.FormatPointers, 0, 0)
	b2 := m.Heap.Allocate(thingRef, oop.FormatPointers, 0, 0)

	aArray := makeArgsArray(m, oop.Reference(a1), oop.Reference(a2))
	bArray := makeArgsArray(m, oop.Reference(b1), oop.Reference(b2))

	out := Dispatch(m, PrimBecomeArray, Call{Receiver: aArray, Args: []oop.Value{bArray}})
	assert.False(t, out.Failed)
}

func TestBecomeArrayFailsOnLengthMismatch(t *testing.T) {
	m := newTestMachine()
	thingRef := defineClass(m, "Thing", class.Shape{})
	a1 := m.Heap.Allocate(thingRef, oop.FormatPointers, 0, 0)
	b1 := m.Heap.Allocate(thingRef, oop.FormatPointers, 0, 0)
	b2 := m.Heap.Allocate(thingRef, oop.FormatPointers, 0, 0)

	aArray := makeArgsArray(m, oop.Reference(a1))
	bArray := makeArgsArray(m, oop.Reference(b1), oop.Reference(b2))

	out := Dispatch(m, PrimBecomeArray, Call{Receiver: aArray, Args: []oop.Value{bArray}})
	assert.True(t, out.Failed)
}

func TestBecomeSwapsIdentity(t *testing.T) {
	m := newTestMachine()
	classRef := defineClass(m, "Foo", class.Shape{FixedSlots: 1})
	a := m.Heap.Allocate(classRef, oop.FormatPointers, 1, 0)
	b := m.Heap.Allocate(classRef, oop.FormatPointers, 1, 0)

	out := Dispatch(m, PrimBecome, Call{Receiver: oop.Reference(a), Args: []oop.Value{oop.Reference(b)}})
	assert.False(t, out.Failed)
}

func TestPerformWithArgumentsBuildsFreshContextForNonPrimitiveMethod(t *testing.T) {
	m := newTestMachine()
	classRef := defineClass(m, "Thing", class.Shape{})
	method := bytecode.NewCompiledMethod("doubled:", 1, 1, 0, nil, nil, false)
	m.Classes.AddMethod(classRef, "doubled:", method)

	selectorHandle := oop.Handle(900)
	m.Symbols[selectorHandle] = "doubled:"

	receiver := m.Heap.Allocate(classRef, oop.FormatPointers, 0, 0)
	out := Dispatch(m, PrimPerformWithArguments, Call{
		Receiver: oop.Reference(receiver),
		Args:     []oop.Value{oop.Reference(selectorHandle), makeArgsArray(m, oop.SmallInteger(5))},
	})
	require.False(t, out.Failed)
	assert.Equal(t, ResultNewFrame, out.Result)
	require.NotNil(t, out.Next)
	assert.Equal(t, oop.SmallInteger(5), out.Next.Stack[0])
}

func TestPerformWithArgumentsDispatchesPrimitiveInline(t *testing.T) {
	m := newTestMachine()
	method := bytecode.NewCompiledMethod("+", 1, 0, PrimAdd, nil, nil, false)
	m.Classes.AddMethod(m.SmallIntegerClass, "+", method)

	selectorHandle := oop.Handle(902)
	m.Symbols[selectorHandle] = "+"

	out := Dispatch(m, PrimPerformWithArguments, Call{
		Receiver: oop.SmallInteger(3),
		Args:     []oop.Value{oop.Reference(selectorHandle), makeArgsArray(m, oop.SmallInteger(4))},
	})
	require.False(t, out.Failed)
	assert.Equal(t, oop.SmallInteger(7), out.Value)
}

func TestPerformFailsWhenSelectorNotUnderstood(t *testing.T) {
	m := newTestMachine()
	classRef := defineClass(m, "Thing", class.Shape{})
	selectorHandle := oop.Handle(901)
	m.Symbols[selectorHandle] = "nope"

	receiver := m.Heap.Allocate(classRef, oop.FormatPointers, 0, 0)
	out := Dispatch(m, PrimPerformWithArguments, Call{
		Receiver: oop.Reference(receiver),
		Args:     []oop.Value{oop.Reference(selectorHandle), makeArgsArray(m)},
	})
	assert.True(t, out.Failed)
}

func TestMillisecondsWrapsAroundStartTime(t *testing.T) {
	m := newTestMachine()
	m.StartMillis = 1000
	m.NowMillis = func() int64 { return 1500 }
	out := Dispatch(m, PrimMilliseconds, Call{})
	require.False(t, out.Failed)
	assert.Equal(t, oop.SmallInteger(500), out.Value)
}

func TestSignalAtMillisecondsArmsInterruptCheck(t *testing.T) {
	m := newTestMachine()
	out := Dispatch(m, PrimSignalAtMilliseconds, Call{Receiver: oop.NilValue, Args: []oop.Value{oop.SmallInteger(42)}})
	assert.False(t, out.Failed)
}

func TestExternalPrimitiveRoutesToHostPlugin(t *testing.T) {
	m := newTestMachine()
	moduleSym, fnSym := oop.Handle(1), oop.Handle(2)
	m.Symbols[moduleSym] = "JSON"
	m.Symbols[fnSym] = "generate"
	out := Dispatch(m, PrimExternal, Call{
		Args: []oop.Value{oop.Reference(moduleSym), oop.Reference(fnSym), oop.SmallInteger(7)},
	})
	assert.False(t, out.Failed)
}

func TestExternalPrimitiveFailsForUnknownModule(t *testing.T) {
	m := newTestMachine()
	moduleSym, fnSym := oop.Handle(1), oop.Handle(2)
	m.Symbols[moduleSym] = "NoSuchModule"
	m.Symbols[fnSym] = "whatever"
	out := Dispatch(m, PrimExternal, Call{
		Args: []oop.Value{oop.Reference(moduleSym), oop.Reference(fnSym)},
	})
	assert.True(t, out.Failed)
}

func TestFloatArithmeticRoundTrips(t *testing.T) {
	m := newTestMachine()
	a := NewFloat(m, m.FloatClass, 1.5)
	b := NewFloat(m, m.FloatClass, 2.25)

	out := Dispatch(m, PrimFloatAdd, Call{Receiver: a, Args: []oop.Value{b}})
	require.False(t, out.Failed)
	ref := out.Value.(oop.Reference)
	f, ok := floatBits(m.Heap, ref)
	require.True(t, ok)
	assert.InDelta(t, 3.75, f, 1e-9)
}

func TestFloatDivideByZeroFails(t *testing.T) {
	m := newTestMachine()
	a := NewFloat(m, m.FloatClass, 1.0)
	b := NewFloat(m, m.FloatClass, 0.0)
	out := Dispatch(m, PrimFloatDivide, Call{Receiver: a, Args: []oop.Value{b}})
	assert.True(t, out.Failed)
}

func TestFloatComparisons(t *testing.T) {
	m := newTestMachine()
	a := NewFloat(m, m.FloatClass, 1.0)
	b := NewFloat(m, m.FloatClass, 2.0)
	out := Dispatch(m, PrimFloatLessThan, Call{Receiver: a, Args: []oop.Value{b}})
	require.False(t, out.Failed)
	assert.Equal(t, oop.True, out.Value)
}

func makeArgsArray(m *Machine, values ...oop.Value) oop.Value {
	arrayClassRef := defineClass(m, "Array", class.Shape{Tail: class.TailPointers})
	ref := m.Heap.Allocate(arrayClassRef, oop.FormatVariablePointers, 0, len(values))
	for i, v := range values {
		_ = m.Heap.AtPut(ref, i+1, v)
	}
	return oop.Reference(ref)
}
