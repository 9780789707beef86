// Package image implements the image-bootstrap contract of spec §6.1: a
// versioned binary snapshot container and a minimal kernel class hierarchy,
// standing in for a real `.image`/`.changes` reader (out of scope per
// spec §1).
//
// Grounded on the teacher's pkg/bytecode/format.go, whose magic-number +
// version + length-prefixed-sections binary framing is adapted here from
// "compiled bytecode file" scope to "heap snapshot" scope, and on
// original_source/spyvm's assumption of a fully-populated object space
// handed to the interpreter at start -- this package is what builds that
// space before pkg/interp's loop ever runs.
package image

import (
	"fmt"

	"github.com/kristofer/stvm/pkg/class"
	"github.com/kristofer/stvm/pkg/oop"
)

// Kernel collects the class references Bootstrap wires up, for the caller
// (pkg/vm) to populate onto a primitive.Machine and to resolve well-known
// classes (Array, BlockClosure, SmallInteger, Float) the interpreter and
// primitive table need by name rather than by hierarchy lookup.
type Kernel struct {
	Object          oop.ClassRef
	UndefinedObject oop.ClassRef
	Boolean         oop.ClassRef
	True            oop.ClassRef
	False           oop.ClassRef
	SmallInteger    oop.ClassRef
	Float           oop.ClassRef
	String          oop.ClassRef
	Symbol          oop.ClassRef
	Array           oop.ClassRef
	Association     oop.ClassRef
	BlockClosure    oop.ClassRef
	MethodContext   oop.ClassRef
	BlockContext    oop.ClassRef
	Semaphore       oop.ClassRef
	Process         oop.ClassRef
}

// classSpec is one entry of the fixed kernel hierarchy Bootstrap installs.
type classSpec struct {
	name       string
	superclass string // "" means Object has no superclass
	shape      class.Shape
}

// kernelSpecs lists every class spec §6.1 names, in dependency order
// (a class's superclass is always listed before it). Shapes follow spec §3's
// fixed/variable-tail model; SmallInteger and Float are never allocated as
// ordinary pointer objects (SmallInteger is an immediate tagged value and
// Float uses the dedicated oop.FormatFloat payload via pkg/primitive/float.go),
// so their Shape is a nominal empty one, used only if generic code ever sends
// them `new`/`new:`; with that empty Shape, `new` succeeds and allocates an
// ordinary empty pointer object.
var kernelSpecs = []classSpec{
	{name: "Object", shape: class.Shape{}},
	{name: "UndefinedObject", superclass: "Object", shape: class.Shape{}},
	{name: "Boolean", superclass: "Object", shape: class.Shape{}},
	{name: "True", superclass: "Boolean", shape: class.Shape{}},
	{name: "False", superclass: "Boolean", shape: class.Shape{}},
	{name: "SmallInteger", superclass: "Object", shape: class.Shape{}},
	{name: "Float", superclass: "Object", shape: class.Shape{}},
	{name: "String", superclass: "Object", shape: class.Shape{Tail: class.TailBytes}},
	{name: "Symbol", superclass: "String", shape: class.Shape{Tail: class.TailBytes}},
	{name: "Array", superclass: "Object", shape: class.Shape{Tail: class.TailPointers}},
	{name: "Association", superclass: "Object", shape: class.Shape{FixedSlots: 2}},
	{name: "BlockClosure", superclass: "Object", shape: class.Shape{}},
	{name: "MethodContext", superclass: "Object", shape: class.Shape{Tail: class.TailPointers}},
	{name: "BlockContext", superclass: "Object", shape: class.Shape{Tail: class.TailPointers}},
	{name: "Semaphore", superclass: "Object", shape: class.Shape{FixedSlots: 3}},
	{name: "Process", superclass: "Object", shape: class.Shape{FixedSlots: 4}},
}

// Bootstrap wires a minimal kernel class hierarchy into heap/classes,
// sufficient to run spec §8's end-to-end scenarios, and allocates the
// canonical true/false singleton objects at the reserved handles 1/2 that
// oop.True/False already hardcode; nil's handle 0 is created by
// oop.NewHeap, and Bootstrap only sets its class.
//
// h must be freshly created (oop.NewHeap(), handle 0 not yet reassigned) --
// Bootstrap is meant to run exactly once, before any Smalltalk code executes.
func Bootstrap(h *oop.Heap, classes *class.Registry) (*Kernel, error) {
	trueHandle := h.Allocate(0, oop.FormatPointers, 0, 0)
	falseHandle := h.Allocate(0, oop.FormatPointers, 0, 0)
	if trueHandle != oop.Handle(oop.True.(oop.Reference)) || falseHandle != oop.Handle(oop.False.(oop.Reference)) {
		return nil, fmt.Errorf("image: bootstrap must run against a freshly created heap (got true=%d false=%d)", trueHandle, falseHandle)
	}

	byName := make(map[string]oop.ClassRef, len(kernelSpecs))
	for _, spec := range kernelSpecs {
		var super oop.ClassRef
		if spec.superclass != "" {
			var ok bool
			super, ok = byName[spec.superclass]
			if !ok {
				return nil, fmt.Errorf("image: class %q declared before its superclass %q", spec.name, spec.superclass)
			}
		}
		// Every class gets a backing heap object purely so its ClassRef
		// comes from the same handle space as ordinary instances (no
		// collision between a ClassRef and an unrelated object's Handle);
		// the object's own Class field (its metaclass) is left as nil
		// since this kernel does not model metaclasses (sending a message
		// to a class object itself is out of scope).
		ref := oop.ClassRef(h.Allocate(0, oop.FormatPointers, 0, 0))
		classes.Define(class.NewClass(ref, spec.name, super, spec.shape))
		byName[spec.name] = ref
	}

	h.SetClass(oop.Handle(oop.NilValue.(oop.Reference)), byName["UndefinedObject"])
	h.SetClass(trueHandle, byName["True"])
	h.SetClass(falseHandle, byName["False"])

	return &Kernel{
		Object:          byName["Object"],
		UndefinedObject: byName["UndefinedObject"],
		Boolean:         byName["Boolean"],
		True:            byName["True"],
		False:           byName["False"],
		SmallInteger:    byName["SmallInteger"],
		Float:           byName["Float"],
		String:          byName["String"],
		Symbol:          byName["Symbol"],
		Array:           byName["Array"],
		Association:     byName["Association"],
		BlockClosure:    byName["BlockClosure"],
		MethodContext:   byName["MethodContext"],
		BlockContext:    byName["BlockContext"],
		Semaphore:       byName["Semaphore"],
		Process:         byName["Process"],
	}, nil
}
