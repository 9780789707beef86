package vm

import (
	"fmt"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/class"
	"github.com/kristofer/stvm/pkg/image"
	"github.com/kristofer/stvm/pkg/oop"
	"github.com/kristofer/stvm/pkg/primitive"
)

// installSnapshot materializes snap's classes and methods on top of v's
// already-bootstrapped kernel, per spec §6.1: a Snapshot carries only
// declarative data (pkg/image deliberately does not depend on
// pkg/primitive/pkg/bytecode to build one), so this loader is what turns
// it into live heap objects, registered classes, and compiled methods.
//
// snap.Classes must list superclasses before their subclasses, the same
// dependency-ordering convention pkg/image.Bootstrap's own kernelSpecs
// table follows; a class already present (one of the kernel's own) is
// reused rather than redefined, so a snapshot is free to reopen "Object"
// to add methods without re-declaring its shape.
func installSnapshot(v *VM, snap *image.Snapshot) error {
	for _, cs := range snap.Classes {
		ref, err := defineOrReopen(v, cs)
		if err != nil {
			return fmt.Errorf("vm: class %q: %w", cs.Name, err)
		}
		for _, ms := range cs.Methods {
			method, err := materializeMethod(v, ms)
			if err != nil {
				return fmt.Errorf("vm: class %q method %q: %w", cs.Name, ms.Selector, err)
			}
			v.Classes.AddMethod(ref, ms.Selector, method)
		}
	}
	return nil
}

func defineOrReopen(v *VM, cs image.ClassSpec) (oop.ClassRef, error) {
	if existing := v.Classes.Named(cs.Name); existing != nil {
		return existing.Ref, nil
	}

	var superRef oop.ClassRef
	if cs.Superclass != "" {
		super := v.Classes.Named(cs.Superclass)
		if super == nil {
			return 0, fmt.Errorf("superclass %q not yet defined", cs.Superclass)
		}
		superRef = super.Ref
	}

	// Every class gets a backing heap object purely so its ClassRef comes
	// from the same handle space as ordinary instances, matching
	// pkg/image.Bootstrap's own kernel classes; the object's own Class
	// field (its metaclass) is left nil since metaclasses are out of scope.
	shape := class.Shape{FixedSlots: cs.FixedSlots, Tail: class.TailKind(cs.TailKind)}
	ref := oop.ClassRef(v.Heap.Allocate(0, oop.FormatPointers, 0, 0))
	v.Classes.Define(class.NewClass(ref, cs.Name, superRef, shape))
	return ref, nil
}

func materializeMethod(v *VM, ms image.MethodSpec) (*bytecode.CompiledMethod, error) {
	literals := make([]oop.Value, len(ms.Literals))
	for i, lit := range ms.Literals {
		val, err := materializeLiteral(v, lit)
		if err != nil {
			return nil, fmt.Errorf("literal %d: %w", i, err)
		}
		literals[i] = val
	}
	return bytecode.NewCompiledMethod(ms.Selector, ms.ArgCount, ms.TempCount, ms.PrimitiveIndex, literals, ms.Bytecodes, ms.LargeFrame), nil
}

func materializeLiteral(v *VM, lit image.Literal) (oop.Value, error) {
	switch lit.Kind {
	case image.LiteralNil:
		return oop.NilValue, nil
	case image.LiteralBool:
		if lit.Bool {
			return oop.True, nil
		}
		return oop.False, nil
	case image.LiteralSmallInteger:
		n, ok := oop.WrapInt(lit.Int)
		if !ok {
			return nil, fmt.Errorf("integer literal %d out of SmallInteger range", lit.Int)
		}
		return n, nil
	case image.LiteralFloat:
		return primitive.NewFloat(v.Machine, v.Kernel.Float, lit.Flt), nil
	case image.LiteralString:
		return v.internBytes(v.Kernel.String, lit.Str), nil
	case image.LiteralSymbol:
		ref := v.internBytes(v.Kernel.Symbol, lit.Str)
		v.Machine.Symbols[oop.Handle(ref.(oop.Reference))] = lit.Str
		return ref, nil
	default:
		return nil, fmt.Errorf("unknown literal kind %d", lit.Kind)
	}
}

// internBytes allocates a bytes-format instance of class holding s's raw
// bytes, the same allocation shape String/Symbol literals need (spec §3's
// Bytes payload format).
func (v *VM) internBytes(class oop.ClassRef, s string) oop.Value {
	handle := v.Heap.Allocate(class, oop.FormatBytes, 0, len(s))
	obj := v.Heap.Resolve(handle)
	copy(obj.Bytes, s)
	return oop.Reference(handle)
}
