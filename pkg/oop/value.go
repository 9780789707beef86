// Package oop implements the tagged-value and heap-object model the VM
// interprets against.
//
// Every Smalltalk value is either an immediate tagged small integer or a
// reference to a heap object. A Value is a thin Go interface wrapping one
// of the two, so that the interpreter and primitive table never need a
// type switch on Go's own numeric types:
//
//	Value
//	  SmallInteger(int64)   -- immediate, identity == numeric equality
//	  Reference(Handle)      -- heap reference, identity == handle equality
//
// This mirrors the teacher's constant-pool convention of storing literals
// as plain Go values (pkg/bytecode.Bytecode.Constants is []interface{}),
// but replaces the open interface{} with a closed, two-case Value so the
// interpreter's hot path never has to guess what it is holding.
package oop

import "fmt"

// SmallIntegerBits is the usable width of a tagged small integer. Squeak
// reserves bits for the tag; this implementation keeps values in a signed
// 62-bit range over Go's int64, leaving the int64's top two bits unused.
const SmallIntegerBits = 62

// MaxSmallInteger and MinSmallInteger bound the tagged-integer range.
// Arithmetic that would overflow this range must fail its primitive and
// fall back to a full send (spec §4.5, §8 "Boundary behaviors").
const (
	MaxSmallInteger = int64(1)<<(SmallIntegerBits-1) - 1
	MinSmallInteger = -(int64(1) << (SmallIntegerBits - 1))
)

// Value is anything that can sit on the context stack, in a field slot,
// or in a literal frame: an immediate small integer or a heap reference.
type Value interface {
	isValue()
}

// SmallInteger is an immediate tagged integer. It carries no heap object;
// two SmallIntegers are identical exactly when they are numerically equal.
type SmallInteger int64

func (SmallInteger) isValue() {}

// InRange reports whether n fits the tagged small-integer range.
func InRange(n int64) bool {
	return n >= MinSmallInteger && n <= MaxSmallInteger
}

// WrapInt converts a machine integer to a SmallInteger, failing (ok=false)
// if it overflows the tagged range. Callers overflow to a fallback send
// rather than silently wrapping, per spec §4.5.
func WrapInt(n int64) (SmallInteger, bool) {
	if !InRange(n) {
		return 0, false
	}
	return SmallInteger(n), true
}

// UnwrapInt extracts the machine integer from a SmallInteger. The round
// trip WrapInt(UnwrapInt(x)) == x is the idempotence property of spec §8.
func UnwrapInt(s SmallInteger) int64 { return int64(s) }

func (s SmallInteger) String() string { return fmt.Sprintf("%d", int64(s)) }

// Reference is a heap-object value: a stable Handle into a Heap, resolved
// through Heap.Resolve before any field access. Using a handle rather than
// a bare *Object pointer is what makes become: a two-way swap of what the
// handle resolves to, instead of a deep copy of every referring slot
// (Design Notes §9, "cyclic context graphs ... handle-based references").
type Reference Handle

func (Reference) isValue() {}

func (r Reference) String() string { return fmt.Sprintf("@%d", uint64(r)) }

// Nil is the canonical reference value for UndefinedObject's sole
// instance. NewHeap creates its object at handle 0 and the bootstrap kernel
// (pkg/image) sets its class; every other nil in the system is this same
// Reference.
var NilValue Value = Reference(0)

// True and False are the canonical reference values for Smalltalk's two
// Boolean singletons. pkg/image's bootstrap kernel allocates the backing
// objects at reserved handles 1 and 2 once; every boolean result
// anywhere in the system (primitive comparisons, push-special bytecodes)
// reuses these same two values rather than allocating fresh ones.
var (
	True  Value = Reference(1)
	False Value = Reference(2)
)

// IsNil reports whether v is the canonical nil reference.
func IsNil(v Value) bool {
	r, ok := v.(Reference)
	return ok && r == 0
}

// IsBoolean reports whether v is the canonical True (want=true) or False
// (want=false) singleton, the check every conditional-jump bytecode needs
// before branching (spec §4.4: "jump bytecodes require a Boolean receiver,
// else a full ifTrue:/ifFalse: send").
func IsBoolean(v Value, want bool) bool {
	r, ok := v.(Reference)
	if !ok {
		return false
	}
	if want {
		return r == True.(Reference)
	}
	return r == False.(Reference)
}
