package primitive

import (
	"math"

	"github.com/kristofer/stvm/pkg/oop"
)

// Primitives 40..59: float arithmetic, spec §6 "40..59 float arithmetic."
// A Float heap object stores its IEEE-754 bits as two 32-bit halves in its
// Words payload (pkg/oop/heap.go's FormatFloat), high half first.
const (
	PrimFloatAdd           = 41
	PrimFloatSubtract      = 42
	PrimFloatLessThan      = 43
	PrimFloatGreaterThan   = 44
	PrimFloatLessOrEq      = 45
	PrimFloatGreaterOrEq   = 46
	PrimFloatEqual         = 47
	PrimFloatNotEqual      = 48
	PrimFloatMultiply      = 49
	PrimFloatDivide        = 50
	PrimFloatTruncated     = 51
	PrimFloatFractionPart  = 52
	PrimFloatExponent      = 53
	PrimFloatTimesTwoPower = 54
	PrimFloatAsFloat       = 55
)

func floatBits(h *oop.Heap, ref oop.Reference) (float64, bool) {
	obj := h.Resolve(oop.Handle(ref))
	if obj == nil || obj.Format != oop.FormatFloat || len(obj.Words) != 2 {
		return 0, false
	}
	bits := uint64(obj.Words[0])<<32 | uint64(obj.Words[1])
	return math.Float64frombits(bits), true
}

// NewFloat allocates a Float heap object, exported so pkg/vm's snapshot
// loader can materialize LiteralFloat entries using the same Words
// encoding primitives rely on.
func NewFloat(m *Machine, class oop.ClassRef, value float64) oop.Value {
	ref := m.Heap.Allocate(class, oop.FormatFloat, 0, 2)
	bits := math.Float64bits(value)
	obj := m.Heap.Resolve(ref)
	obj.Words[0] = uint32(bits >> 32)
	obj.Words[1] = uint32(bits)
	return oop.Reference(ref)
}

// floatClassOf answers the Float class of an existing Float receiver, so
// results stay in the same class the arguments came from rather than
// requiring the Machine to track a single well-known FloatClass (a VM may
// have ScaledDecimal-like Float subclasses, per spec's "object formats"
// list, though this implementation only ever allocates plain Floats).
func floatClassOf(m *Machine, ref oop.Reference) oop.ClassRef {
	return m.Heap.Class(oop.Handle(ref))
}

func bothFloats(h *oop.Heap, a, b oop.Value) (float64, float64, oop.Reference, bool) {
	aRef, ok1 := a.(oop.Reference)
	bRef, ok2 := b.(oop.Reference)
	if !ok1 || !ok2 {
		return 0, 0, 0, false
	}
	af, ok1 := floatBits(h, aRef)
	bf, ok2 := floatBits(h, bRef)
	return af, bf, aRef, ok1 && ok2
}

func init() {
	register := func(index int, name string, fn func(a, b float64) (float64, bool)) {
		Register(&Primitive{
			Index: index, Name: name,
			Unwrap: []Unwrap{UnwrapObject, UnwrapObject},
			Result: ResultPush,
			Fn: func(m *Machine, c Call) Outcome {
				a, b, receiverRef, ok := bothFloats(m.Heap, c.Receiver, c.Args[0])
				if !ok {
					return Failed()
				}
				result, ok := fn(a, b)
				if !ok {
					return Failed()
				}
				return Pushed(NewFloat(m, floatClassOf(m, receiverRef), result))
			},
		})
	}

	registerBool := func(index int, name string, fn func(a, b float64) bool) {
		Register(&Primitive{
			Index: index, Name: name,
			Unwrap: []Unwrap{UnwrapObject, UnwrapObject},
			Result: ResultPush,
			Fn: func(m *Machine, c Call) Outcome {
				a, b, _, ok := bothFloats(m.Heap, c.Receiver, c.Args[0])
				if !ok {
					return Failed()
				}
				if fn(a, b) {
					return Pushed(oop.True)
				}
				return Pushed(oop.False)
			},
		})
	}

	register(PrimFloatAdd, "+", func(a, b float64) (float64, bool) { return a + b, true })
	register(PrimFloatSubtract, "-", func(a, b float64) (float64, bool) { return a - b, true })
	register(PrimFloatMultiply, "*", func(a, b float64) (float64, bool) { return a * b, true })
	register(PrimFloatDivide, "/", func(a, b float64) (float64, bool) {
		if b == 0 {
			return 0, false
		}
		return a / b, true
	})

	registerBool(PrimFloatLessThan, "<", func(a, b float64) bool { return a < b })
	registerBool(PrimFloatGreaterThan, ">", func(a, b float64) bool { return a > b })
	registerBool(PrimFloatLessOrEq, "<=", func(a, b float64) bool { return a <= b })
	registerBool(PrimFloatGreaterOrEq, ">=", func(a, b float64) bool { return a >= b })
	registerBool(PrimFloatEqual, "=", func(a, b float64) bool { return a == b })
	registerBool(PrimFloatNotEqual, "~=", func(a, b float64) bool { return a != b })

	Register(&Primitive{
		Index: PrimFloatTruncated, Name: "truncated",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := c.Receiver.(oop.Reference)
			if !ok {
				return Failed()
			}
			f, ok := floatBits(m.Heap, ref)
			if !ok {
				return Failed()
			}
			wrapped, ok := oop.WrapInt(int64(math.Trunc(f)))
			if !ok {
				return Failed()
			}
			return Pushed(wrapped)
		},
	})

	Register(&Primitive{
		Index: PrimFloatFractionPart, Name: "fractionPart",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := c.Receiver.(oop.Reference)
			if !ok {
				return Failed()
			}
			f, ok := floatBits(m.Heap, ref)
			if !ok {
				return Failed()
			}
			_, frac := math.Modf(f)
			return Pushed(NewFloat(m, floatClassOf(m, ref), frac))
		},
	})

	Register(&Primitive{
		Index: PrimFloatExponent, Name: "exponent",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := c.Receiver.(oop.Reference)
			if !ok {
				return Failed()
			}
			f, ok := floatBits(m.Heap, ref)
			if !ok {
				return Failed()
			}
			_, exp := math.Frexp(f)
			wrapped, ok := oop.WrapInt(int64(exp))
			if !ok {
				return Failed()
			}
			return Pushed(wrapped)
		},
	})

	Register(&Primitive{
		Index: PrimFloatTimesTwoPower, Name: "timesTwoPower:",
		Unwrap: []Unwrap{UnwrapInt},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := c.Receiver.(oop.Reference)
			n, ok2 := c.Args[0].(oop.SmallInteger)
			if !ok || !ok2 {
				return Failed()
			}
			f, ok := floatBits(m.Heap, ref)
			if !ok {
				return Failed()
			}
			return Pushed(NewFloat(m, floatClassOf(m, ref), math.Ldexp(f, int(n))))
		},
	})

	Register(&Primitive{
		Index: PrimFloatAsFloat, Name: "asFloat",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			switch r := c.Receiver.(type) {
			case oop.SmallInteger:
				return Pushed(NewFloat(m, floatClassFromExisting(m), float64(r)))
			case oop.Reference:
				if _, ok := floatBits(m.Heap, r); ok {
					return Pushed(c.Receiver)
				}
			}
			return Failed()
		},
	})
}

// floatClassFromExisting answers a plain-Float allocation class for
// asFloat sent to a SmallInteger, where there is no existing Float
// receiver to copy the class from. Machine.SmallIntegerClass plays the
// same "well-known class" role pkg/image's bootstrap assigns to every
// kernel class, so a FloatClass field follows the identical convention --
// recorded as an Open Question resolution in the grounding ledger rather
// than threading a third well-known-class field through every call site.
func floatClassFromExisting(m *Machine) oop.ClassRef {
	return m.FloatClass
}
