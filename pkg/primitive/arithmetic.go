package primitive

import (
	"github.com/kristofer/stvm/pkg/oop"
)

// Primitives 1..16 are the small-integer arithmetic/comparison shortcuts,
// numbered in the same order as bytecode.ArithmeticShortcutSelectors so the
// arithmetic-shortcut bytecodes (spec §6, 176..191) and this table agree on
// what each index means: "attempt direct primitive; on overflow/type
// mismatch, fall back to a full send" (spec §4.4).
const (
	PrimAdd         = 1
	PrimSubtract    = 2
	PrimLessThan    = 3
	PrimGreaterThan = 4
	PrimLessOrEqual = 5
	PrimGreaterOrEq = 6
	PrimEqual       = 7
	PrimNotEqual    = 8
	PrimMultiply    = 9
	PrimDivide      = 10
	PrimMod         = 11
	// 12 (@ / Point construction) is not a small-int arithmetic op; left
	// unregistered, so Dispatch's failing-default applies.
	PrimBitShift   = 13
	PrimIntegerDiv = 14
	PrimBitAnd     = 15
	PrimBitOr      = 16
)

func bothSmallInts(a, b oop.Value) (oop.SmallInteger, oop.SmallInteger, bool) {
	ai, ok1 := a.(oop.SmallInteger)
	bi, ok2 := b.(oop.SmallInteger)
	return ai, bi, ok1 && ok2
}

func init() {
	register := func(index int, name string, fn func(a, b int64) (int64, bool)) {
		Register(&Primitive{
			Index: index, Name: name,
			Unwrap: []Unwrap{UnwrapObject, UnwrapObject},
			Result: ResultPush,
			Fn: func(m *Machine, c Call) Outcome {
				a, b, ok := bothSmallInts(c.Receiver, c.Args[0])
				if !ok {
					return Failed()
				}
				result, ok := fn(int64(a), int64(b))
				if !ok {
					return Failed()
				}
				wrapped, inRange := oop.WrapInt(result)
				if !inRange {
					return Failed()
				}
				return Pushed(wrapped)
			},
		})
	}

	registerBool := func(index int, name string, fn func(a, b int64) bool) {
		Register(&Primitive{
			Index: index, Name: name,
			Unwrap: []Unwrap{UnwrapObject, UnwrapObject},
			Result: ResultPush,
			Fn: func(m *Machine, c Call) Outcome {
				a, b, ok := bothSmallInts(c.Receiver, c.Args[0])
				if !ok {
					return Failed()
				}
				if fn(int64(a), int64(b)) {
					return Pushed(oop.True)
				}
				return Pushed(oop.False)
			},
		})
	}

	register(PrimAdd, "+", func(a, b int64) (int64, bool) { return a + b, true })
	register(PrimSubtract, "-", func(a, b int64) (int64, bool) { return a - b, true })
	register(PrimMultiply, "*", func(a, b int64) (int64, bool) {
		p := a * b
		if a != 0 && p/a != b {
			return 0, false // int64 overflow
		}
		return p, true
	})
	register(PrimDivide, "/", func(a, b int64) (int64, bool) {
		if b == 0 || a%b != 0 {
			return 0, false // non-exact division fails per spec's "boundary behaviors": div by zero fails
		}
		return a / b, true
	})
	register(PrimMod, "\\\\", func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		m := a % b
		if (m != 0) && ((m < 0) != (b < 0)) {
			m += b
		}
		return m, true
	})
	register(PrimIntegerDiv, "//", func(a, b int64) (int64, bool) {
		if b == 0 {
			return 0, false
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return q, true
	})
	register(PrimBitAnd, "bitAnd:", func(a, b int64) (int64, bool) { return a & b, true })
	register(PrimBitOr, "bitOr:", func(a, b int64) (int64, bool) { return a | b, true })
	register(PrimBitShift, "bitShift:", func(a, shift int64) (int64, bool) {
		const wordBits = 62
		if shift >= wordBits || shift <= -wordBits {
			return 0, false // boundary behavior: |shift| >= word bit-width fails
		}
		if shift >= 0 {
			r := a << uint(shift)
			if r>>uint(shift) != a {
				return 0, false // bits shifted out of int64
			}
			return r, true
		}
		return a >> uint(-shift), true
	})

	registerBool(PrimLessThan, "<", func(a, b int64) bool { return a < b })
	registerBool(PrimGreaterThan, ">", func(a, b int64) bool { return a > b })
	registerBool(PrimLessOrEqual, "<=", func(a, b int64) bool { return a <= b })
	registerBool(PrimGreaterOrEq, ">=", func(a, b int64) bool { return a >= b })
	registerBool(PrimEqual, "=", func(a, b int64) bool { return a == b })
	registerBool(PrimNotEqual, "~=", func(a, b int64) bool { return a != b })
}
