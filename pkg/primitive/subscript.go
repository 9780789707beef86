package primitive

import "github.com/kristofer/stvm/pkg/oop"

// Primitives 60..65: subscript/stream access, spec §4.5/§6 "60..69
// subscript/stream/storage."
const (
	PrimAt      = 60
	PrimAtPut   = 61
	PrimSize    = 62
	PrimNext    = 63
	PrimNextPut = 64
	PrimAtEnd   = 65
)

func receiverHandle(v oop.Value) (oop.Handle, bool) {
	r, ok := v.(oop.Reference)
	return oop.Handle(r), ok
}

func init() {
	Register(&Primitive{
		Index: PrimAt, Name: "at:",
		Unwrap: []Unwrap{Unwrap1BasedIndex},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := receiverHandle(c.Receiver)
			idx, ok2 := c.Args[0].(oop.SmallInteger)
			if !ok || !ok2 {
				return Failed()
			}
			v, err := m.Heap.At(ref, int(idx))
			if err != nil {
				return Failed() // bounds-checked against variable size, spec §4.5
			}
			return Pushed(v)
		},
	})

	Register(&Primitive{
		Index: PrimAtPut, Name: "at:put:",
		Unwrap: []Unwrap{Unwrap1BasedIndex, UnwrapObject},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := receiverHandle(c.Receiver)
			idx, ok2 := c.Args[0].(oop.SmallInteger)
			if !ok || !ok2 {
				return Failed()
			}
			if err := m.Heap.AtPut(ref, int(idx), c.Args[1]); err != nil {
				return Failed()
			}
			return Pushed(c.Args[1]) // at:put: answers the stored value
		},
	})

	Register(&Primitive{
		Index: PrimSize, Name: "size",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := receiverHandle(c.Receiver)
			if !ok {
				return Failed()
			}
			n, overflow := oop.WrapInt(int64(m.Heap.VariableSize(ref)))
			if !overflow {
				return Failed()
			}
			return Pushed(n)
		},
	})
}
