package primitive

import "github.com/kristofer/stvm/pkg/oop"

// Primitives 70..77: storage/new/oop, spec §6 "70..79 storage/new/oop."
const (
	PrimNew          = 70
	PrimNewWithSize  = 71
	PrimBecome       = 72
	PrimBecomeArray  = 73
	PrimSomeInstance = 74
	PrimNextInstance = 75
	PrimInstVarAt    = 76
	PrimInstVarAtPut = 77
)

func init() {
	Register(&Primitive{
		Index: PrimNew, Name: "new",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			classRef, ok := c.Receiver.(oop.Reference)
			if !ok {
				return Failed()
			}
			class := m.Classes.Get(oop.ClassRef(classRef))
			if class == nil {
				return Failed()
			}
			ref, err := class.New(m.Heap)
			if err != nil {
				return Failed() // new() fails on variable classes, spec §4.2
			}
			return Pushed(oop.Reference(ref))
		},
	})

	Register(&Primitive{
		Index: PrimNewWithSize, Name: "new:",
		Unwrap: []Unwrap{UnwrapInt},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			classRef, ok := c.Receiver.(oop.Reference)
			size, ok2 := c.Args[0].(oop.SmallInteger)
			if !ok || !ok2 {
				return Failed()
			}
			class := m.Classes.Get(oop.ClassRef(classRef))
			if class == nil {
				return Failed()
			}
			ref, err := class.NewWithSize(m.Heap, int(size))
			if err != nil {
				return Failed() // new(size) fails on fixed classes with size != 0
			}
			return Pushed(oop.Reference(ref))
		},
	})

	Register(&Primitive{
		Index: PrimBecome, Name: "become:",
		Unwrap: []Unwrap{UnwrapObject},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			a, ok1 := c.Receiver.(oop.Reference)
			b, ok2 := c.Args[0].(oop.Reference)
			if !ok1 || !ok2 {
				return Failed()
			}
			if err := m.Heap.Become(oop.Handle(a), oop.Handle(b)); err != nil {
				return Failed()
			}
			return Pushed(c.Receiver)
		},
	})

	Register(&Primitive{
		Index: PrimBecomeArray, Name: "elementsExchangeIdentityWith:",
		Unwrap: []Unwrap{UnwrapObject},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			aElems, ok := unwrapArrayAsList(m, c.Receiver)
			if !ok {
				return Failed()
			}
			bElems, ok := unwrapArrayAsList(m, c.Args[0])
			if !ok || len(aElems) != len(bElems) {
				return Failed()
			}
			as := make([]oop.Handle, len(aElems))
			bs := make([]oop.Handle, len(bElems))
			for i := range aElems {
				aRef, ok := aElems[i].(oop.Reference)
				if !ok {
					return Failed()
				}
				bRef, ok := bElems[i].(oop.Reference)
				if !ok {
					return Failed()
				}
				as[i], bs[i] = oop.Handle(aRef), oop.Handle(bRef)
			}
			if err := m.Heap.BecomeBatch(as, bs); err != nil {
				return Failed() // become: fails atomically, spec's "become: is all-or-nothing"
			}
			return Pushed(c.Receiver)
		},
	})

	Register(&Primitive{
		Index: PrimSomeInstance, Name: "someInstance",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			classRef, ok := c.Receiver.(oop.Reference)
			if !ok {
				return Failed()
			}
			instances := m.Heap.InstancesOf(oop.ClassRef(classRef))
			if len(instances) == 0 {
				return Failed()
			}
			return Pushed(oop.Reference(instances[0]))
		},
	})

	Register(&Primitive{
		Index: PrimInstVarAt, Name: "instVarAt:",
		Unwrap: []Unwrap{Unwrap1BasedIndex},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := c.Receiver.(oop.Reference)
			idx, ok2 := c.Args[0].(oop.SmallInteger)
			if !ok || !ok2 {
				return Failed()
			}
			v, err := m.Heap.Fetch(oop.Handle(ref), int(idx)-1)
			if err != nil {
				return Failed()
			}
			return Pushed(v)
		},
	})

	Register(&Primitive{
		Index: PrimInstVarAtPut, Name: "instVarAt:put:",
		Unwrap: []Unwrap{Unwrap1BasedIndex, UnwrapObject},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			ref, ok := c.Receiver.(oop.Reference)
			idx, ok2 := c.Args[0].(oop.SmallInteger)
			if !ok || !ok2 {
				return Failed()
			}
			if err := m.Heap.StorePointer(oop.Handle(ref), int(idx)-1, c.Args[1]); err != nil {
				return Failed()
			}
			return Pushed(c.Args[1])
		},
	})
}

// NextInstance implements the `someInstance`/`nextInstance` iteration
// protocol (spec §4.5: "iterate all live objects of a class ... traversal
// must visit each live instance at most once"). It is exposed as a plain
// function rather than a table primitive because it needs the *previous*
// instance as state, which the unary `nextInstance` selector carries on the
// receiver (the previously-returned instance), not as a primitive argument
// the table's Unwrap machinery models.
func NextInstance(m *Machine, class oop.ClassRef, previous oop.Handle) (oop.Handle, bool) {
	instances := m.Heap.InstancesOf(class)
	for i, h := range instances {
		if h == previous && i+1 < len(instances) {
			return instances[i+1], true
		}
	}
	return 0, false
}
