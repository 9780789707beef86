package primitive

import (
	"github.com/kristofer/stvm/pkg/context"
	"github.com/kristofer/stvm/pkg/oop"
)

// unwrapArrayAsList reads an Array-shaped receiver's variable-pointer
// slots into a Go slice, implementing the UnwrapArrayAsList unwrap kind
// (spec §4.5) for the two primitives that need it: valueWithArguments:
// and perform:with:.
func unwrapArrayAsList(m *Machine, v oop.Value) ([]oop.Value, bool) {
	ref, ok := v.(oop.Reference)
	if !ok {
		return nil, false
	}
	n := m.Heap.VariableSize(oop.Handle(ref))
	out := make([]oop.Value, n)
	for i := 0; i < n; i++ {
		elem, err := m.Heap.At(oop.Handle(ref), i+1)
		if err != nil {
			return nil, false
		}
		out[i] = elem
	}
	return out, true
}

// Primitives 80..84: control/block/semaphore, spec §6 "80..89
// control/block/semaphore" and §4.6's closure-activation checks.
const (
	PrimValue                = 80
	PrimValueColon           = 81
	PrimValueWithArguments   = 82
	PrimPerform              = 83
	PrimPerformWithArguments = 84
)

// closureValue implements spec §4.6's value-send checks: receiver must be a
// BlockClosure, argument count must match the closure's num_args, and the
// outer context must be a method or block context. On success it answers
// ResultNewFrame with a freshly materialized context; the interpreter loop
// is responsible for actually making that context active.
func closureValue(m *Machine, c Call, args []oop.Value) Outcome {
	ref, ok := c.Receiver.(oop.Reference)
	if !ok {
		return Failed() // receiver's class is not BlockClosure
	}
	cr, ok := m.Closures[oop.Handle(ref)]
	if !ok {
		return Failed()
	}
	if len(args) != cr.NumArgs {
		return Failed() // argument count equals closure's num_args, else fail
	}
	if c.Active != nil && c.Active.Kind != context.KindMethod && c.Active.Kind != context.KindBlock {
		return Failed()
	}
	homeCtx := m.Contexts.Get(cr.Home)
	if homeCtx == nil || homeCtx.Method == nil {
		return Failed()
	}
	newCtx := cr.Activate(homeCtx.Method, args)
	return Outcome{Result: ResultNewFrame, Next: newCtx}
}

func init() {
	Register(&Primitive{
		Index: PrimValue, Name: "value",
		Result: ResultNewFrame,
		Fn:     func(m *Machine, c Call) Outcome { return closureValue(m, c, nil) },
	})

	Register(&Primitive{
		Index: PrimValueColon, Name: "value:",
		Unwrap: []Unwrap{UnwrapObject},
		Result: ResultNewFrame,
		Fn:     func(m *Machine, c Call) Outcome { return closureValue(m, c, c.Args) },
	})

	Register(&Primitive{
		Index: PrimValueWithArguments, Name: "valueWithArguments:",
		Unwrap: []Unwrap{UnwrapArrayAsList},
		Result: ResultNewFrame,
		Fn: func(m *Machine, c Call) Outcome {
			args, ok := unwrapArrayAsList(m, c.Args[0])
			if !ok {
				return Failed()
			}
			return closureValue(m, c, args)
		},
	})

	Register(&Primitive{
		Index: PrimPerformWithArguments, Name: "perform:with:",
		Unwrap: []Unwrap{UnwrapObject, UnwrapArrayAsList},
		Result: ResultNewFrame,
		Fn: func(m *Machine, c Call) Outcome {
			selectorLit, ok := c.Args[0].(oop.Reference)
			if !ok {
				return Failed()
			}
			selector, ok := m.SymbolText(selectorLit)
			if !ok {
				return Failed()
			}
			args, ok := unwrapArrayAsList(m, c.Args[1])
			if !ok {
				return Failed()
			}
			return perform(m, c, c.Receiver, selector, args)
		},
	})
}

// perform implements spec §4.5's "performs a dynamic send with supplied
// receiver/selector/args without re-entering the interpreter loop": it does
// the lookup and frame setup the interpreter's ordinary send path would do,
// but inline, answering ResultNewFrame so the interpreter only has to swap
// in the new context rather than decode another send bytecode.
func perform(m *Machine, c Call, receiver oop.Value, selector string, args []oop.Value) Outcome {
	classRef := m.classOf(receiver)
	method, _, err := m.Classes.Lookup(classRef, selector)
	if err != nil {
		return Failed() // caller falls back to the ordinary doesNotUnderstand: path
	}
	if method.HasPrimitive() {
		return Dispatch(m, method.Header.PrimitiveIndex(), Call{Receiver: receiver, Args: args, Active: c.Active})
	}
	stack := make([]oop.Value, 0, method.FrameSize())
	stack = append(stack, args...)
	for len(stack) < method.Header.ArgCount()+method.Header.TempCount() {
		stack = append(stack, oop.NilValue)
	}
	newCtx := &context.Context{
		Kind:     context.KindMethod,
		Sender:   c.ActiveRef,
		Method:   method,
		Receiver: receiver,
		Stack:    stack,
		StackP:   len(stack),
		NumArgs:  method.NumArgs,
	}
	return Outcome{Result: ResultNewFrame, Next: newCtx}
}
