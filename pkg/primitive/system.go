package primitive

import "github.com/kristofer/stvm/pkg/oop"

// PrimMilliseconds and PrimSignalAtMilliseconds are primitives 135..136,
// spec §6 "135..137 time."
const (
	PrimMilliseconds         = 135
	PrimSignalAtMilliseconds = 136
)

// PrimExternal is primitive 117, the named "external" primitive: it routes
// a {module_name, function_name} pair to a host plugin, failing when either
// is unknown. The module and function Symbols arrive as the call's first
// two arguments; the compiled method's literal frame is not read.
const PrimExternal = 117

func init() {
	Register(&Primitive{
		Index: PrimMilliseconds, Name: "milliseconds",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			now := m.StartMillis
			if m.NowMillis != nil {
				now = m.NowMillis()
			}
			elapsed := now - m.StartMillis
			wrapped, ok := oop.WrapInt(elapsed % (oop.MaxSmallInteger + 1))
			if !ok {
				return Failed()
			}
			return Pushed(wrapped)
		},
	})

	Register(&Primitive{
		Index: PrimSignalAtMilliseconds, Name: "signalAtMilliseconds:",
		Unwrap: []Unwrap{UnwrapInt},
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			tick, ok := c.Args[0].(oop.SmallInteger)
			if !ok || m.Interrupt == nil {
				return Failed()
			}
			m.Interrupt.SignalAtMilliseconds(int64(tick))
			return Pushed(c.Receiver)
		},
	})

	Register(&Primitive{
		Index: PrimExternal, Name: "<external>",
		Result: ResultPush,
		Fn: func(m *Machine, c Call) Outcome {
			if m.Host == nil {
				return Failed()
			}
			moduleRef, ok1 := c.Args[0].(oop.Reference)
			functionRef, ok2 := c.Args[1].(oop.Reference)
			if !ok1 || !ok2 {
				return Failed()
			}
			module, ok := m.SymbolText(moduleRef)
			if !ok {
				return Failed()
			}
			function, ok := m.SymbolText(functionRef)
			if !ok {
				return Failed()
			}
			hostArgs := make([]interface{}, len(c.Args)-2)
			for i, a := range c.Args[2:] {
				hostArgs[i] = unwrapHostArg(m, a)
			}
			result, err := m.Host.Call(module, function, hostArgs...)
			if err != nil {
				return Failed()
			}
			return Pushed(wrapHostResult(m, result))
		},
	})
}

// unwrapHostArg converts a Value into the plain Go value pkg/hostservice's
// plugin functions expect; heap string-ish objects are not modeled in this
// package (that lives in pkg/image's class bootstrap), so only immediates
// round-trip here -- full string marshaling is wired at the interpreter
// layer, which knows how to read a String object's bytes.
func unwrapHostArg(m *Machine, v oop.Value) interface{} {
	if n, ok := v.(oop.SmallInteger); ok {
		return int64(n)
	}
	return v
}

func wrapHostResult(m *Machine, v interface{}) oop.Value {
	switch r := v.(type) {
	case int64:
		wrapped, ok := oop.WrapInt(r)
		if ok {
			return wrapped
		}
	case bool:
		if r {
			return oop.True
		}
		return oop.False
	}
	return oop.NilValue
}
