// Package context implements the activation-record model of spec §4.3: method
// and block contexts, closure records, sender chains, non-local return, and
// the sum-typed control-flow events (spec §9 Design Notes: "Control-flow via
// exceptions in the source ... in the target, model as a sum-typed result
// carried up through the bytecode dispatch; the loop inspects the variant and
// takes the appropriate action. No host-language exceptions on the hot path.")
//
// Grounded on the teacher's pkg/vm.StackFrame/callStack (a slice-based call
// stack kept purely for diagnostics) and pkg/vm.VM's pushFrame/popFrame
// pairing, generalized from a debugging-only side stack into the VM's actual
// activation records: contexts are addressed by handle (Ref) rather
// than Go pointer so sender chains can be cyclic and so `thisContext` can
// expose a context to Smalltalk code without aliasing concerns, the same
// indirection technique pkg/oop.Heap uses for become:.
package context

import (
	"errors"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/oop"
)

// ErrBlockCannotReturn is raised when a non-local return targets a home
// context that has already returned (spec §4.3 point 3, §7).
var ErrBlockCannotReturn = errors.New("context: block cannot return, home context already dead")

// Kind distinguishes a method activation from a block activation, per spec
// §3: "home == self" for a method context, "home != self" for a block one.
type Kind byte

const (
	KindMethod Kind = iota
	KindBlock
)

// Ref is a handle into a Store, the context-model analogue of oop.Handle.
// Zero is the nil context, matching "sender is either a context or nil."
type Ref uint64

// returnedPC is the sentinel pc value that marks a context as terminated,
// per spec §3: "the pc of a terminated context is set to a sentinel
// ('marked returned') and the sender is broken to nil."
const returnedPC = -1

// ensurePrimitiveIndex is the primitive index spec §4.3 point 4 uses to
// recognize an ensure:/ifCurtailed: activation during unwind.
const ensurePrimitiveIndex = 198

// Context is an activation record (spec §3/§4.3). Method and block contexts
// share this representation; Kind and Home distinguish them. The expression
// stack, arguments, and temporaries all live in the single Stack slice,
// args first, then temps, then the expression stack proper -- matching the
// spec's "args+temps inline, stack inline" phrasing for method contexts.
type Context struct {
	Kind     Kind
	Sender   Ref
	PC       int
	StackP   int
	Method   *bytecode.CompiledMethod
	Receiver oop.Value
	Stack    []oop.Value

	// Home is the enclosing method context for a block context; for a
	// method context Home is the context's own ref (home == self).
	Home Ref

	// StartPC is a block context's starting pc; zero on a method context.
	// NumArgs is the activation's argument count on both kinds of context,
	// so the first temp sits at Stack[NumArgs].
	StartPC int
	NumArgs int

	// Closure is set when this is a closure activation: a method context
	// whose pc starts inside a block body (spec §3's "closure activation"
	// variant). Nil for a plain method or block context.
	Closure *ClosureRecord
}

// ClosureRecord is the immutable capture spec §3 describes: "Outer context,
// start-pc, arg count, copied-values vector. Immutable after creation."
// Outer is the context a `value`-family send should chain as Sender (the
// block's own activation chain); Home is the enclosing method context a
// non-local return from this block ultimately targets -- for a top-level
// block these coincide with Outer's own Home, but a nested block's Home is
// still the outermost method activation, not its immediately enclosing
// block.
type ClosureRecord struct {
	Outer    Ref
	Home     Ref
	StartPC  int
	NumArgs  int
	NumTemps int
	Copied   []oop.Value
}

// Activate materializes a fresh block context from a closure record, per
// spec §3: "Activation materializes a fresh block context whose initial
// stack is args ++ copied_values."
func (cr *ClosureRecord) Activate(method *bytecode.CompiledMethod, args []oop.Value) *Context {
	stack := make([]oop.Value, 0, len(args)+len(cr.Copied)+8)
	stack = append(stack, args...)
	stack = append(stack, cr.Copied...)
	return &Context{
		Kind:    KindBlock,
		Sender:  cr.Outer,
		PC:      cr.StartPC,
		StackP:  len(stack),
		Method:  method,
		Home:    cr.Home,
		StartPC: cr.StartPC,
		NumArgs: cr.NumArgs,
		Stack:   stack,
	}
}

// Returned reports whether a context has already terminated (spec §3's
// sentinel pc).
func (c *Context) Returned() bool { return c.PC == returnedPC }

// markReturned sets the sentinel pc and breaks the sender link, per spec §3
// and the re-architecture guidance on cyclic context graphs (§9: "cycles
// must be broken explicitly on return").
func (c *Context) markReturned() {
	c.PC = returnedPC
	c.Sender = 0
}

// isEnsureMarker reports whether c is an ensure:/ifCurtailed: activation
// whose cleanup has not yet run, per spec §4.3 point 4: "compiled method's
// primitive index == 198 and first temp still nil."
func (c *Context) isEnsureMarker() bool {
	if c.Method == nil || c.Method.Header.PrimitiveIndex() != ensurePrimitiveIndex {
		return false
	}
	tempCount := c.Method.Header.TempCount()
	if tempCount == 0 {
		return false
	}
	firstTempIdx := c.NumArgs
	if firstTempIdx >= len(c.Stack) {
		return true
	}
	return oop.IsNil(c.Stack[firstTempIdx])
}

// Store is the handle-indexed arena of live contexts, the context-model
// counterpart of oop.Heap. Contexts are addressed by Ref so sender chains
// can reference each other (and, via thisContext, be observed from
// Smalltalk) without Go pointer aliasing hazards.
type Store struct {
	slots []*Context
}

// NewStore creates an empty context arena. Slot 0 is reserved so the zero
// Ref value always means "nil context."
func NewStore() *Store {
	return &Store{slots: make([]*Context, 1)}
}

// New allocates and registers a context, returning its Ref.
func (s *Store) New(c *Context) Ref {
	s.slots = append(s.slots, c)
	ref := Ref(len(s.slots) - 1)
	if c.Kind == KindMethod {
		c.Home = ref
	}
	return ref
}

// Get resolves a Ref to its Context, or nil for Ref(0) or a freed slot.
func (s *Store) Get(ref Ref) *Context {
	if ref == 0 || int(ref) >= len(s.slots) {
		return nil
	}
	return s.slots[ref]
}

// Free drops a context's slot once it is unreachable, mirroring spec §3's
// lifecycle note: "contexts are ... destroyed (become unreachable) on
// return."
func (s *Store) Free(ref Ref) {
	if ref != 0 && int(ref) < len(s.slots) {
		s.slots[ref] = nil
	}
}

// EventKind is the tag of a control-flow Event, replacing the host-language
// exceptions the source uses for Return/ProcessSwitch/StackOverflow (spec
// §9 Design Notes).
type EventKind int

const (
	// EventNone means the bytecode executed normally; pc was advanced by
	// the decoder already and the loop simply continues.
	EventNone EventKind = iota
	// EventReturn means a context returned (locally or non-locally); New
	// is the context that should become active and Value its incoming
	// stack-top value.
	EventReturn
	// EventProcessSwitch means the scheduler wants a different process's
	// context made active (spec §4.7).
	EventProcessSwitch
	// EventStackOverflow means the active virtual context must be forced
	// to the heap and re-entered (spec §4.4 step 3, "stack overflow").
	EventStackOverflow
)

// Event is the sum-typed result of executing one bytecode's control-flow
// effects, carried up through the interpreter's dispatch instead of a
// panic/exception (spec §9).
type Event struct {
	Kind  EventKind
	New   Ref
	Value oop.Value
	Err   error
}

// Unwinder resolves and runs ensure:/ifCurtailed: cleanups during a return.
// RunCleanup is supplied by the interpreter, which alone knows how to
// activate a compiled method's Smalltalk body (a cleanup block) and drive
// it to completion; this package only knows when to call it.
type Unwinder struct {
	Store      *Store
	RunCleanup func(ctx *Context) error
}

// LocalReturn implements spec §4.3 point 1: "^ expr inside a method returns
// to the method's sender." No sender-chain unwinding beyond the one frame is
// needed; ensure markers are only relevant to non-local returns that skip
// over intermediate frames.
func (u *Unwinder) LocalReturn(from Ref, value oop.Value) Event {
	c := u.Store.Get(from)
	if c == nil {
		return Event{Kind: EventReturn, Err: ErrBlockCannotReturn}
	}
	sender := c.Sender
	c.markReturned()
	u.Store.Free(from)
	return Event{Kind: EventReturn, New: sender, Value: value}
}

// NonLocalReturn implements spec §4.3 points 2-4: `^` inside a block returns
// to the sender of the block's home method context, running every
// ensure:/ifCurtailed: frame unwound along the way exactly once, innermost
// first (spec §8 scenario 4).
func (u *Unwinder) NonLocalReturn(from Ref, home Ref, value oop.Value) Event {
	homeCtx := u.Store.Get(home)
	if homeCtx == nil || homeCtx.Returned() {
		return Event{Kind: EventReturn, Err: ErrBlockCannotReturn}
	}

	var unwound []Ref
	for ref := from; ref != 0 && ref != home; {
		c := u.Store.Get(ref)
		if c == nil {
			break
		}
		unwound = append(unwound, ref)
		ref = c.Sender
	}

	for _, ref := range unwound {
		c := u.Store.Get(ref)
		if c == nil {
			continue
		}
		if c.isEnsureMarker() && u.RunCleanup != nil {
			if err := u.RunCleanup(c); err != nil {
				return Event{Kind: EventReturn, Err: err}
			}
		}
	}

	target := homeCtx.Sender
	homeCtx.markReturned()
	for _, ref := range unwound {
		u.Store.Free(ref)
	}
	u.Store.Free(home)

	return Event{Kind: EventReturn, New: target, Value: value}
}
