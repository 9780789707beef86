// Package class implements the class model of spec §4.2: instance shape,
// superclass chain, and per-class method dictionaries, plus hierarchy
// lookup and the invalidation hooks the method cache (pkg/cache) depends
// on.
//
// Grounded on the teacher's pkg/bytecode.ClassDefinition (which already
// carries Name, Superclass, Fields, and a Methods map) and pkg/vm.VM's
// countAllFields/executeMethod lookup walk, generalized from the
// teacher's single fixed-pointers shape to the full {fixed, variable
// tail kind} shape spec §4.2 requires.
package class

import (
	"errors"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/oop"
)

// ErrMethodNotFound is returned when a selector lookup walks off the root
// of the superclass chain (spec §4.2).
var ErrMethodNotFound = errors.New("class: method not found")

// TailKind is the variable-tail flavor of a class's instance shape.
type TailKind byte

const (
	TailNone TailKind = iota
	TailPointers
	TailBytes
	TailWords
	TailWeak
)

// Shape describes how instances of a class are laid out: a fixed slot
// count plus an optional variable tail kind, per spec §4.2: "{fixed_slots,
// variable_tail_kind ∈ {none, pointers, bytes, words, weak}}".
type Shape struct {
	FixedSlots int
	Tail       TailKind
}

// Format returns the oop.Format a Shape allocates as.
func (s Shape) Format() oop.Format {
	switch s.Tail {
	case TailPointers:
		return oop.FormatVariablePointers
	case TailBytes:
		return oop.FormatBytes
	case TailWords:
		return oop.FormatWords
	case TailWeak:
		return oop.FormatWeakPointers
	default:
		return oop.FormatPointers
	}
}

// Class is a heap object (a pointers object, per spec §3) whose identity
// is its own oop.Handle (stored as Ref); Superclass, MethodDict, and Shape
// live in a side table here rather than packed into Heap.Object.Pointers,
// because class-shape metadata is read on every send's lookup path and
// benefits from direct Go field access rather than indexed heap fetches.
type Class struct {
	Ref        oop.ClassRef
	Name       string
	Superclass oop.ClassRef // 0 means "no superclass" (this is Object or nil-class)
	Shape      Shape
	Methods    map[string]*bytecode.CompiledMethod
	ClassVars  map[string]oop.Value
}

// NewClass creates a class with an empty method dictionary.
func NewClass(ref oop.ClassRef, name string, superclass oop.ClassRef, shape Shape) *Class {
	return &Class{
		Ref:        ref,
		Name:       name,
		Superclass: superclass,
		Shape:      shape,
		Methods:    make(map[string]*bytecode.CompiledMethod),
		ClassVars:  make(map[string]oop.Value),
	}
}

// Registry owns every class in the image by reference and by name, and
// notifies subscribers (the method cache) when a method dictionary
// mutates, per spec §4.2: "mutation of any method dictionary invalidates
// the method cache."
type Registry struct {
	byRef    map[oop.ClassRef]*Class
	byName   map[string]oop.ClassRef
	onMutate []func(oop.ClassRef)
}

// NewRegistry creates an empty class registry.
func NewRegistry() *Registry {
	return &Registry{
		byRef:  make(map[oop.ClassRef]*Class),
		byName: make(map[string]oop.ClassRef),
	}
}

// OnMutate registers a callback invoked whenever a class's method
// dictionary changes; pkg/cache.MethodCache subscribes here to implement
// its invalidation contract.
func (r *Registry) OnMutate(fn func(oop.ClassRef)) {
	r.onMutate = append(r.onMutate, fn)
}

// Define registers a class, indexing it by both reference and name.
func (r *Registry) Define(c *Class) {
	r.byRef[c.Ref] = c
	if c.Name != "" {
		r.byName[c.Name] = c.Ref
	}
}

// Get returns the class for a reference, or nil if unknown.
func (r *Registry) Get(ref oop.ClassRef) *Class { return r.byRef[ref] }

// Named returns the class registered under name, or nil.
func (r *Registry) Named(name string) *Class {
	ref, ok := r.byName[name]
	if !ok {
		return nil
	}
	return r.byRef[ref]
}

// AddMethod installs selector into class's method dictionary and fires
// the mutation hook, per spec §4.2's cache-invalidation contract.
func (r *Registry) AddMethod(ref oop.ClassRef, selector string, method *bytecode.CompiledMethod) {
	c := r.byRef[ref]
	if c == nil {
		return
	}
	c.Methods[selector] = method
	for _, fn := range r.onMutate {
		fn(ref)
	}
}

// RemoveMethod deletes selector from class's method dictionary and fires
// the mutation hook.
func (r *Registry) RemoveMethod(ref oop.ClassRef, selector string) {
	c := r.byRef[ref]
	if c == nil {
		return
	}
	delete(c.Methods, selector)
	for _, fn := range r.onMutate {
		fn(ref)
	}
}

// Lookup walks receiverClass and its superclasses for selector, per spec
// §4.2: "walk the receiver's class and its superclasses; at each, inspect
// the method dictionary. Fails with MethodNotFound if the root of the
// chain is reached."
func (r *Registry) Lookup(receiverClass oop.ClassRef, selector string) (*bytecode.CompiledMethod, oop.ClassRef, error) {
	for ref := receiverClass; ref != 0; {
		c := r.byRef[ref]
		if c == nil {
			break
		}
		if m, ok := c.Methods[selector]; ok {
			return m, ref, nil
		}
		ref = c.Superclass
	}
	return nil, 0, ErrMethodNotFound
}

// SuperLookup starts the walk at compiledInClass's superclass rather than
// the receiver's own class, per spec §4.2: "Lookup for super-sends starts
// from the compiled-in class's superclass, not the receiver's class."
func (r *Registry) SuperLookup(compiledInClass oop.ClassRef, selector string) (*bytecode.CompiledMethod, oop.ClassRef, error) {
	c := r.byRef[compiledInClass]
	if c == nil {
		return nil, 0, ErrMethodNotFound
	}
	return r.Lookup(c.Superclass, selector)
}

// Subclasses returns every class whose superclass chain passes through
// ref, used by the method cache's conservative invalidation (spec §4.2:
// "...OR any subclass (because inherited lookups could change)").
func (r *Registry) Subclasses(ref oop.ClassRef) []oop.ClassRef {
	var out []oop.ClassRef
	for candidate, c := range r.byRef {
		for sup := c.Superclass; sup != 0; {
			if sup == ref {
				out = append(out, candidate)
				break
			}
			parent := r.byRef[sup]
			if parent == nil {
				break
			}
			sup = parent.Superclass
		}
	}
	return out
}

// New implements the `new` primitive (no size argument) on heap h. It
// fails on a variable-shape class, per spec §4.2: "new() fails on
// variable classes."
func (c *Class) New(h *oop.Heap) (oop.Handle, error) {
	if c.Shape.Tail != TailNone {
		return 0, errors.New("class: new sent to a variable-shape class; use new:")
	}
	return h.Allocate(c.Ref, c.Shape.Format(), c.Shape.FixedSlots, 0), nil
}

// NewWithSize implements the `new:` primitive on heap h. It fails on a
// fixed-shape class when size != 0, per spec §4.2: "new(size) fails on
// fixed classes with size ≠ 0." size == 0 is tolerated even on a fixed
// class so code written against `new:` generically still works.
func (c *Class) NewWithSize(h *oop.Heap, size int) (oop.Handle, error) {
	if c.Shape.Tail == TailNone && size != 0 {
		return 0, errors.New("class: new: sent with nonzero size to a fixed-shape class")
	}
	return h.Allocate(c.Ref, c.Shape.Format(), c.Shape.FixedSlots, size), nil
}
