package oop

import (
	"errors"
	"fmt"
)

// Format is the shape tag every heap object carries, per spec §3
// "Heap object ... a format tag ∈ {pointers, pointers-with-variable-tail,
// bytes, words, float, compiled-method, weak-pointers}".
type Format byte

const (
	FormatPointers Format = iota
	FormatVariablePointers
	FormatBytes
	FormatWords
	FormatFloat
	FormatCompiledMethod
	FormatWeakPointers
)

func (f Format) String() string {
	switch f {
	case FormatPointers:
		return "pointers"
	case FormatVariablePointers:
		return "pointers-with-variable-tail"
	case FormatBytes:
		return "bytes"
	case FormatWords:
		return "words"
	case FormatFloat:
		return "float"
	case FormatCompiledMethod:
		return "compiled-method"
	case FormatWeakPointers:
		return "weak-pointers"
	default:
		return "unknown-format"
	}
}

var (
	// ErrOutOfBounds is raised by indexed access past an object's shape.
	// Spec §4.1: "caller validates via shape before calling" -- callers
	// are expected to bounds-check, but At/AtPut still guard defensively.
	ErrOutOfBounds = errors.New("oop: index out of bounds")
	// ErrWrongFormat is raised when an operation expects a different
	// object format than the receiver carries (e.g. getchar on a
	// non-byte object).
	ErrWrongFormat = errors.New("oop: wrong object format")
	// ErrBecomeShapeMismatch is raised when become: cannot reconcile the
	// shape constraints of the two objects being swapped.
	ErrBecomeShapeMismatch = errors.New("oop: become: shape mismatch")
)

// ClassRef identifies a class without importing the class package (which
// itself depends on oop.Heap for instance allocation); it is the class
// object's own Handle.
type ClassRef Handle

// Object is a heap object's content: a class reference, a format tag, a
// lazily-assigned identity hash, and format-specific payload slots.
//
// Exactly one payload field is meaningful for a given Format:
//
//	FormatPointers / FormatVariablePointers -> Pointers
//	FormatBytes                              -> Bytes
//	FormatWords                              -> Words
//	FormatFloat                              -> Words (two 32-bit halves)
//	FormatCompiledMethod                     -> Pointers (literals) + Bytes (bytecode body)
//	FormatWeakPointers                        -> Pointers, weakly held
type Object struct {
	Class  ClassRef
	Format Format
	hash   uint32 // 0 means "not yet assigned"

	Pointers []Value  // fixed slots ++ variable tail, for pointer formats
	Bytes    []byte   // byte-indexable payload
	Words    []uint32 // word-indexable payload (also float halves)

	// FixedSlots is how many of Pointers belong to the class's declared
	// instance shape; the remainder is the variable tail. Needed because
	// Pointers holds both ranges contiguously, per spec §3's "Fixed-slot
	// count is determined by the class's instance size; variable tail
	// size is per-object."
	FixedSlots int

	weak bool // true for FormatWeakPointers: referents may be cleared lazily
}

// Handle is a stable identifier for a heap object. It never changes for
// the lifetime of the object, even across a become: swap -- what changes
// is which Object a Handle resolves to.
type Handle uint64

// Heap owns every live object, indexed by Handle, and implements become:
// as an indirection-table swap rather than a content copy.
type Heap struct {
	slots []*Object // slots[h] is the live object for Handle(h); nil if freed
	next  Handle

	nextHash uint32 // monotonic counter for lazy identity-hash assignment

	// instancesOf supports someInstance/nextInstance (spec §4.5) without
	// a GC root walk, per Design Notes §9's explicit fallback: "maintain
	// an explicit per-class instance list (weak) populated at allocation
	// time." Entries are not removed eagerly; NextInstance skips dead
	// handles lazily.
	instancesOf map[ClassRef][]Handle
}

// NewHeap creates an empty heap. Handle 0 is reserved for nil.
func NewHeap() *Heap {
	h := &Heap{
		slots:       make([]*Object, 1, 1024),
		next:        1,
		instancesOf: make(map[ClassRef][]Handle),
	}
	h.slots[0] = &Object{Class: 0, Format: FormatPointers}
	return h
}

// Allocate creates a new object of the given class/format/shape and
// returns its Handle. fixedSlots sizes Pointers for FormatPointers (and the
// literal frame for FormatCompiledMethod); the variable/weak pointer formats
// get fixedSlots+variableTail pointers; for byte/word formats, variableTail
// sizes the respective payload instead; FormatFloat always gets two words.
func (h *Heap) Allocate(class ClassRef, format Format, fixedSlots, variableTail int) Handle {
	obj := &Object{Class: class, Format: format, FixedSlots: fixedSlots}
	switch format {
	case FormatPointers:
		obj.Pointers = make([]Value, fixedSlots)
		for i := range obj.Pointers {
			obj.Pointers[i] = NilValue
		}
	case FormatVariablePointers, FormatWeakPointers:
		total := fixedSlots + variableTail
		obj.Pointers = make([]Value, total)
		for i := range obj.Pointers {
			obj.Pointers[i] = NilValue
		}
		obj.weak = format == FormatWeakPointers
	case FormatBytes:
		obj.Bytes = make([]byte, variableTail)
	case FormatWords:
		obj.Words = make([]uint32, variableTail)
	case FormatFloat:
		obj.Words = make([]uint32, 2)
	case FormatCompiledMethod:
		obj.Pointers = make([]Value, fixedSlots) // literal frame
		obj.Bytes = []byte{}                     // bytecode body, filled by caller
	}

	handle := h.next
	h.next++
	if int(handle) >= len(h.slots) {
		grown := make([]*Object, handle+1)
		copy(grown, h.slots)
		h.slots = grown
	}
	h.slots[handle] = obj
	h.instancesOf[class] = append(h.instancesOf[class], handle)
	return handle
}

// Resolve returns the live object for a handle. A nil *Object return means
// the handle was never allocated or is dead (e.g. freed), which callers
// treat as an unreachable object.
func (h *Heap) Resolve(ref Handle) *Object {
	if int(ref) >= len(h.slots) {
		return nil
	}
	return h.slots[ref]
}

// Class returns the class of the object at ref.
func (h *Heap) Class(ref Handle) ClassRef {
	obj := h.Resolve(ref)
	if obj == nil {
		return 0
	}
	return obj.Class
}

// SetClass backpatches ref's class tag in place. This exists for pkg/image's
// bootstrap sequence: the canonical nil/true/false handles (0/1/2) and a
// class's own backing object must be allocated before the class they belong
// to has itself been registered, so the class tag is fixed up once the
// registry exists rather than being knowable at Allocate time.
func (h *Heap) SetClass(ref Handle, class ClassRef) {
	obj := h.Resolve(ref)
	if obj == nil {
		return
	}
	obj.Class = class
}

// IdentityHash returns the object's identity hash, assigning one lazily on
// first query, per spec §3: "a hash (assigned lazily on first identity-hash
// query; stable thereafter, must survive become: swap)".
func (h *Heap) IdentityHash(ref Handle) uint32 {
	obj := h.Resolve(ref)
	if obj == nil {
		return 0
	}
	if obj.hash == 0 {
		h.nextHash++
		obj.hash = h.nextHash
	}
	return obj.hash
}

// InstanceSize returns the fixed-slot count of the object.
func (h *Heap) InstanceSize(ref Handle) int {
	obj := h.Resolve(ref)
	if obj == nil {
		return 0
	}
	return obj.FixedSlots
}

// VariableSize returns the variable-tail length: for pointer objects, the
// portion of Pointers past FixedSlots; for byte/word objects, the whole
// payload length.
func (h *Heap) VariableSize(ref Handle) int {
	obj := h.Resolve(ref)
	if obj == nil {
		return 0
	}
	switch obj.Format {
	case FormatPointers:
		return 0
	case FormatVariablePointers, FormatWeakPointers:
		return len(obj.Pointers) - obj.FixedSlots
	case FormatBytes:
		return len(obj.Bytes)
	case FormatWords, FormatFloat:
		return len(obj.Words)
	case FormatCompiledMethod:
		return len(obj.Bytes)
	default:
		return 0
	}
}

// At returns the 1-based indexed element of the variable tail (pointer
// objects) or the byte/word payload. idx is 1-based per Smalltalk
// convention; callers doing primitive-level at:/at:put: decrement first.
func (h *Heap) At(ref Handle, idx int) (Value, error) {
	obj := h.Resolve(ref)
	if obj == nil {
		return nil, ErrOutOfBounds
	}
	switch obj.Format {
	case FormatVariablePointers, FormatWeakPointers:
		i := obj.FixedSlots + idx - 1
		if idx < 1 || i >= len(obj.Pointers) {
			return nil, ErrOutOfBounds
		}
		return obj.Pointers[i], nil
	case FormatBytes:
		if idx < 1 || idx > len(obj.Bytes) {
			return nil, ErrOutOfBounds
		}
		return SmallInteger(obj.Bytes[idx-1]), nil
	case FormatWords, FormatFloat:
		if idx < 1 || idx > len(obj.Words) {
			return nil, ErrOutOfBounds
		}
		return SmallInteger(obj.Words[idx-1]), nil
	default:
		return nil, ErrWrongFormat
	}
}

// AtPut stores into the variable tail / byte / word payload, 1-based.
func (h *Heap) AtPut(ref Handle, idx int, v Value) error {
	obj := h.Resolve(ref)
	if obj == nil {
		return ErrOutOfBounds
	}
	switch obj.Format {
	case FormatVariablePointers, FormatWeakPointers:
		i := obj.FixedSlots + idx - 1
		if idx < 1 || i >= len(obj.Pointers) {
			return ErrOutOfBounds
		}
		obj.Pointers[i] = v
		return nil
	case FormatBytes:
		n, ok := v.(SmallInteger)
		if !ok || idx < 1 || idx > len(obj.Bytes) {
			if !ok {
				return ErrWrongFormat
			}
			return ErrOutOfBounds
		}
		obj.Bytes[idx-1] = byte(n)
		return nil
	case FormatWords, FormatFloat:
		n, ok := v.(SmallInteger)
		if !ok || idx < 1 || idx > len(obj.Words) {
			if !ok {
				return ErrWrongFormat
			}
			return ErrOutOfBounds
		}
		obj.Words[idx-1] = uint32(n)
		return nil
	default:
		return ErrWrongFormat
	}
}

// Fetch reads a fixed instance-variable slot (0-based).
func (h *Heap) Fetch(ref Handle, slot int) (Value, error) {
	obj := h.Resolve(ref)
	if obj == nil || slot < 0 || slot >= len(obj.Pointers) {
		return nil, ErrOutOfBounds
	}
	return obj.Pointers[slot], nil
}

// StorePointer writes a fixed instance-variable slot (0-based).
func (h *Heap) StorePointer(ref Handle, slot int, v Value) error {
	obj := h.Resolve(ref)
	if obj == nil || slot < 0 || slot >= len(obj.Pointers) {
		return ErrOutOfBounds
	}
	obj.Pointers[slot] = v
	return nil
}

// Become performs the two-way identity swap of spec §4.1: after it
// succeeds, every existing Reference(a) is indistinguishable from one to
// b's former object and vice versa, and the identity hashes swap too.
// Because references are Handles into Heap rather than direct pointers,
// this is a slot swap, not a graph rewrite -- every third party holding
// Reference(a) or Reference(b) observes the change without being touched.
func (h *Heap) Become(a, b Handle) error {
	oa, ob := h.Resolve(a), h.Resolve(b)
	if oa == nil || ob == nil {
		return ErrBecomeShapeMismatch
	}
	if !shapeCompatible(oa, ob) {
		return ErrBecomeShapeMismatch
	}
	h.slots[a], h.slots[b] = ob, oa
	return nil
}

// BecomeBatch performs an array become: on parallel slices, rolling back
// every swap already applied if any pair fails (spec §4.1: "the
// batch-primitive (array-become) rolls back partial swaps on failure").
func (h *Heap) BecomeBatch(as, bs []Handle) error {
	if len(as) != len(bs) {
		return fmt.Errorf("oop: become: array length mismatch (%d vs %d)", len(as), len(bs))
	}
	done := 0
	for i := range as {
		if err := h.Become(as[i], bs[i]); err != nil {
			for j := done - 1; j >= 0; j-- {
				h.Become(as[j], bs[j]) //nolint:errcheck -- best-effort rollback of a swap we know just succeeded
			}
			return err
		}
		done++
	}
	return nil
}

// shapeCompatible reports whether become: can reconcile two objects'
// shape constraints (spec §4.1). Squeak allows become: across arbitrary
// shapes by reassigning the header; this implementation requires the
// format tag to match so that indexed-access code elsewhere need not
// special-case a became object discovering a new payload kind mid-use.
func shapeCompatible(a, b *Object) bool {
	return a.Format == b.Format
}

// InstancesOf returns every live handle ever allocated for class, for
// someInstance/nextInstance (spec §4.5, supplemented feature). Dead
// handles (freed slots) are skipped.
func (h *Heap) InstancesOf(class ClassRef) []Handle {
	all := h.instancesOf[class]
	live := make([]Handle, 0, len(all))
	for _, handle := range all {
		if h.Resolve(handle) != nil {
			live = append(live, handle)
		}
	}
	return live
}

// Free marks a handle's slot dead. Only tests call it; the weak-pointer
// clearing pass does not, and the real VM never calls this (there is no GC
// implemented here, per spec §1's non-goals).
func (h *Heap) Free(ref Handle) {
	if int(ref) < len(h.slots) {
		h.slots[ref] = nil
	}
}

// ClearWeakReferents clears slots of weak-pointers objects whose referent
// is no longer resolvable, per spec §3: "Weak-pointers objects clear
// slots whose referent becomes unreachable from strong roots, lazily."
// reachable is supplied by the caller (the VM's root-set walk); this
// function only performs the per-object clearing once unreachability is
// known, it does not compute reachability itself (no GC is implemented).
func (h *Heap) ClearWeakReferents(ref Handle, reachable func(Handle) bool) {
	obj := h.Resolve(ref)
	if obj == nil || !obj.weak {
		return
	}
	for i, v := range obj.Pointers {
		if r, ok := v.(Reference); ok && !IsNil(v) {
			if !reachable(Handle(r)) {
				obj.Pointers[i] = NilValue
			}
		}
	}
}
