package bytecode

import "github.com/kristofer/stvm/pkg/oop"

// Header is the 32-bit compiled-method header word, bit layout per spec §6:
//
//	bit 0       sign bit, always 0
//	bits 1-9    literal count (9 bits)
//	bits 10-16  primitive index (low bits)
//	bit 17      large-frame flag
//	bits 18-22  temp count (5 bits)
//	bits 23-26  arg count (4 bits)
type Header uint32

const (
	headerLiteralCountShift = 1
	headerLiteralCountMask  = 0x1FF // 9 bits
	headerPrimitiveShift    = 10
	headerPrimitiveMask     = 0x7F // 7 bits (bits 10..16)
	headerLargeFrameShift   = 17
	headerTempCountShift    = 18
	headerTempCountMask     = 0x1F // 5 bits
	headerArgCountShift     = 23
	headerArgCountMask      = 0xF // 4 bits
)

// MakeHeader packs the header fields, the inverse of the accessors below.
func MakeHeader(literalCount, primitiveIndex int, largeFrame bool, tempCount, argCount int) Header {
	var h uint32
	h |= uint32(literalCount&headerLiteralCountMask) << headerLiteralCountShift
	h |= uint32(primitiveIndex&headerPrimitiveMask) << headerPrimitiveShift
	if largeFrame {
		h |= 1 << headerLargeFrameShift
	}
	h |= uint32(tempCount&headerTempCountMask) << headerTempCountShift
	h |= uint32(argCount&headerArgCountMask) << headerArgCountShift
	return Header(h)
}

func (h Header) LiteralCount() int { return int(h>>headerLiteralCountShift) & headerLiteralCountMask }
func (h Header) PrimitiveIndex() int {
	return int(h>>headerPrimitiveShift) & headerPrimitiveMask
}
func (h Header) LargeFrame() bool { return (h>>headerLargeFrameShift)&1 == 1 }
func (h Header) TempCount() int   { return int(h>>headerTempCountShift) & headerTempCountMask }
func (h Header) ArgCount() int    { return int(h>>headerArgCountShift) & headerArgCountMask }

// CompiledMethod is the hybrid object of spec §3: a header word, a literal
// frame (pointer tail), and a bytecode body, addressable by byte offset
// with the header as word 0 and literals as words 1..N.
//
// The invariant "literal count derived from header must equal stored
// literal slot count at all times" (spec §3) is enforced by construction:
// NewCompiledMethod takes literals as a slice and derives the header's
// literal count from its length, and every mutator that changes Literals
// must also update Header.
type CompiledMethod struct {
	Header    Header
	Literals  []oop.Value // literal frame, length == Header.LiteralCount()
	Bytecodes []byte
	Selector  string // for diagnostics/doesNotUnderstand:, not part of the wire format
	NumArgs   int
}

// NewCompiledMethod builds a method, deriving the header's literal count
// from len(literals) to preserve the header/literal-count invariant.
func NewCompiledMethod(selector string, argCount, tempCount, primitiveIndex int, literals []oop.Value, code []byte, largeFrame bool) *CompiledMethod {
	return &CompiledMethod{
		Header:    MakeHeader(len(literals), primitiveIndex, largeFrame, tempCount, argCount),
		Literals:  literals,
		Bytecodes: code,
		Selector:  selector,
		NumArgs:   argCount,
	}
}

// LiteralAt returns literal[i] (0-based), matching "literals as words 1..N"
// addressing conceptually while staying 0-indexed in Go.
func (m *CompiledMethod) LiteralAt(i int) (oop.Value, bool) {
	if i < 0 || i >= len(m.Literals) {
		return nil, false
	}
	return m.Literals[i], true
}

// HasPrimitive reports whether the header declares a primitive to try
// before activating a Smalltalk frame (spec §4.5 point 1).
func (m *CompiledMethod) HasPrimitive() bool { return m.Header.PrimitiveIndex() != 0 }

// FrameSize is the number of stack slots to reserve: args + temps, plus
// whatever extra the large-frame flag budgets for deep expression stacks.
func (m *CompiledMethod) FrameSize() int {
	base := m.Header.ArgCount() + m.Header.TempCount()
	if m.Header.LargeFrame() {
		return base + 32
	}
	return base + 12
}
