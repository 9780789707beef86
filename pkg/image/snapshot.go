package image

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic and FormatVersion identify a heap-snapshot file, the same role the
// teacher's MagicNumber/FormatVersion play for a .sg bytecode file -- here
// re-purposed to a different 4-byte signature since this container's
// sections are classes-plus-root-method, not instructions-plus-constants.
const (
	Magic         uint32 = 0x53544D31 // "STM1"
	FormatVersion uint32 = 1
)

// LiteralKind tags one entry of a MethodSpec's literal frame. Only the
// literal shapes a bootstrap-scale kernel method actually needs are
// supported; an Association-valued literal variable (spec §6's "push
// literal variable" bytecode) is out of scope for a snapshot literal, since
// building one requires a live heap binding that only pkg/vm's loader can
// allocate.
type LiteralKind byte

const (
	LiteralNil LiteralKind = iota
	LiteralBool
	LiteralSmallInteger
	LiteralFloat
	LiteralString
	LiteralSymbol
)

// Literal is one entry of a MethodSpec's literal frame, deferred to a
// concrete oop.Value only once a Snapshot is loaded against a live heap
// (pkg/vm's loader interns LiteralSymbol/LiteralString entries and wraps
// the rest directly).
type Literal struct {
	Kind LiteralKind
	Bool bool
	Int  int64
	Flt  float64
	Str  string
}

// MethodSpec is one compiled method's declarative form: everything
// bytecode.NewCompiledMethod needs, plus the selector it installs under.
type MethodSpec struct {
	Selector       string
	ArgCount       int
	TempCount      int
	PrimitiveIndex int
	LargeFrame     bool
	Literals       []Literal
	Bytecodes      []byte
}

// ClassSpec is one class's declarative form: name, superclass name (empty
// for Object), fixed/variable shape, and its method dictionary.
type ClassSpec struct {
	Name       string
	Superclass string
	FixedSlots int
	TailKind   byte // mirrors class.TailKind's byte values without importing pkg/class here
	Methods    []MethodSpec
}

// Snapshot is the versioned binary container of spec §6.1: a class table
// plus a designator for the one compiled method to run first. It carries no
// live heap/class-registry state of its own -- pkg/vm's loader is
// responsible for turning a decoded Snapshot into heap objects, registered
// classes, and an initial process, starting from pkg/image.Bootstrap's
// kernel.
type Snapshot struct {
	Classes      []ClassSpec
	RootClass    string
	RootSelector string
}

// Writer serializes a Snapshot. pkg/image provides exactly one
// implementation (BinaryFormat); the interface exists so a caller needing a
// different container (e.g. a debug JSON dump) can substitute one without
// touching the loader.
type Writer interface {
	Write(s *Snapshot, w io.Writer) error
}

// Reader deserializes a Snapshot, the inverse of Writer.
type Reader interface {
	Read(r io.Reader) (*Snapshot, error)
}

// BinaryFormat implements Writer and Reader using the magic-number +
// version + length-prefixed-sections framing adapted from the teacher's
// pkg/bytecode/format.go.
type BinaryFormat struct{}

var (
	_ Writer = BinaryFormat{}
	_ Reader = BinaryFormat{}
)

func (BinaryFormat) Write(s *Snapshot, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return fmt.Errorf("image: write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return fmt.Errorf("image: write version: %w", err)
	}
	if err := writeString(w, s.RootClass); err != nil {
		return fmt.Errorf("image: write root class: %w", err)
	}
	if err := writeString(w, s.RootSelector); err != nil {
		return fmt.Errorf("image: write root selector: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.Classes))); err != nil {
		return fmt.Errorf("image: write class count: %w", err)
	}
	for i, c := range s.Classes {
		if err := writeClassSpec(w, c); err != nil {
			return fmt.Errorf("image: write class %d (%s): %w", i, c.Name, err)
		}
	}
	return nil
}

func (BinaryFormat) Read(r io.Reader) (*Snapshot, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("image: read magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("image: bad magic 0x%08X (expected 0x%08X)", magic, Magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("image: read version: %w", err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("image: unsupported snapshot version %d (expected %d)", version, FormatVersion)
	}
	rootClass, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("image: read root class: %w", err)
	}
	rootSelector, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("image: read root selector: %w", err)
	}
	var classCount uint32
	if err := binary.Read(r, binary.LittleEndian, &classCount); err != nil {
		return nil, fmt.Errorf("image: read class count: %w", err)
	}
	classes := make([]ClassSpec, classCount)
	for i := range classes {
		c, err := readClassSpec(r)
		if err != nil {
			return nil, fmt.Errorf("image: read class %d: %w", i, err)
		}
		classes[i] = c
	}
	return &Snapshot{Classes: classes, RootClass: rootClass, RootSelector: rootSelector}, nil
}

func writeClassSpec(w io.Writer, c ClassSpec) error {
	if err := writeString(w, c.Name); err != nil {
		return err
	}
	if err := writeString(w, c.Superclass); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(c.FixedSlots)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, c.TailKind); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(c.Methods))); err != nil {
		return err
	}
	for _, m := range c.Methods {
		if err := writeMethodSpec(w, m); err != nil {
			return err
		}
	}
	return nil
}

func readClassSpec(r io.Reader) (ClassSpec, error) {
	var c ClassSpec
	var err error
	if c.Name, err = readString(r); err != nil {
		return c, err
	}
	if c.Superclass, err = readString(r); err != nil {
		return c, err
	}
	var fixedSlots uint32
	if err = binary.Read(r, binary.LittleEndian, &fixedSlots); err != nil {
		return c, err
	}
	c.FixedSlots = int(fixedSlots)
	if err = binary.Read(r, binary.LittleEndian, &c.TailKind); err != nil {
		return c, err
	}
	var methodCount uint32
	if err = binary.Read(r, binary.LittleEndian, &methodCount); err != nil {
		return c, err
	}
	if methodCount > 0 {
		c.Methods = make([]MethodSpec, methodCount)
	}
	for i := range c.Methods {
		m, err := readMethodSpec(r)
		if err != nil {
			return c, err
		}
		c.Methods[i] = m
	}
	return c, nil
}

func writeMethodSpec(w io.Writer, m MethodSpec) error {
	if err := writeString(w, m.Selector); err != nil {
		return err
	}
	for _, n := range []int{m.ArgCount, m.TempCount, m.PrimitiveIndex} {
		if err := binary.Write(w, binary.LittleEndian, uint32(n)); err != nil {
			return err
		}
	}
	var largeFrame byte
	if m.LargeFrame {
		largeFrame = 1
	}
	if err := binary.Write(w, binary.LittleEndian, largeFrame); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Literals))); err != nil {
		return err
	}
	for _, lit := range m.Literals {
		if err := writeLiteral(w, lit); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Bytecodes))); err != nil {
		return err
	}
	_, err := w.Write(m.Bytecodes)
	return err
}

func readMethodSpec(r io.Reader) (MethodSpec, error) {
	var m MethodSpec
	var err error
	if m.Selector, err = readString(r); err != nil {
		return m, err
	}
	ints := make([]*int, 3)
	ints[0], ints[1], ints[2] = &m.ArgCount, &m.TempCount, &m.PrimitiveIndex
	for _, p := range ints {
		var n uint32
		if err = binary.Read(r, binary.LittleEndian, &n); err != nil {
			return m, err
		}
		*p = int(n)
	}
	var largeFrame byte
	if err = binary.Read(r, binary.LittleEndian, &largeFrame); err != nil {
		return m, err
	}
	m.LargeFrame = largeFrame != 0
	var litCount uint32
	if err = binary.Read(r, binary.LittleEndian, &litCount); err != nil {
		return m, err
	}
	m.Literals = make([]Literal, litCount)
	for i := range m.Literals {
		lit, err := readLiteral(r)
		if err != nil {
			return m, err
		}
		m.Literals[i] = lit
	}
	var codeLen uint32
	if err = binary.Read(r, binary.LittleEndian, &codeLen); err != nil {
		return m, err
	}
	m.Bytecodes = make([]byte, codeLen)
	if _, err = io.ReadFull(r, m.Bytecodes); err != nil {
		return m, err
	}
	return m, nil
}

func writeLiteral(w io.Writer, lit Literal) error {
	if err := binary.Write(w, binary.LittleEndian, byte(lit.Kind)); err != nil {
		return err
	}
	switch lit.Kind {
	case LiteralNil:
		return nil
	case LiteralBool:
		var b byte
		if lit.Bool {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case LiteralSmallInteger:
		return binary.Write(w, binary.LittleEndian, lit.Int)
	case LiteralFloat:
		return binary.Write(w, binary.LittleEndian, lit.Flt)
	case LiteralString, LiteralSymbol:
		return writeString(w, lit.Str)
	default:
		return fmt.Errorf("image: unknown literal kind %d", lit.Kind)
	}
}

func readLiteral(r io.Reader) (Literal, error) {
	var kindByte byte
	if err := binary.Read(r, binary.LittleEndian, &kindByte); err != nil {
		return Literal{}, err
	}
	lit := Literal{Kind: LiteralKind(kindByte)}
	switch lit.Kind {
	case LiteralNil:
		return lit, nil
	case LiteralBool:
		var b byte
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return lit, err
		}
		lit.Bool = b != 0
		return lit, nil
	case LiteralSmallInteger:
		if err := binary.Read(r, binary.LittleEndian, &lit.Int); err != nil {
			return lit, err
		}
		return lit, nil
	case LiteralFloat:
		if err := binary.Read(r, binary.LittleEndian, &lit.Flt); err != nil {
			return lit, err
		}
		return lit, nil
	case LiteralString, LiteralSymbol:
		s, err := readString(r)
		if err != nil {
			return lit, err
		}
		lit.Str = s
		return lit, nil
	default:
		return lit, fmt.Errorf("image: unknown literal kind %d", kindByte)
	}
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
