package bytecode

import (
	"testing"

	"github.com/kristofer/stvm/pkg/oop"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := MakeHeader(5, 60, true, 3, 2)
	if h.LiteralCount() != 5 {
		t.Errorf("LiteralCount() = %d, want 5", h.LiteralCount())
	}
	if h.PrimitiveIndex() != 60 {
		t.Errorf("PrimitiveIndex() = %d, want 60", h.PrimitiveIndex())
	}
	if !h.LargeFrame() {
		t.Errorf("LargeFrame() = false, want true")
	}
	if h.TempCount() != 3 {
		t.Errorf("TempCount() = %d, want 3", h.TempCount())
	}
	if h.ArgCount() != 2 {
		t.Errorf("ArgCount() = %d, want 2", h.ArgCount())
	}
}

func TestHeaderSignBitAlwaysZero(t *testing.T) {
	h := MakeHeader(511, 127, true, 31, 15)
	if uint32(h)&1 != 0 {
		t.Errorf("header sign bit set: %#x", uint32(h))
	}
}

func TestNewCompiledMethodDerivesLiteralCount(t *testing.T) {
	literals := []oop.Value{oop.SmallInteger(1), oop.SmallInteger(2), oop.SmallInteger(3)}
	m := NewCompiledMethod("foo:bar:", 2, 1, 0, literals, nil, false)
	if m.Header.LiteralCount() != len(literals) {
		t.Errorf("header literal count = %d, want %d", m.Header.LiteralCount(), len(literals))
	}
	if m.HasPrimitive() {
		t.Errorf("primitive index 0 should report HasPrimitive() == false")
	}
}

func TestOpcodeInfoRanges(t *testing.T) {
	if Info(0).ExtraBytes != 0 {
		t.Errorf("push receiver var should have 0 extra bytes")
	}
	if !Info(OpPushClosure).IsJump || Info(OpPushClosure).ExtraBytes != 3 {
		t.Errorf("pushClosure should be a 3-byte jump opcode")
	}
	if !Info(160).BackBranch {
		t.Errorf("long unconditional jump should be flagged as a possible back-branch")
	}
	if Info(144).BackBranch {
		t.Errorf("short unconditional jump must not be flagged as a back-branch source of truth here (offset is always forward)")
	}
}

func TestMnemonicCoversShortcutRanges(t *testing.T) {
	if Mnemonic(176) != "send:+" {
		t.Errorf("Mnemonic(176) = %q, want send:+", Mnemonic(176))
	}
	if Mnemonic(192) != "send:at:" {
		t.Errorf("Mnemonic(192) = %q, want send:at:", Mnemonic(192))
	}
}
