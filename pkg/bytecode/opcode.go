// Package bytecode defines the bytecode format, the compiled-method header
// layout, and the 256-entry opcode table the interpreter dispatches over.
//
// This generalizes the teacher's bytecode package (originally a 20-member
// opcode enum for a small custom stack machine) to the full Squeak/Smalltalk-80
// instruction set described in spec §6, while keeping the teacher's
// table-plus-String()-method idiom for opcode naming and documentation.
package bytecode

// Opcode is a single bytecode instruction's operation, a byte 0..255.
type Opcode = byte

// Opcode space, spec §6. Most entries are "base" opcodes of a contiguous
// range; Info(op) returns an OpcodeInfo whose ExtraBytes, IsJump and
// BackBranch fields give the per-opcode shape the interpreter loop needs
// without a 256-way switch at decode time.
const (
	PushReceiverVariableBase Opcode = 0  // 0..15
	PushTemporaryBase        Opcode = 16 // 16..31
	PushLiteralConstantBase  Opcode = 32 // 32..63
	PushLiteralVariableBase  Opcode = 64 // 64..95

	StorePopReceiverVariableBase Opcode = 96  // 96..103
	StorePopTemporaryBase        Opcode = 104 // 104..111

	PushSpecialBase Opcode = 112 // 112..119: self,true,false,nil,-1,0,1,2
	ReturnBase      Opcode = 120 // 120..125

	OpReserved126 Opcode = 126
	OpReserved127 Opcode = 127

	OpExtendedPush        Opcode = 128
	OpExtendedStore       Opcode = 129
	OpExtendedStorePop    Opcode = 130
	OpSingleExtSend       Opcode = 131
	OpDoubleExtDoAnything Opcode = 132
	OpSingleExtSuper      Opcode = 133
	OpSecondExtSend       Opcode = 134
	OpPop                 Opcode = 135
	OpDup                 Opcode = 136
	OpPushActiveContext   Opcode = 137
	OpPushNewArray        Opcode = 138
	OpReserved139         Opcode = 139
	OpPushRemoteTemp      Opcode = 140
	OpStoreRemoteTemp     Opcode = 141
	OpStorePopRemoteTemp  Opcode = 142
	OpPushClosure         Opcode = 143

	ShortUnconditionalJumpBase Opcode = 144 // 144..151
	ShortIfFalseBase           Opcode = 152 // 152..159
	LongUnconditionalJumpBase  Opcode = 160 // 160..167
	LongIfTrueBase             Opcode = 168 // 168..171
	LongIfFalseBase            Opcode = 172 // 172..175

	ArithmeticShortcutBase  Opcode = 176 // 176..191
	SpecializedSendBase     Opcode = 192 // 192..207
	SendLiteralSelectorBase Opcode = 208 // 208..255
)

// PushSpecial indices within 112..119.
const (
	SpecialSelf Opcode = iota
	SpecialTrue
	SpecialFalse
	SpecialNil
	SpecialMinusOne
	SpecialZero
	SpecialOne
	SpecialTwo
)

// Return kinds within 120..125.
const (
	ReturnReceiver Opcode = iota
	ReturnTrue
	ReturnFalse
	ReturnNil
	ReturnTopFromMethod
	ReturnTopFromBlock
)

// ArithmeticShortcut selectors, in bytecode order starting at 176, per
// spec §6. Each has a fast tagged-integer/float path in the interpreter
// and a full-send fallback on type mismatch or overflow (spec §4.4).
var ArithmeticShortcutSelectors = [16]string{
	"+", "-", "<", ">", "<=", ">=", "=", "~=",
	"*", "/", "\\\\", "@", "bitShift:", "//", "bitAnd:", "bitOr:",
}

// SpecializedSend selectors, in bytecode order starting at 192, per spec
// §6. These never fall back to a shortcut the way arithmetic does; they
// are simply sends to whatever method lookup finds, with a quick path for
// a couple of receiver shapes the interpreter special-cases (spec §4.4:
// "Quick primitive bytecodes: ==, class (no fallback)").
var SpecializedSendSelectors = [16]string{
	"at:", "at:put:", "size", "next", "nextPut:", "atEnd",
	"==", "class", "blockCopy:", "value", "value:", "do:",
	"new", "new:", "x", "y",
}

// OpcodeInfo describes the fixed shape of an opcode: how many parameter
// bytes follow it, and whether it can back-branch (and therefore must
// trigger the interrupt-check decrement of spec §4.4 step 2).
type OpcodeInfo struct {
	ExtraBytes int
	IsJump     bool
	BackBranch bool // true only for opcodes whose jump target can decrease pc
}

// decodeTable is built once at package init from the ranges in spec §6; it
// replaces a 256-way switch with a single table lookup, matching the
// teacher's "table-driven dispatch" framing in pkg/bytecode/bytecode.go's
// doc comment ("The decoder is a table-driven dispatch whose entries
// encode both [parameter bytes and jump/non-jump]" per spec §4.4).
var decodeTable [256]OpcodeInfo

func init() {
	for op := 0; op < 256; op++ {
		decodeTable[op] = classify(Opcode(op))
	}
}

func classify(op Opcode) OpcodeInfo {
	switch {
	case op < 96: // push receiver-var/temp/literal-const/literal-var
		return OpcodeInfo{ExtraBytes: 0}
	case op < 112: // store-pop receiver-var/temp
		return OpcodeInfo{ExtraBytes: 0}
	case op < 120: // push special
		return OpcodeInfo{ExtraBytes: 0}
	case op < 126: // returns
		return OpcodeInfo{ExtraBytes: 0}
	case op == 126 || op == 127:
		return OpcodeInfo{ExtraBytes: 0}
	case op == OpExtendedPush, op == OpExtendedStore, op == OpExtendedStorePop,
		op == OpSingleExtSend, op == OpSingleExtSuper, op == OpSecondExtSend,
		op == OpPushNewArray:
		return OpcodeInfo{ExtraBytes: 1}
	case op == OpDoubleExtDoAnything:
		return OpcodeInfo{ExtraBytes: 2}
	case op == OpPop, op == OpDup, op == OpPushActiveContext, op == OpReserved139:
		return OpcodeInfo{ExtraBytes: 0}
	case op == OpPushRemoteTemp, op == OpStoreRemoteTemp, op == OpStorePopRemoteTemp:
		return OpcodeInfo{ExtraBytes: 2}
	case op == OpPushClosure:
		return OpcodeInfo{ExtraBytes: 3, IsJump: true}
	case op >= 144 && op < 152: // short unconditional
		return OpcodeInfo{ExtraBytes: 0, IsJump: true}
	case op >= 152 && op < 160: // short if-false
		return OpcodeInfo{ExtraBytes: 0, IsJump: true}
	case op >= 160 && op < 168: // long unconditional, may back-branch
		return OpcodeInfo{ExtraBytes: 1, IsJump: true, BackBranch: true}
	case op >= 168 && op < 176: // long if-true / if-false, forward only
		return OpcodeInfo{ExtraBytes: 1, IsJump: true}
	case op >= 176 && op < 192: // arithmetic/comparison shortcuts
		return OpcodeInfo{ExtraBytes: 0}
	case op >= 192 && op < 208: // specialized sends
		return OpcodeInfo{ExtraBytes: 0}
	default: // 208..255: send literal selector
		return OpcodeInfo{ExtraBytes: 0}
	}
}

// Info returns the decode shape for an opcode.
func Info(op Opcode) OpcodeInfo { return decodeTable[op] }

// Mnemonic returns a human-readable name, used by the disassembler
// (cmd/smog disassemble) and by debugger output, mirroring the teacher's
// Opcode.String() convention in pkg/bytecode/bytecode.go.
func Mnemonic(op Opcode) string {
	switch {
	case op < 16:
		return "pushReceiverVariable"
	case op < 32:
		return "pushTemporary"
	case op < 64:
		return "pushLiteralConstant"
	case op < 96:
		return "pushLiteralVariable"
	case op < 104:
		return "storePopReceiverVariable"
	case op < 112:
		return "storePopTemporary"
	case op < 120:
		return [8]string{"pushSelf", "pushTrue", "pushFalse", "pushNil",
			"pushMinusOne", "pushZero", "pushOne", "pushTwo"}[op-112]
	case op < 126:
		return [6]string{"returnReceiver", "returnTrue", "returnFalse",
			"returnNil", "returnTopFromMethod", "returnTopFromBlock"}[op-120]
	case op == 126 || op == 127:
		return "reserved"
	case op == OpExtendedPush:
		return "extendedPush"
	case op == OpExtendedStore:
		return "extendedStore"
	case op == OpExtendedStorePop:
		return "extendedStorePop"
	case op == OpSingleExtSend:
		return "singleExtendedSend"
	case op == OpDoubleExtDoAnything:
		return "doubleExtendedDoAnything"
	case op == OpSingleExtSuper:
		return "singleExtendedSuper"
	case op == OpSecondExtSend:
		return "secondExtendedSend"
	case op == OpPop:
		return "pop"
	case op == OpDup:
		return "dup"
	case op == OpPushActiveContext:
		return "pushActiveContext"
	case op == OpPushNewArray:
		return "pushNewArray"
	case op == OpReserved139:
		return "reserved"
	case op == OpPushRemoteTemp:
		return "pushRemoteTemp"
	case op == OpStoreRemoteTemp:
		return "storeRemoteTemp"
	case op == OpStorePopRemoteTemp:
		return "storePopRemoteTemp"
	case op == OpPushClosure:
		return "pushClosure"
	case op >= 144 && op < 152:
		return "shortUnconditionalJump"
	case op >= 152 && op < 160:
		return "shortJumpIfFalse"
	case op >= 160 && op < 168:
		return "longUnconditionalJump"
	case op >= 168 && op < 172:
		return "longJumpIfTrue"
	case op >= 172 && op < 176:
		return "longJumpIfFalse"
	case op >= 176 && op < 192:
		return "send:" + ArithmeticShortcutSelectors[op-176]
	case op >= 192 && op < 208:
		return "send:" + SpecializedSendSelectors[op-192]
	default:
		return "sendLiteralSelector"
	}
}
