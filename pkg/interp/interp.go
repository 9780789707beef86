// Package interp implements the bytecode fetch/decode/execute loop of spec
// §4.4: one context is active at a time, each bytecode either mutates that
// context's stack in place or produces a control-flow event (send, return,
// process switch) that the loop acts on explicitly.
//
// Grounded on the teacher's pkg/vm.VM.run/execute (an ip-driven switch over
// a flat opcode enum, one case per instruction) generalized from the
// teacher's ~20-opcode custom stack machine to the full 256-entry
// Squeak/Smalltalk-80 opcode space of pkg/bytecode, and from the teacher's
// direct `return err` on any runtime problem to the sum-typed
// context.Event the rest of this module already settled on (spec §9
// Design Notes: "no host-language exceptions on the hot path").
package interp

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kristofer/stvm/pkg/bytecode"
	"github.com/kristofer/stvm/pkg/cache"
	"github.com/kristofer/stvm/pkg/context"
	"github.com/kristofer/stvm/pkg/oop"
	"github.com/kristofer/stvm/pkg/primitive"
	"github.com/kristofer/stvm/pkg/process"
)

// ErrNilActiveContext and ErrNoMethod are interpreter-loop faults distinct
// from ordinary Smalltalk-level failures (spec errors fail the *primitive*
// or *send*, these mean the VM's own bookkeeping is broken).
var (
	ErrNilActiveContext = errors.New("interp: active context is nil")
	ErrNoMethod         = errors.New("interp: context has no compiled method")
	ErrBadBytecode      = errors.New("interp: pc ran past the end of the bytecode array")
)

// ErrStackDepthExceeded is raised when MaxStackDepth sends are active at
// once without a return, the Go-native stand-in for spec §4.4 step 3's
// "stack overflow" condition (this model heap-allocates every context up
// front via pkg/context.Store, so there is no cheap/expensive tier to
// promote between; MaxStackDepth exists purely as the guard against runaway
// recursion a real image's low-space/no-stack-left checks would catch).
var ErrStackDepthExceeded = errors.New("interp: stack depth exceeded")

// DoesNotUnderstandError reports a failed method lookup (spec §4.2), kept
// as a typed error rather than a bare string so pkg/vm can classify it
// without string-matching.
type DoesNotUnderstandError struct {
	Receiver string
	Selector string
}

func (e *DoesNotUnderstandError) Error() string {
	return fmt.Sprintf("interp: %s does not understand #%s", e.Receiver, e.Selector)
}

// MustBeBooleanError reports a jump bytecode whose stack-top value was
// neither true nor false, the Go-native stand-in for the must-be-Boolean
// failure spec §6 describes for the ifTrue:/ifFalse: jump family.
type MustBeBooleanError struct {
	Receiver string
}

func (e *MustBeBooleanError) Error() string {
	return fmt.Sprintf("interp: %s sent to a non-Boolean receiver", e.Receiver)
}

// Interpreter drives one or more processes' contexts through the bytecode
// loop. It owns no state of its own beyond configuration -- the live state
// (heap, contexts, scheduler) all lives in Machine and is shared with
// pkg/primitive's Dispatch.
type Interpreter struct {
	Machine *primitive.Machine
	Cache   *cache.MethodCache
	Unwind  *context.Unwinder

	// MaxStackDepth bounds live (non-returned) send depth per process run,
	// per spec §4.4 step 3 and pkg/vmconfig's stack-depth-guard setting.
	// Zero means unbounded.
	MaxStackDepth int

	Log *zap.Logger
}

// New builds an Interpreter wired to m, using m.Contexts as the Unwinder's
// store.
func New(m *primitive.Machine, c *cache.MethodCache, log *zap.Logger) *Interpreter {
	return &Interpreter{
		Machine: m,
		Cache:   c,
		Unwind:  &context.Unwinder{Store: m.Contexts},
		Log:     log,
	}
}

// Run drives active's process to completion: executes bytecodes until the
// outermost context returns (home's sender is nil) or the scheduler reports
// no runnable process left, per spec §8 scenario 5. The returned Ref is the
// context active when the loop stopped (0 on a clean outermost return),
// letting a caller (pkg/vm) render a stack trace for a non-nil error.
func (in *Interpreter) Run(active context.Ref) (oop.Value, context.Ref, error) {
	if in.Unwind.RunCleanup == nil {
		in.Unwind.RunCleanup = in.runEnsureCleanup
	}
	for {
		r := in.step(active)
		switch r.kind {
		case stepContinue:
			// active unchanged, pc already advanced by step.
		case stepSwitch:
			active = r.next
		case stepDone:
			return r.value, 0, r.err
		case stepProcessSwitch:
			if r.next == 0 {
				return r.value, 0, r.err
			}
			active = r.next
		case stepError:
			return nil, active, r.err
		}
	}
}

// runEnsureCleanup activates an ensure:/ifCurtailed: marker context's
// cleanup block to completion, per spec §4.3 point 4. The marker's first
// argument (Stack[0]) holds the cleanup BlockClosure; its first temp is the
// still-nil slot isEnsureMarker checks. The block context is given no
// sender, so the nested Run ends when the block returns; running it to
// normal completion (not via ^) is all NonLocalReturn needs from it.
func (in *Interpreter) runEnsureCleanup(c *context.Context) error {
	if c.Method == nil || c.NumArgs == 0 {
		return nil
	}
	cleanupIdx := 0
	if cleanupIdx >= len(c.Stack) {
		return nil
	}
	closureRef, ok := c.Stack[cleanupIdx].(oop.Reference)
	if !ok {
		return nil
	}
	cr, ok := in.Machine.Closures[oop.Handle(closureRef)]
	if !ok {
		return nil
	}
	homeCtx := in.Machine.Contexts.Get(cr.Home)
	if homeCtx == nil || homeCtx.Method == nil {
		return nil
	}
	blockCtx := cr.Activate(homeCtx.Method, nil)
	blockCtx.Sender = 0
	ref := in.Machine.Contexts.New(blockCtx)
	_, err := in.Run(ref)
	return err
}

// stepKind is the outer loop's dispatch tag for what one step() call did.
type stepKind int

const (
	stepContinue stepKind = iota
	stepSwitch
	stepDone
	stepProcessSwitch
	stepError
)

type stepResult struct {
	kind  stepKind
	next  context.Ref
	value oop.Value
	err   error
}

func contResult() stepResult { return stepResult{kind: stepContinue} }
func switchResult(next context.Ref) stepResult {
	return stepResult{kind: stepSwitch, next: next}
}

// processSwitchResult reports a scheduler-driven switch to an
// already-live context (spec §4.7), distinct from switchResult because
// next == 0 here means "no runnable process left" (Run returns cleanly)
// rather than an invariant violation.
func processSwitchResult(next context.Ref) stepResult {
	return stepResult{kind: stepProcessSwitch, next: next}
}
func errResult(err error) stepResult { return stepResult{kind: stepError, err: err} }

// step executes exactly one bytecode of active's context and reports what
// the outer loop should do next.
func (in *Interpreter) step(active context.Ref) stepResult {
	ctx := in.Machine.Contexts.Get(active)
	if ctx == nil {
		return errResult(ErrNilActiveContext)
	}
	if ctx.Method == nil {
		return errResult(ErrNoMethod)
	}
	code := ctx.Method.Bytecodes
	if ctx.PC < 0 || ctx.PC >= len(code) {
		return errResult(ErrBadBytecode)
	}
	op := code[ctx.PC]
	info := bytecode.Info(op)

	if info.BackBranch && in.Machine.Interrupt != nil {
		in.Machine.Interrupt.Tick(in.nowMillis())
	}

	switch {
	case op < bytecode.StorePopReceiverVariableBase: // 0..95: pushes
		return in.stepPush(ctx, op)
	case op < bytecode.PushSpecialBase: // 96..111: store-pop
		return in.stepStorePop(ctx, op)
	case op < bytecode.ReturnBase: // 112..119: push special
		idx := op - bytecode.PushSpecialBase
		if idx == bytecode.SpecialSelf {
			in.push(ctx, ctx.Receiver)
		} else {
			in.push(ctx, specialValue(idx))
		}
		ctx.PC++
		return contResult()
	case op < bytecode.OpReserved126: // 120..125: returns
		return in.stepReturn(active, ctx, op)
	case op == bytecode.OpReserved126 || op == bytecode.OpReserved127:
		ctx.PC++
		return contResult()
	case op == bytecode.OpExtendedPush:
		return in.stepExtendedPush(ctx)
	case op == bytecode.OpExtendedStore:
		return in.stepExtendedStore(ctx, false)
	case op == bytecode.OpExtendedStorePop:
		return in.stepExtendedStore(ctx, true)
	case op == bytecode.OpSingleExtSend:
		return in.stepSingleExtSend(active, ctx)
	case op == bytecode.OpDoubleExtDoAnything:
		return in.stepDoubleExtDoAnything(active, ctx)
	case op == bytecode.OpSingleExtSuper:
		return in.stepSingleExtSuper(active, ctx)
	case op == bytecode.OpSecondExtSend:
		return in.stepSecondExtSend(active, ctx)
	case op == bytecode.OpPop:
		in.pop(ctx)
		ctx.PC++
		return contResult()
	case op == bytecode.OpDup:
		in.push(ctx, in.top(ctx))
		ctx.PC++
		return contResult()
	case op == bytecode.OpPushActiveContext:
		in.push(ctx, oop.NilValue) // thisContext: no Smalltalk-visible Context class wired yet
		ctx.PC++
		return contResult()
	case op == bytecode.OpReserved139:
		ctx.PC++
		return contResult()
	case op == bytecode.OpPushRemoteTemp:
		return in.stepPushRemoteTemp(ctx)
	case op == bytecode.OpStoreRemoteTemp:
		return in.stepStoreRemoteTemp(ctx, false)
	case op == bytecode.OpStorePopRemoteTemp:
		return in.stepStoreRemoteTemp(ctx, true)
	case op == bytecode.OpPushNewArray:
		return in.stepPushNewArray(ctx)
	case op == bytecode.OpPushClosure:
		return in.stepPushClosure(active, ctx)
	case op >= bytecode.ShortUnconditionalJumpBase && op < bytecode.ShortIfFalseBase:
		ctx.PC += 2 + int(op-bytecode.ShortUnconditionalJumpBase)
		return contResult()
	case op >= bytecode.ShortIfFalseBase && op < bytecode.LongUnconditionalJumpBase:
		return in.stepShortIfFalse(ctx, op)
	case op >= bytecode.LongUnconditionalJumpBase && op < bytecode.LongIfTrueBase:
		return in.stepLongUnconditional(ctx, op)
	case op >= bytecode.LongIfTrueBase && op < bytecode.LongIfFalseBase:
		return in.stepLongConditional(ctx, op, true)
	case op >= bytecode.LongIfFalseBase && op < bytecode.ArithmeticShortcutBase:
		return in.stepLongConditional(ctx, op, false)
	case op >= bytecode.ArithmeticShortcutBase && op < bytecode.SpecializedSendBase:
		return in.stepArithmeticShortcut(active, ctx, op)
	case op >= bytecode.SpecializedSendBase && op < bytecode.SendLiteralSelectorBase:
		return in.stepSpecializedSend(active, ctx, op)
	default: // 208..255: send literal selector
		return in.stepSendLiteralSelector(active, ctx, op)
	}
}

func (in *Interpreter) nowMillis() int64 {
	if in.Machine.NowMillis != nil {
		return in.Machine.NowMillis()
	}
	return in.Machine.StartMillis
}

// --- stack helpers -----------------------------------------------------

func (in *Interpreter) push(ctx *context.Context, v oop.Value) {
	if ctx.StackP < len(ctx.Stack) {
		ctx.Stack[ctx.StackP] = v
	} else {
		ctx.Stack = append(ctx.Stack, v)
	}
	ctx.StackP++
}

func (in *Interpreter) pop(ctx *context.Context) oop.Value {
	ctx.StackP--
	return ctx.Stack[ctx.StackP]
}

func (in *Interpreter) top(ctx *context.Context) oop.Value {
	return ctx.Stack[ctx.StackP-1]
}

// byteAt reads the bytecode byte at ctx.PC+offset, failing instead of
// panicking when a multi-byte instruction's operand bytes run past the end
// of the method (a malformed or truncated compiled method must fail the
// send, not crash the interpreter loop -- spec §9 "no host-language
// exceptions on the hot path" applies to decode errors as much as to
// control-flow ones).
func (in *Interpreter) byteAt(ctx *context.Context, offset int) (byte, bool) {
	i := ctx.PC + offset
	if i < 0 || i >= len(ctx.Method.Bytecodes) {
		return 0, false
	}
	return ctx.Method.Bytecodes[i], true
}

// specialValue maps a push-special index to its constant; SpecialSelf is
// handled by the caller directly since it needs the active context's
// Receiver, not a fixed constant.
func specialValue(i byte) oop.Value {
	switch i {
	case bytecode.SpecialTrue:
		return oop.True
	case bytecode.SpecialFalse:
		return oop.False
	case bytecode.SpecialNil:
		return oop.NilValue
	case bytecode.SpecialMinusOne:
		return oop.SmallInteger(-1)
	case bytecode.SpecialZero:
		return oop.SmallInteger(0)
	case bytecode.SpecialOne:
		return oop.SmallInteger(1)
	case bytecode.SpecialTwo:
		return oop.SmallInteger(2)
	}
	return oop.NilValue
}

// --- push/store-pop over the 0..111 fixed ranges ------------------------

func (in *Interpreter) stepPush(ctx *context.Context, op byte) stepResult {
	switch {
	case op < bytecode.PushTemporaryBase: // 0..15: receiver variable
		idx := int(op - bytecode.PushReceiverVariableBase)
		v, err := in.receiverField(ctx, idx)
		if err != nil {
			return errResult(err)
		}
		in.push(ctx, v)
	case op < bytecode.PushLiteralConstantBase: // 16..31: temporary
		idx := int(op - bytecode.PushTemporaryBase)
		in.push(ctx, in.temp(ctx, idx))
	case op < bytecode.PushLiteralVariableBase: // 32..63: literal constant
		idx := int(op - bytecode.PushLiteralConstantBase)
		lit, _ := ctx.Method.LiteralAt(idx)
		in.push(ctx, lit)
	default: // 64..95: literal variable (Association-valued binding)
		idx := int(op - bytecode.PushLiteralVariableBase)
		v, err := in.literalVariableValue(ctx, idx)
		if err != nil {
			return errResult(err)
		}
		in.push(ctx, v)
	}
	ctx.PC++
	return contResult()
}

func (in *Interpreter) stepStorePop(ctx *context.Context, op byte) stepResult {
	v := in.pop(ctx)
	if op < bytecode.StorePopTemporaryBase { // 96..103: receiver variable
		idx := int(op - bytecode.StorePopReceiverVariableBase)
		if err := in.storeReceiverField(ctx, idx, v); err != nil {
			return errResult(err)
		}
	} else { // 104..111: temporary
		idx := int(op - bytecode.StorePopTemporaryBase)
		in.storeTemp(ctx, idx, v)
	}
	ctx.PC++
	return contResult()
}

func (in *Interpreter) temp(ctx *context.Context, idx int) oop.Value {
	if idx < 0 || idx >= len(ctx.Stack) {
		return oop.NilValue
	}
	return ctx.Stack[idx]
}

func (in *Interpreter) storeTemp(ctx *context.Context, idx int, v oop.Value) {
	if idx < 0 {
		return
	}
	for idx >= len(ctx.Stack) {
		ctx.Stack = append(ctx.Stack, oop.NilValue)
	}
	ctx.Stack[idx] = v
}

func (in *Interpreter) receiverField(ctx *context.Context, idx int) (oop.Value, error) {
	ref, ok := ctx.Receiver.(oop.Reference)
	if !ok {
		return nil, fmt.Errorf("interp: receiver variable access on non-reference receiver")
	}
	return in.Machine.Heap.Fetch(oop.Handle(ref), idx)
}

func (in *Interpreter) storeReceiverField(ctx *context.Context, idx int, v oop.Value) error {
	ref, ok := ctx.Receiver.(oop.Reference)
	if !ok {
		return fmt.Errorf("interp: receiver variable store on non-reference receiver")
	}
	return in.Machine.Heap.StorePointer(oop.Handle(ref), idx, v)
}

// literalVariableValue reads a push-literal-variable binding: the literal
// at idx is a Reference to a 2-slot Association-shaped object
// {key, value}; the value slot (index 1) is what gets pushed, per spec §6.
func (in *Interpreter) literalVariableValue(ctx *context.Context, idx int) (oop.Value, error) {
	lit, ok := ctx.Method.LiteralAt(idx)
	if !ok {
		return nil, fmt.Errorf("interp: literal variable index out of range")
	}
	ref, ok := lit.(oop.Reference)
	if !ok {
		return nil, fmt.Errorf("interp: literal variable literal is not an association reference")
	}
	return in.Machine.Heap.Fetch(oop.Handle(ref), 1)
}

func (in *Interpreter) storeLiteralVariableValue(ctx *context.Context, idx int, v oop.Value) error {
	lit, ok := ctx.Method.LiteralAt(idx)
	if !ok {
		return fmt.Errorf("interp: literal variable index out of range")
	}
	ref, ok := lit.(oop.Reference)
	if !ok {
		return fmt.Errorf("interp: literal variable literal is not an association reference")
	}
	return in.Machine.Heap.StorePointer(oop.Handle(ref), 1, v)
}

// --- returns (120..125) --------------------------------------------------

func (in *Interpreter) stepReturn(active context.Ref, ctx *context.Context, op byte) stepResult {
	kind := op - bytecode.ReturnBase
	var value oop.Value
	switch kind {
	case bytecode.ReturnReceiver:
		value = ctx.Receiver
	case bytecode.ReturnTrue:
		value = oop.True
	case bytecode.ReturnFalse:
		value = oop.False
	case bytecode.ReturnNil:
		value = oop.NilValue
	case bytecode.ReturnTopFromMethod:
		value = in.pop(ctx)
	case bytecode.ReturnTopFromBlock:
		value = in.pop(ctx)
	}

	var ev context.Event
	if kind == bytecode.ReturnTopFromBlock {
		ev = in.Unwind.LocalReturn(active, value)
	} else {
		// Targets the home context's sender; for a method context Home is
		// itself so this degenerates to the same local return, and for a
		// block context it performs the full non-local unwind (spec §4.3
		// points 1-4).
		ev = in.Unwind.NonLocalReturn(active, ctx.Home, value)
	}
	return in.applyReturnEvent(ev)
}

func (in *Interpreter) applyReturnEvent(ev context.Event) stepResult {
	if ev.Kind != context.EventReturn {
		return errResult(fmt.Errorf("interp: unwinder produced unexpected event kind %v", ev.Kind))
	}
	if ev.Err != nil {
		return stepResult{kind: stepError, err: ev.Err}
	}
	if ev.New == 0 {
		return stepResult{kind: stepDone, value: ev.Value}
	}
	sender := in.Machine.Contexts.Get(ev.New)
	if sender == nil {
		return errResult(fmt.Errorf("interp: return target context is gone"))
	}
	in.push(sender, ev.Value)
	return switchResult(ev.New)
}

// --- extended push/store (128..130) --------------------------------------

// decodeExtended splits the single descriptor byte used by extended push/
// store into its {kind, index} pair, per spec §6's "two-bit kind selector,
// six-bit index" extended-bytecode encoding.
func decodeExtended(b byte) (kind, idx int) {
	return int(b >> 6), int(b & 0x3F)
}

func (in *Interpreter) stepExtendedPush(ctx *context.Context) stepResult {
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	kind, idx := decodeExtended(b)
	var err error
	switch kind {
	case 0:
		var v oop.Value
		v, err = in.receiverField(ctx, idx)
		if err == nil {
			in.push(ctx, v)
		}
	case 1:
		in.push(ctx, in.temp(ctx, idx))
	case 2:
		lit, _ := ctx.Method.LiteralAt(idx)
		in.push(ctx, lit)
	case 3:
		var v oop.Value
		v, err = in.literalVariableValue(ctx, idx)
		if err == nil {
			in.push(ctx, v)
		}
	}
	if err != nil {
		return errResult(err)
	}
	ctx.PC += 2
	return contResult()
}

func (in *Interpreter) stepExtendedStore(ctx *context.Context, popAfter bool) stepResult {
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	kind, idx := decodeExtended(b)
	v := in.top(ctx)
	var err error
	switch kind {
	case 0:
		err = in.storeReceiverField(ctx, idx, v)
	case 1:
		in.storeTemp(ctx, idx, v)
	case 2:
		err = fmt.Errorf("interp: cannot store into a literal constant")
	case 3:
		err = in.storeLiteralVariableValue(ctx, idx, v)
	}
	if err != nil {
		return errResult(err)
	}
	if popAfter {
		in.pop(ctx)
	}
	ctx.PC += 2
	return contResult()
}

// --- remote temp vectors (140..142) ---------------------------------------
//
// These bytecodes index through an indirection vector (an Array literal
// holding a block's captured outer temps) rather than the active context's
// own Stack; spec §6 groups them with extended push/store. This VM has no
// support for indirection vectors for shared mutable temps, so these three
// opcodes fail closed rather than silently misbehave.

func (in *Interpreter) stepPushRemoteTemp(ctx *context.Context) stepResult {
	ctx.PC += 3
	return errResult(fmt.Errorf("interp: pushRemoteTemp: indirection vectors not supported"))
}

func (in *Interpreter) stepStoreRemoteTemp(ctx *context.Context, popAfter bool) stepResult {
	ctx.PC += 3
	return errResult(fmt.Errorf("interp: storeRemoteTemp: indirection vectors not supported"))
}

// --- push new array (138) -------------------------------------------------

func (in *Interpreter) stepPushNewArray(ctx *context.Context) stepResult {
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	popElements := b&0x80 != 0
	size := int(b & 0x7F)

	var elems []oop.Value
	if popElements {
		elems = make([]oop.Value, size)
		for i := size - 1; i >= 0; i-- {
			elems[i] = in.pop(ctx)
		}
	} else {
		elems = make([]oop.Value, size)
		for i := range elems {
			elems[i] = oop.NilValue
		}
	}
	handle := in.Machine.Heap.Allocate(in.Machine.ArrayClass, oop.FormatVariablePointers, 0, size)
	for i, v := range elems {
		_ = in.Machine.Heap.AtPut(handle, i+1, v)
	}
	in.push(ctx, oop.Reference(handle))
	ctx.PC += 2
	return contResult()
}

// --- push closure (143) ----------------------------------------------------

// stepPushClosure decodes the {numArgs, numCopied, blockSize} descriptor
// (spec §6), copies numCopied values off the stack into the closure
// record, allocates a BlockClosure instance, registers the closure record
// under it in Machine.Closures, and skips over the block's own bytecode
// body (which is only ever entered via a later `value`-family send).
func (in *Interpreter) stepPushClosure(active context.Ref, ctx *context.Context) stepResult {
	b1, ok1 := in.byteAt(ctx, 1)
	b2, ok2 := in.byteAt(ctx, 2)
	b3, ok3 := in.byteAt(ctx, 3)
	if !ok1 || !ok2 || !ok3 {
		return errResult(ErrBadBytecode)
	}
	numArgs := int(b1)
	numCopied := int(b2)
	blockSize := int(b3)

	copied := make([]oop.Value, numCopied)
	for i := numCopied - 1; i >= 0; i-- {
		copied[i] = in.pop(ctx)
	}

	startPC := ctx.PC + 4
	cr := &context.ClosureRecord{
		Outer:    active,
		Home:     ctx.Home,
		StartPC:  startPC,
		NumArgs:  numArgs,
		NumTemps: 0,
		Copied:   copied,
	}

	handle := in.Machine.Heap.Allocate(in.Machine.BlockClosureClass, oop.FormatPointers, 0, 0)
	in.Machine.Closures[handle] = cr
	in.push(ctx, oop.Reference(handle))
	ctx.PC = startPC + blockSize
	return contResult()
}

// --- jumps (144..175) -------------------------------------------------------

func (in *Interpreter) stepShortIfFalse(ctx *context.Context, op byte) stepResult {
	offset := int(op - bytecode.ShortIfFalseBase)
	v := in.pop(ctx)
	ctx.PC += 1
	if oop.IsBoolean(v, false) {
		ctx.PC += offset
		return contResult()
	}
	if !oop.IsBoolean(v, true) {
		return errResult(&MustBeBooleanError{Receiver: "ifFalse:"})
	}
	return contResult()
}

func (in *Interpreter) stepLongUnconditional(ctx *context.Context, op byte) stepResult {
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	lo := int(b)
	high := int(op - bytecode.LongUnconditionalJumpBase)
	// 11-bit signed offset, bias 1024, the only jump family that can
	// back-branch (spec §6); forward-only ifTrue:/ifFalse: jumps below
	// need no bias since they never target an earlier pc.
	offset := (high << 8) + lo - 1024
	ctx.PC += 2 + offset
	return contResult()
}

func (in *Interpreter) stepLongConditional(ctx *context.Context, op byte, wantTrue bool) stepResult {
	var base byte
	if wantTrue {
		base = bytecode.LongIfTrueBase
	} else {
		base = bytecode.LongIfFalseBase
	}
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	lo := int(b)
	high := int(op - base)
	offset := (high << 8) + lo
	v := in.pop(ctx)
	ctx.PC += 2
	match := oop.IsBoolean(v, wantTrue)
	other := oop.IsBoolean(v, !wantTrue)
	if !match && !other {
		return errResult(&MustBeBooleanError{Receiver: "ifTrue:/ifFalse:"})
	}
	if match {
		ctx.PC += offset
	}
	return contResult()
}

// --- arithmetic shortcuts (176..191) and specialized sends (192..207) -----

// arithmeticPrimitiveIndex maps an arithmetic-shortcut selector to its
// corresponding pkg/primitive table index (1..16), per the two tables'
// shared ordering (spec §6).
var arithmeticPrimitiveIndex = [16]int{
	primitive.PrimAdd, primitive.PrimSubtract, primitive.PrimLessThan, primitive.PrimGreaterThan,
	primitive.PrimLessOrEqual, primitive.PrimGreaterOrEq, primitive.PrimEqual, primitive.PrimNotEqual,
	primitive.PrimMultiply, primitive.PrimDivide, primitive.PrimMod, 0, // 12: @ (Point) has no fast small-int primitive
	primitive.PrimBitShift, primitive.PrimIntegerDiv, primitive.PrimBitAnd, primitive.PrimBitOr,
}

func (in *Interpreter) stepArithmeticShortcut(active context.Ref, ctx *context.Context, op byte) stepResult {
	selIdx := int(op - bytecode.ArithmeticShortcutBase)
	selector := bytecode.ArithmeticShortcutSelectors[selIdx]
	primIdx := arithmeticPrimitiveIndex[selIdx]

	arg := in.pop(ctx)
	recv := in.pop(ctx)

	if primIdx != 0 {
		out := primitive.Dispatch(in.Machine, primIdx, primitive.Call{Receiver: recv, Args: []oop.Value{arg}, Active: ctx, ActiveRef: active})
		if !out.Failed {
			in.push(ctx, out.Value)
			ctx.PC++
			return contResult()
		}
	}
	return in.genericSend(active, ctx, recv, selector, []oop.Value{arg}, 1)
}

func (in *Interpreter) stepSpecializedSend(active context.Ref, ctx *context.Context, op byte) stepResult {
	selIdx := int(op - bytecode.SpecializedSendBase)
	selector := bytecode.SpecializedSendSelectors[selIdx]

	switch selector {
	case "==":
		arg := in.pop(ctx)
		recv := in.pop(ctx)
		if identical(recv, arg) {
			in.push(ctx, oop.True)
		} else {
			in.push(ctx, oop.False)
		}
		ctx.PC++
		return contResult()
	case "class":
		recv := in.pop(ctx)
		in.push(ctx, oop.Reference(in.Machine.ClassOf(recv)))
		ctx.PC++
		return contResult()
	default:
		return in.stepSendN(active, ctx, selector, specializedArgCount(selector), false)
	}
}

func specializedArgCount(selector string) int {
	switch selector {
	case "size", "next", "atEnd", "value", "class", "x", "y":
		return 0
	case "at:put:":
		return 2
	default:
		return 1
	}
}

func identical(a, b oop.Value) bool {
	ar, aok := a.(oop.Reference)
	br, bok := b.(oop.Reference)
	if aok && bok {
		return ar == br
	}
	ai, aok2 := a.(oop.SmallInteger)
	bi, bok2 := b.(oop.SmallInteger)
	if aok2 && bok2 {
		return ai == bi
	}
	return false
}

// --- send literal selector (208..255) --------------------------------------

func (in *Interpreter) stepSendLiteralSelector(active context.Ref, ctx *context.Context, op byte) stepResult {
	offset := int(op - bytecode.SendLiteralSelectorBase)
	numArgs := offset >> 5
	litIdx := offset & 0x1F
	return in.sendFromLiteral(active, ctx, litIdx, numArgs, false)
}

func (in *Interpreter) stepSingleExtSend(active context.Ref, ctx *context.Context) stepResult {
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	numArgs := int(b >> 5)
	litIdx := int(b & 0x1F)
	ctx.PC += 1 // sendFromLiteral advances the remaining PC increment itself
	return in.sendFromLiteral(active, ctx, litIdx, numArgs, false)
}

func (in *Interpreter) stepSingleExtSuper(active context.Ref, ctx *context.Context) stepResult {
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	numArgs := int(b >> 5)
	litIdx := int(b & 0x1F)
	ctx.PC += 1
	return in.sendFromLiteral(active, ctx, litIdx, numArgs, true)
}

func (in *Interpreter) stepSecondExtSend(active context.Ref, ctx *context.Context) stepResult {
	b, ok := in.byteAt(ctx, 1)
	if !ok {
		return errResult(ErrBadBytecode)
	}
	numArgs := int(b & 0x1F)
	litIdx := int(b >> 5)
	ctx.PC += 1
	return in.sendFromLiteral(active, ctx, litIdx, numArgs, false)
}

// stepDoubleExtDoAnything (132) multiplexes six sub-operations over its two
// descriptor bytes, per spec §6 ("double-extended do-anything: the
// second-extended-send / super-send / push-receiver-field-by-byte-index /
// store-field-by-byte-index family for field indices beyond 63"). Only the
// send and super-send sub-opcodes are implemented; the remaining
// byte-indexed field variants fail explicitly rather than silently
// misreading the operand.
func (in *Interpreter) stepDoubleExtDoAnything(active context.Ref, ctx *context.Context) stepResult {
	opType, ok1 := in.byteAt(ctx, 1)
	operandB, ok2 := in.byteAt(ctx, 2)
	if !ok1 || !ok2 {
		return errResult(ErrBadBytecode)
	}
	operand := int(operandB)
	ctx.PC += 2
	switch opType {
	case 0, 1: // send / super-send, numArgs in low bits of a following literal... simplified to zero-argument sends
		litIdx := operand
		return in.sendFromLiteral(active, ctx, litIdx, 0, opType == 1)
	default:
		return errResult(fmt.Errorf("interp: doubleExtendedDoAnything sub-opcode %d not supported", opType))
	}
}

// sendFromLiteral reads numArgs off the stack, the receiver below them, and
// the selector Symbol at ctx.Method's litIdx literal, then performs the
// send (ordinary or super). It always leaves ctx.PC pointing at the next
// instruction on a ResultPush/primitive-inline outcome; a ResultNewFrame
// outcome instead switches the active context, which the caller surfaces
// via stepResult.
func (in *Interpreter) sendFromLiteral(active context.Ref, ctx *context.Context, litIdx, numArgs int, super bool) stepResult {
	lit, ok := ctx.Method.LiteralAt(litIdx)
	if !ok {
		return errResult(fmt.Errorf("interp: send literal selector index out of range"))
	}
	selRef, ok := lit.(oop.Reference)
	if !ok {
		return errResult(fmt.Errorf("interp: send literal is not a selector Symbol"))
	}
	selector, ok := in.Machine.SymbolText(selRef)
	if !ok {
		return errResult(fmt.Errorf("interp: send literal Symbol has no interned text"))
	}
	return in.stepSendNSuper(active, ctx, selector, numArgs, super)
}

func (in *Interpreter) stepSendN(active context.Ref, ctx *context.Context, selector string, numArgs int, super bool) stepResult {
	return in.stepSendNSuper(active, ctx, selector, numArgs, super)
}

func (in *Interpreter) stepSendNSuper(active context.Ref, ctx *context.Context, selector string, numArgs int, super bool) stepResult {
	args := make([]oop.Value, numArgs)
	for i := numArgs - 1; i >= 0; i-- {
		args[i] = in.pop(ctx)
	}
	recv := in.pop(ctx)
	ctx.PC++

	if super {
		return in.superSend(active, ctx, recv, selector, args)
	}
	return in.genericSend(active, ctx, recv, selector, args, numArgs)
}

// --- send dispatch -----------------------------------------------------

// genericSend implements spec §4.4's ordinary-send path: cache probe,
// hierarchy walk on miss, primitive attempt, Smalltalk-body activation on
// primitive failure or absence, doesNotUnderstand: fallback on lookup
// failure.
func (in *Interpreter) genericSend(active context.Ref, ctx *context.Context, recv oop.Value, selector string, args []oop.Value, numArgs int) stepResult {
	classRef := in.Machine.ClassOf(recv)
	return in.dispatchSend(active, ctx, classRef, recv, selector, args)
}

// superSend implements spec §4.2's super-send contract: lookup starts at
// the *compiled-in* class's superclass, not the receiver's own class.
func (in *Interpreter) superSend(active context.Ref, ctx *context.Context, recv oop.Value, selector string, args []oop.Value) stepResult {
	compiledIn := in.compiledInClass(ctx)
	method, definedOn, err := in.Machine.Classes.SuperLookup(compiledIn, selector)
	if err != nil {
		return in.doesNotUnderstand(active, ctx, recv, selector, args)
	}
	return in.activateOrDispatch(active, ctx, recv, args, method, definedOn)
}

// compiledInClass recovers the class a context's method was compiled into.
// This VM's CompiledMethod does not itself carry that back-reference (spec
// §3 only requires header/literals/bytecodes), so it walks up from the
// receiver's class to the first class whose method dictionary holds
// ctx.Method; if none does, it falls back to the receiver's own class.
func (in *Interpreter) compiledInClass(ctx *context.Context) oop.ClassRef {
	recvClass := in.Machine.ClassOf(ctx.Receiver)
	if ctx.Method == nil {
		return recvClass
	}
	for ref := recvClass; ref != 0; {
		c := in.Machine.Classes.Get(ref)
		if c == nil {
			break
		}
		if c.Methods[ctx.Method.Selector] == ctx.Method {
			return ref
		}
		ref = c.Superclass
	}
	return recvClass
}

// dispatchSend implements spec §4.2's cache-then-hierarchy-walk lookup: a
// cache hit skips straight to activation; a miss walks the hierarchy and
// populates the cache with the result before activating (spec: "any send
// with a cache hit is observationally equal to a full hierarchy walk").
func (in *Interpreter) dispatchSend(active context.Ref, ctx *context.Context, classRef oop.ClassRef, recv oop.Value, selector string, args []oop.Value) stepResult {
	if method, definedOn, ok := in.Cache.Lookup(classRef, selector); ok {
		return in.activateOrDispatch(active, ctx, recv, args, method, definedOn)
	}
	method, definedOn, err := in.Machine.Classes.Lookup(classRef, selector)
	if err != nil {
		return in.doesNotUnderstand(active, ctx, recv, selector, args)
	}
	in.Cache.Store(classRef, selector, method, definedOn)
	return in.activateOrDispatch(active, ctx, recv, args, method, definedOn)
}

// activateOrDispatch runs method's declared primitive, if any (spec §4.5
// point 1: "tried before the method's Smalltalk body"); on primitive
// success it pushes/consumes the result in place without leaving the
// current bytecode loop; on primitive absence or failure it builds a fresh
// method-activation Context for method's Smalltalk body and switches the
// interpreter's active context to it.
func (in *Interpreter) activateOrDispatch(active context.Ref, ctx *context.Context, recv oop.Value, args []oop.Value, method *bytecode.CompiledMethod, definedOn oop.ClassRef) stepResult {
	if method.HasPrimitive() {
		out := primitive.Dispatch(in.Machine, method.Header.PrimitiveIndex(), primitive.Call{
			Receiver: recv, Args: args, Active: ctx, ActiveRef: active, Method: method,
		})
		if !out.Failed {
			switch out.Result {
			case primitive.ResultPush:
				in.push(ctx, out.Value)
				return contResult()
			case primitive.ResultNone:
				return contResult()
			case primitive.ResultNewFrame:
				return in.activateNewContext(active, out.Next)
			case primitive.ResultSwitchProcess:
				return processSwitchResult(out.NextRef)
			}
		}
		// Primitive declared but failed: spec §4.5's "stack restored to the
		// pre-send state, Smalltalk body runs as a normal send" -- args and
		// receiver were never popped off ctx's stack by Dispatch (it only
		// read the copies genericSend already took off the stack via
		// stepSendNSuper), so activation below proceeds unchanged.
	}

	if len(method.Bytecodes) == 0 {
		return errResult(fmt.Errorf("interp: method %q on class %d has no primitive and no bytecode body", selectorOrUnknown(method), definedOn))
	}

	stack := make([]oop.Value, 0, method.FrameSize())
	stack = append(stack, args...)
	for len(stack) < method.Header.ArgCount()+method.Header.TempCount() {
		stack = append(stack, oop.NilValue)
	}
	newCtx := &context.Context{
		Kind:     context.KindMethod,
		Sender:   active,
		Method:   method,
		Receiver: recv,
		Stack:    stack,
		StackP:   len(stack),
		NumArgs:  method.NumArgs,
	}
	return in.activateNewContext(active, newCtx)
}

func selectorOrUnknown(m *bytecode.CompiledMethod) string {
	if m.Selector != "" {
		return m.Selector
	}
	return "?"
}

// activateNewContext registers newCtx in the context store and switches
// the interpreter's active context to it, enforcing MaxStackDepth (spec
// §4.4 step 3) by walking the sender chain newCtx was just linked into.
func (in *Interpreter) activateNewContext(from context.Ref, newCtx *context.Context) stepResult {
	if in.MaxStackDepth > 0 && in.senderDepth(from)+1 >= in.MaxStackDepth {
		if in.Log != nil {
			in.Log.Error("stack depth exceeded", zap.Int("maxStackDepth", in.MaxStackDepth))
		}
		return errResult(ErrStackDepthExceeded)
	}
	ref := in.Machine.Contexts.New(newCtx)
	return switchResult(ref)
}

// senderDepth counts how many live contexts lie between ref and the root
// of its sender chain, used only by the stack-depth guard -- this is
// O(depth) per send, acceptable for a guard that exists purely to catch
// runaway recursion rather than to run on every bytecode.
func (in *Interpreter) senderDepth(ref context.Ref) int {
	depth := 0
	for ref != 0 {
		c := in.Machine.Contexts.Get(ref)
		if c == nil {
			break
		}
		depth++
		ref = c.Sender
	}
	return depth
}

// doesNotUnderstand implements spec §4.2's lookup-failure contract: rather
// than crash the VM, the interpreter fails the whole process with a
// descriptive error. A full image would instead send #doesNotUnderstand: to
// the receiver so Smalltalk code can intercept it (spec §4.2's
// supplemented behavior); that requires a bootstrapped Message/
// DoesNotUnderstand class pair pkg/image's minimal kernel does not build,
// so this VM surfaces the failure directly instead of silently swallowing
// it.
func (in *Interpreter) doesNotUnderstand(active context.Ref, ctx *context.Context, recv oop.Value, selector string, args []oop.Value) stepResult {
	if in.Log != nil {
		in.Log.Warn("does not understand",
			zap.String("receiver", describeReceiver(in.Machine, recv)),
			zap.String("selector", selector),
		)
	}
	return errResult(&DoesNotUnderstandError{Receiver: describeReceiver(in.Machine, recv), Selector: selector})
}

func describeReceiver(m *primitive.Machine, v oop.Value) string {
	switch val := v.(type) {
	case oop.SmallInteger:
		return val.String()
	case oop.Reference:
		return fmt.Sprintf("an instance of class %d", m.ClassOf(val))
	default:
		return "a value"
	}
}

// --- process switching --------------------------------------------------

// SwitchIfRequested lets the scheduler preempt the active process at the
// next bytecode boundary (spec §5: "a switch never interleaves within a
// bytecode's effects"). It answers the scheduler's active process's context.
// No code in this module calls it: pkg/vm calls Interpreter.Run once, and
// Run itself moves to the new active context when a primitive reports a
// process switch. It is not called from inside step, since a
// mid-instruction interrupt-check tick only *requests* a switch via the
// semaphore machinery and the active bytecode must still finish normally.
func (in *Interpreter) SwitchIfRequested(sched *process.Scheduler) (context.Ref, bool) {
	active := sched.Active()
	if active == nil {
		return 0, false
	}
	return active.Context, true
}
