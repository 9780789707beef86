package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kristofer/stvm/pkg/context"
	"github.com/kristofer/stvm/pkg/interp"
)

// StackFrame is one rendered entry of a RuntimeError's trace: a context's
// selector and pc at the moment its sender chain was walked. Kept as a
// plain value rather than a *context.Context reference since the context
// may already be freed by the time the error reaches a caller.
type StackFrame struct {
	Selector string
	Kind     context.Kind
	PC       int
}

// ErrorKind classifies a RuntimeError so a caller (the CLI, a test) can
// branch on failure category without string-matching Message.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindDoesNotUnderstand
	KindMustBeBoolean
	KindBlockCannotReturn
	KindStackOverflow
	KindNoRunnableProcess
)

// RuntimeError wraps an interpreter-loop failure with the sender chain
// active when it occurred, generalized from the teacher's
// StackFrame/RuntimeError pair (a flat stack of frames pushed/popped by
// hand around a single Go call stack) to this VM's handle-addressed
// context.Store: the trace is captured by walking Sender links once, at
// the point Run gives up, rather than maintained incrementally on every
// call.
type RuntimeError struct {
	Kind       ErrorKind
	Message    string
	StackTrace []StackFrame
	cause      error
}

// Error formats the message with a stack trace, outermost frame first.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nStack trace:")
		for i := len(e.StackTrace) - 1; i >= 0; i-- {
			f := e.StackTrace[i]
			kind := "method"
			if f.Kind == context.KindBlock {
				kind = "block"
			}
			sel := f.Selector
			if sel == "" {
				sel = "?"
			}
			b.WriteString(fmt.Sprintf("\n  at %s #%s [pc %d]", kind, sel, f.PC))
		}
	}
	return b.String()
}

// Unwrap exposes the underlying interp/context error so errors.Is/As
// against their sentinel types still works through a RuntimeError.
func (e *RuntimeError) Unwrap() error { return e.cause }

// wrapRuntimeError classifies err against pkg/interp and pkg/context's
// typed/sentinel errors and attaches a trace walked from failed's sender
// chain. err == nil returns nil.
func wrapRuntimeError(contexts *context.Store, failed context.Ref, err error) error {
	if err == nil {
		return nil
	}

	kind := KindInternal
	var dnu *interp.DoesNotUnderstandError
	var mbb *interp.MustBeBooleanError
	switch {
	case errors.As(err, &dnu):
		kind = KindDoesNotUnderstand
	case errors.As(err, &mbb):
		kind = KindMustBeBoolean
	case errors.Is(err, context.ErrBlockCannotReturn):
		kind = KindBlockCannotReturn
	case errors.Is(err, interp.ErrStackDepthExceeded):
		kind = KindStackOverflow
	}

	return &RuntimeError{
		Kind:       kind,
		Message:    err.Error(),
		StackTrace: captureTrace(contexts, failed),
		cause:      err,
	}
}

// captureTrace walks failed's sender chain to the root, rendering each
// live context as a StackFrame.
func captureTrace(contexts *context.Store, from context.Ref) []StackFrame {
	var frames []StackFrame
	for ref := from; ref != 0; {
		c := contexts.Get(ref)
		if c == nil {
			break
		}
		selector := ""
		if c.Method != nil {
			selector = c.Method.Selector
		}
		frames = append(frames, StackFrame{Selector: selector, Kind: c.Kind, PC: c.PC})
		ref = c.Sender
	}
	return frames
}
