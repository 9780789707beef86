package primitive

import (
	"github.com/kristofer/stvm/pkg/oop"
	"github.com/kristofer/stvm/pkg/process"
)

// Primitives 85..89: semaphore signal/wait and the method-cache flush, per
// spec §6 "80..89 control/block/semaphore" and §4.7. Grounded directly on
// original_source/spyvm/primitives.py's SIGNAL=85/WAIT=86/RESUME=87/
// SUSPEND=88/FLUSH_CACHE=89 constants. RESUME and SUSPEND are left
// unregistered: both require an existing suspended Process (one built by a
// fork/newProcess primitive this minimal kernel does not bootstrap), so a
// lookup against them fails exactly the way spec §6 describes for any
// unimplemented table slot.
const (
	PrimSignal     = 85
	PrimWait       = 86
	PrimFlushCache = 89
)

// semaphoreFor resolves receiver's backing *process.Semaphore, creating one
// on first use -- the Smalltalk-level `Semaphore new` only allocates the
// nominal heap object (spec's fixed-slot Semaphore shape); the actual
// excess-signals/waiting-list state is this Go struct, per pkg/process's
// package doc comment.
func semaphoreFor(m *Machine, receiver oop.Value) (*process.Semaphore, bool) {
	ref, ok := receiver.(oop.Reference)
	if !ok {
		return nil, false
	}
	handle := oop.Handle(ref)
	if s, ok := m.Semaphores[handle]; ok {
		return s, true
	}
	s := process.NewSemaphore()
	m.Semaphores[handle] = s
	return s, true
}

// signal implements spec §4.7: "if any process is waiting, remove head and
// resume it; else increment excess signals." If resuming unblocks a
// higher-priority process than the one currently running signal, that is
// itself a process-switch event (spec §5: "raised... by the semaphore
// wrappers").
func signal(m *Machine, c Call) Outcome {
	sema, ok := semaphoreFor(m, c.Receiver)
	if !ok {
		return Failed()
	}
	before := m.Scheduler.Active()
	if resumed := sema.Signal(); resumed != nil {
		m.Scheduler.Resume(resumed)
	}
	after := m.Scheduler.Active()
	if after != nil && after != before {
		return Outcome{Result: ResultSwitchProcess, NextRef: after.Context}
	}
	return Pushed(c.Receiver)
}

// wait implements spec §4.7: "if excess signals > 0, decrement and
// continue; else suspend active process on the semaphore and pick the
// highest-priority runnable process." The suspending process's own context
// is left exactly where it is (its pc already flushed, per spec §4.4's
// virtualized-context contract) -- only the scheduler's active pointer
// moves.
func wait(m *Machine, c Call) Outcome {
	sema, ok := semaphoreFor(m, c.Receiver)
	if !ok {
		return Failed()
	}
	active := m.Scheduler.Active()
	if active == nil {
		return Failed()
	}
	if ok := sema.Wait(active); ok {
		return Pushed(c.Receiver)
	}
	next, err := m.Scheduler.SwitchToNextRunnable(false)
	if err != nil {
		// No runnable process left: a clean stop, per spec §8 scenario 5's
		// "the scheduler never livelocks" -- an empty runnable set ends
		// the run rather than spinning.
		return Outcome{Result: ResultSwitchProcess, NextRef: 0}
	}
	return Outcome{Result: ResultSwitchProcess, NextRef: next.Context}
}

// flushCache implements FLUSH_CACHE (89): spec §4.2's coarse cache
// invalidation escape hatch, exposed to Smalltalk code via this primitive
// the same way original_source/spyvm exposes it on a class receiver.
func flushCache(m *Machine, c Call) Outcome {
	if _, ok := c.Receiver.(oop.Reference); !ok {
		return Failed()
	}
	m.Cache.InvalidateAll()
	return Pushed(c.Receiver)
}

func init() {
	Register(&Primitive{Index: PrimSignal, Name: "signal", Result: ResultSwitchProcess, Fn: signal})
	Register(&Primitive{Index: PrimWait, Name: "wait", Result: ResultSwitchProcess, Fn: wait})
	Register(&Primitive{Index: PrimFlushCache, Name: "flushCache", Result: ResultPush, Fn: flushCache})
}
