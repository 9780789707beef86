// Package process implements the cooperative process scheduler of spec
// §4.7/§5: semaphores with a waiting-process list, a priority-ordered
// process set, and the interrupt-check tick that periodically signals the
// timer/low-space/user-interrupt semaphores.
//
// This is domain surface the teacher has no equivalent of at all (the
// teacher's VM runs one Go goroutine to completion with no Smalltalk-visible
// concurrency primitives); it is grounded on spec §4.7's semaphore/process
// contracts directly, identity assignment follows the `google/uuid` usage
// seen across the pack's manifests (several retrieved services stamp a UUID
// on every unit of dispatched work for tracing), and the priority-ordered
// runnable set is built on the standard library's container/heap, following
// the pack's general preference for stdlib containers over hand-rolled heaps
// when nothing in the retrieved dependency set specializes in scheduling.
package process

import (
	"container/heap"
	"errors"

	"github.com/google/uuid"

	"github.com/kristofer/stvm/pkg/context"
)

// ErrNoRunnableProcess is returned when the scheduler has nothing left to
// run, which the VM interprets as a clean shutdown of all processes.
var ErrNoRunnableProcess = errors.New("process: no runnable process")

// State is a process's scheduling state.
type State byte

const (
	StateRunnable State = iota
	StateWaiting
	StateSuspended
	StateTerminated
)

// Process is the fixed-slot object of spec §3: "suspended-context, priority,
// my-list (the semaphore it is waiting on or nil), next-link." ID is VM-
// internal bookkeeping (not part of the Smalltalk-visible object), used for
// diagnostics and the scheduler's internal heap ordering.
type Process struct {
	ID       uuid.UUID
	Priority int
	Context  context.Ref
	State    State
	MyList   *Semaphore // the semaphore this process is waiting on, or nil
}

// NewProcess creates a runnable process for ctx at the given priority.
func NewProcess(ctx context.Ref, priority int) *Process {
	return &Process{ID: uuid.New(), Priority: priority, Context: ctx, State: StateRunnable}
}

// Semaphore is the fixed-slot object of spec §4.7: "excess_signals,
// first_link, last_link". The waiting list is FIFO (first_link/last_link),
// matching Smalltalk's documented semaphore fairness.
type Semaphore struct {
	ExcessSignals int
	waiting       []*Process
}

// NewSemaphore creates a semaphore with zero excess signals.
func NewSemaphore() *Semaphore { return &Semaphore{} }

// Signal implements spec §4.7: "if any process is waiting, remove head and
// resume it; else increment excess signals." Returns the resumed process, if
// any, so the scheduler can make it runnable.
func (s *Semaphore) Signal() *Process {
	if len(s.waiting) > 0 {
		p := s.waiting[0]
		s.waiting = s.waiting[1:]
		p.MyList = nil
		p.State = StateRunnable
		return p
	}
	s.ExcessSignals++
	return nil
}

// Wait implements spec §4.7: "if excess signals > 0, decrement and continue;
// else suspend active process on the semaphore." ok is true when p may keep
// running immediately; false means p has been queued and the scheduler must
// pick a different runnable process.
func (s *Semaphore) Wait(p *Process) (ok bool) {
	if s.ExcessSignals > 0 {
		s.ExcessSignals--
		return true
	}
	p.State = StateWaiting
	p.MyList = s
	s.waiting = append(s.waiting, p)
	return false
}

// processHeap is a container/heap max-priority queue of runnable processes.
type processHeap []*Process

func (h processHeap) Len() int            { return len(h) }
func (h processHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h processHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *processHeap) Push(x interface{}) { *h = append(*h, x.(*Process)) }
func (h *processHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	*h = old[:n-1]
	return p
}

// Scheduler is the process-set object spec §3/§4.7 describe: it owns the
// active-process pointer and the runnable set, and raises process-switch
// control-flow events (spec §9: modeled as a sum type, not an exception)
// instead of directly mutating the interpreter's active context.
type Scheduler struct {
	runnable processHeap
	active   *Process
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.runnable)
	return s
}

// AddRunnable makes p eligible to run.
func (s *Scheduler) AddRunnable(p *Process) {
	p.State = StateRunnable
	heap.Push(&s.runnable, p)
}

// Active returns the currently active process, or nil if none.
func (s *Scheduler) Active() *Process { return s.active }

// Resume marks p runnable and immediately promotes it to active if it
// outranks the current active process, per cooperative-scheduling priority
// rules: a freshly-signaled higher-priority process preempts at the next
// bytecode boundary (spec §5: "a switch never interleaves within a
// bytecode's effects" -- so Resume only requests the switch; the
// interpreter acts on it via a context.Event{Kind: EventProcessSwitch}).
func (s *Scheduler) Resume(p *Process) {
	if s.active == nil {
		s.active = p
		p.State = StateRunnable
		return
	}
	if p.Priority > s.active.Priority {
		heap.Push(&s.runnable, s.active)
		s.active = p
		p.State = StateRunnable
		return
	}
	s.AddRunnable(p)
}

// SwitchToNextRunnable retires the current active process (if still
// runnable, it's pushed back onto the runnable set) and activates the
// highest-priority runnable process. Returns ErrNoRunnableProcess if the
// system has nothing left to run, per spec §8 scenario 5 ("the scheduler
// never livelocks": an empty runnable set is a terminal condition, not a
// spin).
func (s *Scheduler) SwitchToNextRunnable(retireActive bool) (*Process, error) {
	if retireActive && s.active != nil && s.active.State == StateRunnable {
		heap.Push(&s.runnable, s.active)
	}
	for s.runnable.Len() > 0 {
		p := heap.Pop(&s.runnable).(*Process)
		if p.State != StateTerminated {
			s.active = p
			return p, nil
		}
	}
	s.active = nil
	return nil, ErrNoRunnableProcess
}

// Terminate marks p terminated; it is never re-added to the runnable set,
// per spec §3: "processes span from creation to termination via suspend
// with no resume."
func (p *Process) Terminate() { p.State = StateTerminated }
