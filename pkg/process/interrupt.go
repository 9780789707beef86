package process

// InterruptCheck implements spec §4.7's per-bytecode counter: "a counter
// decrements per bytecode ... At ≤ 0 it resets to a configured window and
// runs: (a) timer semaphore signal if due, (b) low-space and user-interrupt
// semaphore signals when posted by the host."
type InterruptCheck struct {
	counter int
	window  int

	TimerSemaphore    *Semaphore
	LowSpaceSemaphore *Semaphore
	UserInterruptSema *Semaphore

	wakeAtMillis   int64
	hasWake        bool
	lowSpacePosted bool
	userIntPosted  bool
}

// NewInterruptCheck creates a counter with the given window.
func NewInterruptCheck(window int) *InterruptCheck {
	return &InterruptCheck{counter: window, window: window}
}

// SignalAtMilliseconds implements the `signalAtMilliseconds:` primitive
// contract: "sets a wake tick; on or after that tick the interrupt check
// signals the timer semaphore."
func (ic *InterruptCheck) SignalAtMilliseconds(tick int64) {
	ic.wakeAtMillis = tick
	ic.hasWake = true
}

// PostLowSpace and PostUserInterrupt let the host mark a pending signal to
// be delivered on the next interrupt-check window (spec §4.7 (b)).
func (ic *InterruptCheck) PostLowSpace()      { ic.lowSpacePosted = true }
func (ic *InterruptCheck) PostUserInterrupt() { ic.userIntPosted = true }

// Tick decrements the counter once (called on every bytecode that may
// back-branch, per spec §4.4 step 2 / §5: "A back-branch implies interrupt
// check; a forward jump does not"). When the counter reaches zero or below,
// it resets to window and fires due signals, returning the processes (if
// any) that became runnable as a result, for the scheduler to pick up.
func (ic *InterruptCheck) Tick(nowMillis int64) []*Process {
	ic.counter--
	if ic.counter > 0 {
		return nil
	}
	ic.counter = ic.window

	var woken []*Process
	if ic.hasWake && nowMillis >= ic.wakeAtMillis && ic.TimerSemaphore != nil {
		ic.hasWake = false
		if p := ic.TimerSemaphore.Signal(); p != nil {
			woken = append(woken, p)
		}
	}
	if ic.lowSpacePosted && ic.LowSpaceSemaphore != nil {
		ic.lowSpacePosted = false
		if p := ic.LowSpaceSemaphore.Signal(); p != nil {
			woken = append(woken, p)
		}
	}
	if ic.userIntPosted && ic.UserInterruptSema != nil {
		ic.userIntPosted = false
		if p := ic.UserInterruptSema.Signal(); p != nil {
			woken = append(woken, p)
		}
	}
	return woken
}
