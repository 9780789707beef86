package process

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSemaphoreSignalWithNoWaiterIncrementsExcess(t *testing.T) {
	s := NewSemaphore()
	require.Nil(t, s.Signal())
	require.Equal(t, 1, s.ExcessSignals)
}

func TestSemaphoreWaitConsumesExcessSignal(t *testing.T) {
	s := NewSemaphore()
	s.Signal()
	p := NewProcess(0, 5)
	require.True(t, s.Wait(p))
	require.Equal(t, 0, s.ExcessSignals)
}

func TestSemaphoreWaitQueuesWhenNoExcess(t *testing.T) {
	s := NewSemaphore()
	p := NewProcess(0, 5)
	require.False(t, s.Wait(p))
	require.Equal(t, StateWaiting, p.State)
	require.Same(t, s, p.MyList)
}

func TestSemaphoreSignalResumesFIFOWaiter(t *testing.T) {
	s := NewSemaphore()
	p1 := NewProcess(0, 5)
	p2 := NewProcess(0, 5)
	s.Wait(p1)
	s.Wait(p2)

	resumed := s.Signal()
	require.Same(t, p1, resumed)
	require.Equal(t, StateRunnable, p1.State)
	require.Nil(t, p1.MyList)
}

func TestSchedulerSwitchPicksHighestPriority(t *testing.T) {
	sched := NewScheduler()
	low := NewProcess(0, 1)
	high := NewProcess(0, 10)
	sched.AddRunnable(low)
	sched.AddRunnable(high)

	next, err := sched.SwitchToNextRunnable(false)
	require.NoError(t, err)
	require.Same(t, high, next)
}

func TestSchedulerResumeHigherPriorityPreemptsActive(t *testing.T) {
	sched := NewScheduler()
	active := NewProcess(0, 3)
	sched.Resume(active)

	urgent := NewProcess(0, 9)
	sched.Resume(urgent)

	require.Same(t, urgent, sched.Active())
}

func TestSchedulerNoRunnableReturnsErr(t *testing.T) {
	sched := NewScheduler()
	_, err := sched.SwitchToNextRunnable(false)
	require.ErrorIs(t, err, ErrNoRunnableProcess)
}

// TestTwoSemaphoresNeverLivelock is spec §8 scenario 5: two semaphores, two
// processes; P1 waits on S1, P2 signals S1 then waits on S2; after an
// interrupt signals S2, both processes terminate and the scheduler has
// nothing left to run (no livelock).
func TestTwoSemaphoresNeverLivelock(t *testing.T) {
	s1, s2 := NewSemaphore(), NewSemaphore()
	sched := NewScheduler()

	p1 := NewProcess(0, 5)
	p2 := NewProcess(0, 5)
	sched.Resume(p1)

	require.False(t, s1.Wait(p1))
	next, err := sched.SwitchToNextRunnable(false)
	require.ErrorIs(t, err, ErrNoRunnableProcess)
	require.Nil(t, next)

	sched.Resume(p2)
	if resumed := s1.Signal(); resumed != nil {
		sched.Resume(resumed)
	}
	require.False(t, s2.Wait(p2))

	ic := NewInterruptCheck(1)
	ic.TimerSemaphore = s2
	ic.SignalAtMilliseconds(0)
	for _, woken := range ic.Tick(0) {
		sched.Resume(woken)
	}

	p1.Terminate()
	p2.Terminate()
	_, err = sched.SwitchToNextRunnable(false)
	require.ErrorIs(t, err, ErrNoRunnableProcess)
}

func TestInterruptCheckResetsWindowAndFiresTimer(t *testing.T) {
	s := NewSemaphore()
	p := NewProcess(0, 1)
	s.Wait(p)

	ic := NewInterruptCheck(2)
	ic.TimerSemaphore = s
	ic.SignalAtMilliseconds(100)

	require.Nil(t, ic.Tick(50)) // counter 2->1, not due yet
	woken := ic.Tick(150)       // counter 1->0, resets, fires
	require.Equal(t, []*Process{p}, woken)
}
