package exec

import "testing"

func resetSleepState() {
	sleepersLock.Acquire()
	sleepers = nil
	tickHooksRegistered = true // avoid registering against the real timer package in tests
	sleepersLock.Release()
}

func TestSleepMsSignalsAfterDeadline(t *testing.T) {
	resetSleepState()
	resetExecState()

	var now uint64 = 1000
	defer func() { uptimeFn = nil }()
	uptimeFn = func() uint64 { return now }

	woken := false
	Spawn(func(w *Waker) bool {
		if woken {
			return true
		}
		SleepMs(w, 50)
		return false
	})
	RunOnce()

	sweepSleepers(1040) // not yet due
	queueLock.Acquire()
	n := len(readyIDs)
	queueLock.Release()
	if n != 0 {
		t.Fatalf("expected sleeper to remain pending before deadline; queue has %d entries", n)
	}

	woken = true
	sweepSleepers(1050) // exactly at deadline
	if live := RunOnce(); live != 0 {
		t.Fatalf("expected task to complete once woken; got %d live", live)
	}
}

func TestSweepSleepersLeavesUnexpiredEntries(t *testing.T) {
	resetSleepState()
	resetExecState()

	defer func() { uptimeFn = nil }()
	uptimeFn = func() uint64 { return 0 }

	Spawn(func(w *Waker) bool {
		SleepMs(w, 1000)
		return false
	})
	RunOnce()

	sweepSleepers(10)

	sleepersLock.Acquire()
	remaining := len(sleepers)
	sleepersLock.Release()
	if remaining != 1 {
		t.Fatalf("expected the unexpired sleeper to remain tracked; got %d", remaining)
	}
}
