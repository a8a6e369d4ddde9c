package exec

import (
	"kestrel/kernel/sync"
	"kestrel/kernel/timer"
)

type sleeper struct {
	deadlineMs uint64
	waker      Waker
}

var (
	sleepersLock sync.Spinlock
	sleepers     []sleeper

	uptimeFn = timer.Uptime

	tickHooksRegistered bool
)

// SleepMs suspends the calling task until at least ms milliseconds have
// elapsed. Call from within a PollFunc: poll must return false after calling
// SleepMs, and the task resumes the next time it is polled once the timer
// tick sweep signals its waker.
func SleepMs(w *Waker, ms uint64) {
	ensureTickHook()

	sleepersLock.Acquire()
	sleepers = append(sleepers, sleeper{deadlineMs: uptimeFn() + ms, waker: *w})
	sleepersLock.Release()
}

func ensureTickHook() {
	sleepersLock.Acquire()
	if !tickHooksRegistered {
		tickHooksRegistered = true
		timer.RegisterTickHook(sweepSleepers)
	}
	sleepersLock.Release()
}

// sweepSleepers runs on every timer tick and signals the wakers of every
// sleeper whose deadline has passed.
func sweepSleepers(nowMs uint64) {
	sleepersLock.Acquire()
	remaining := sleepers[:0]
	var due []Waker
	for _, s := range sleepers {
		if nowMs >= s.deadlineMs {
			due = append(due, s.waker)
		} else {
			remaining = append(remaining, s)
		}
	}
	sleepers = remaining
	sleepersLock.Release()

	for _, w := range due {
		w.Signal()
	}
}
