// Package exec implements a single-threaded cooperative task executor. A
// task is a resumable continuation plus a waker; the executor drains ready
// tasks in FIFO order and halts the CPU when none are runnable.
package exec

import (
	"kestrel/kernel/cpu"
	"kestrel/kernel/sync"
)

// PollFunc resumes a task's continuation. It returns true once the task has
// completed, in which case the executor drops it. If it returns false the
// task has suspended; it is responsible for arranging for its Waker to be
// signalled once it should run again.
type PollFunc func(w *Waker) bool

// TaskID identifies a task handle returned by Spawn.
type TaskID uint32

type task struct {
	id    TaskID
	poll  PollFunc
	ready bool
}

var (
	queueLock sync.Spinlock
	readyIDs  []TaskID

	tasks  = map[TaskID]*task{}
	nextID TaskID

	haltFn = cpu.Halt
)

// Waker is a handle that, when signalled, marks the owning task ready and
// re-enqueues it if it was not already ready. Safe to signal from interrupt
// context; signalling an already-ready task is a no-op.
type Waker struct {
	id TaskID
}

// Signal marks the waker's task ready and enqueues it if it was not already
// ready.
func (w Waker) Signal() {
	queueLock.Acquire()
	t, ok := tasks[w.id]
	if ok && !t.ready {
		t.ready = true
		readyIDs = append(readyIDs, w.id)
	}
	queueLock.Release()
}

// Spawn creates a task wrapping poll, marks it ready and enqueues it for its
// first run.
func Spawn(poll PollFunc) TaskID {
	queueLock.Acquire()
	id := nextID
	nextID++
	tasks[id] = &task{id: id, poll: poll, ready: true}
	readyIDs = append(readyIDs, id)
	queueLock.Release()
	return id
}

// popReady removes and returns the next ready task ID, or ok=false if the
// queue is empty.
func popReady() (TaskID, bool) {
	queueLock.Acquire()
	defer queueLock.Release()
	if len(readyIDs) == 0 {
		return 0, false
	}
	id := readyIDs[0]
	readyIDs = readyIDs[1:]
	return id, true
}

// RunOnce drains every currently-ready task, resuming each one at most once,
// and returns the number of tasks that were still live (not completed)
// afterwards. Tasks made ready while this pass runs are executed on the next
// call, preserving FIFO ordering across passes.
func RunOnce() int {
	pending := len(readyIDs)
	for i := 0; i < pending; i++ {
		id, ok := popReady()
		if !ok {
			break
		}

		queueLock.Acquire()
		t, ok := tasks[id]
		if ok {
			t.ready = false
		}
		queueLock.Release()
		if !ok {
			continue
		}

		if t.poll(&Waker{id: id}) {
			queueLock.Acquire()
			delete(tasks, id)
			queueLock.Release()
		}
	}

	queueLock.Acquire()
	live := len(tasks)
	queueLock.Release()
	return live
}

// Run loops forever, draining ready tasks and halting the CPU between passes
// when the ready queue is empty. It returns only if every spawned task has
// completed and the queue stays empty (used by hosted tests; never returns
// on real hardware where drivers keep tasks alive).
func Run() {
	for {
		queueLock.Acquire()
		empty := len(readyIDs) == 0
		queueLock.Release()
		if empty {
			if len(tasks) == 0 {
				return
			}
			haltFn()
			continue
		}
		RunOnce()
	}
}
