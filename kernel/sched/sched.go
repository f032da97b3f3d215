// Package sched implements a per-CPU round-robin scheduler: a FIFO ready
// queue, timer-driven preemption at a fixed quantum, and pending-kill
// cancellation so a task targeted by Kill is reaped the next time it would
// otherwise be dispatched rather than immediately (avoiding the need to
// interrupt a task that may currently be holding a lock).
package sched

import (
	"github.com/petitstrawberry/scarlet/kernel/sync"
	"github.com/petitstrawberry/scarlet/kernel/task"
)

// DefaultQuantum is the number of timer ticks a task runs for before being
// preempted in favor of the next ready task.
const DefaultQuantum = 10

var (
	lock        sync.Spinlock
	ready       []*task.Task
	current     *task.Task
	remaining   int
	pendingKill = map[uint64]bool{}
)

func init() {
	task.SetEnqueueFunc(Enqueue)
}

// Enqueue marks t Ready and appends it to the back of the run queue.
func Enqueue(t *task.Task) {
	lock.Acquire()
	t.State = task.Ready
	ready = append(ready, t)
	lock.Release()
}

// Current returns the task currently assigned to this CPU, or nil if it is
// idle.
func Current() *task.Task {
	lock.Acquire()
	defer lock.Release()
	return current
}

// Block transitions t to the Blocked state. The caller is responsible for
// having already released every lock it held beyond the one implicitly
// dropped here, per the suspension-point contract: callers must not hold a
// kernel-object or VM-manager lock when calling Block.
func Block(t *task.Task) {
	lock.Acquire()
	t.State = task.Blocked
	lock.Release()

	if t == current {
		Reschedule()
	}
}

// Wake transitions t from Blocked back to Ready and appends it to the run
// queue.
func Wake(t *task.Task) {
	lock.Acquire()
	t.State = task.Ready
	ready = append(ready, t)
	lock.Release()
}

// Kill marks id for termination. If id is currently running or ready, it is
// allowed to finish its pending quantum (or suspension) and is reaped the
// next time the scheduler would otherwise dispatch it, rather than being
// torn down from underneath whatever lock it might be holding.
func Kill(id uint64) {
	lock.Acquire()
	pendingKill[id] = true
	lock.Release()
}

// Tick is invoked by the timer interrupt once per scheduling tick. It
// decrements the running task's remaining quantum and triggers a
// reschedule once it reaches zero.
func Tick() {
	lock.Acquire()
	if current == nil {
		lock.Release()
		return
	}
	remaining--
	expired := remaining <= 0
	lock.Release()

	if expired {
		Reschedule()
	}
}

// Reschedule re-queues the currently running task (if still Running) and
// dispatches the next eligible task from the ready queue, reaping any task
// found to have a pending kill instead of running it.
func Reschedule() {
	lock.Acquire()
	if current != nil && current.State == task.Running {
		current.State = task.Ready
		ready = append(ready, current)
	}
	current = nil

	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]

		if pendingKill[next.ID] {
			delete(pendingKill, next.ID)
			lock.Release()
			task.Exit(next, -1)
			lock.Acquire()
			continue
		}

		next.State = task.Running
		current = next
		remaining = DefaultQuantum
		break
	}
	lock.Release()
}

// ReadyLen reports the number of tasks currently waiting in the ready
// queue. Used by scheduler-fairness tests.
func ReadyLen() int {
	lock.Acquire()
	defer lock.Release()
	return len(ready)
}
