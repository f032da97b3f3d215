// Package trap defines the Trapframe that is handed to every ABI module and
// to the kernel's own fault/interrupt dispatch code.
//
// A Trapframe is a thin, typed view over the raw register snapshot that the
// low-level entry stub (kernel/gate) pushes to the top of a task's kernel
// stack. It never owns storage of its own; it always points at the gate
// registers that the CPU (or the entry stub, for software-raised causes)
// filled in.
package trap

import "github.com/petitstrawberry/scarlet/kernel/gate"

// Cause identifies why Dispatch was invoked for a given Trapframe.
type Cause uint8

const (
	// CauseSyscall indicates that user code executed a system call
	// instruction. Info holds the ABI-defined syscall number.
	CauseSyscall Cause = iota

	// CausePageFault indicates a page-translation or protection fault.
	CausePageFault

	// CauseGeneralProtectionFault indicates a general protection fault.
	CauseGeneralProtectionFault

	// CauseTimerTick indicates that the scheduling timer fired.
	CauseTimerTick

	// CauseExternalInterrupt indicates a device-raised hardware interrupt.
	CauseExternalInterrupt
)

// Trapframe is the register snapshot passed to ABI syscall handlers and to
// the high-level fault/interrupt dispatcher. Argument and return-value
// accessors follow the native scarlet ABI's register convention (also used,
// for convenience, as the default foreign-ABI argument layout unless a
// foreign AbiModule remaps them): the syscall/exception number travels in
// Info, and up to six arguments travel in RDI, RSI, RDX, R10, R8 and R9.
type Trapframe struct {
	*gate.Registers
}

// NewTrapframe wraps a raw register snapshot produced by the entry stub.
func NewTrapframe(regs *gate.Registers) *Trapframe {
	return &Trapframe{Registers: regs}
}

// Number returns the syscall number (for CauseSyscall) or the
// exception/IRQ number (for every other cause).
func (tf *Trapframe) Number() uint64 { return tf.Info }

// Arg returns the i-th (0-based) syscall argument. Only indices 0 through 5
// are defined; any other index returns 0.
func (tf *Trapframe) Arg(i int) uint64 {
	switch i {
	case 0:
		return tf.RDI
	case 1:
		return tf.RSI
	case 2:
		return tf.RDX
	case 3:
		return tf.R10
	case 4:
		return tf.R8
	case 5:
		return tf.R9
	default:
		return 0
	}
}

// SetReturnValue stores the syscall return value (or negative/encoded error,
// per the active AbiModule's convention) back into the trapframe so it is
// restored into the user register file on return.
func (tf *Trapframe) SetReturnValue(v uint64) { tf.RAX = v }

// PC returns the instruction pointer that will be resumed when this
// trapframe is restored.
func (tf *Trapframe) PC() uint64 { return tf.RIP }

// SetPC overrides the instruction pointer that will be resumed when this
// trapframe is restored. Used by the executor to point a task at the entry
// point of a freshly loaded image.
func (tf *Trapframe) SetPC(pc uint64) { tf.RIP = pc }

// SP returns the stack pointer that will be resumed when this trapframe is
// restored.
func (tf *Trapframe) SP() uint64 { return tf.RSP }

// SetSP overrides the stack pointer that will be resumed when this trapframe
// is restored.
func (tf *Trapframe) SetSP(sp uint64) { tf.RSP = sp }

// Clone returns a deep copy of the trapframe's register contents. Used by
// clone_task to give a child task its own independent register image.
func (tf *Trapframe) Clone() *Trapframe {
	regsCopy := *tf.Registers
	return &Trapframe{Registers: &regsCopy}
}
