// Package task implements the task record, its lifecycle operations and the
// clone/exit/wait family of calls. A Task is the kernel's unit of
// scheduling: it owns an address space, a handle table, an ABI binding, and
// the saved register state needed to resume it after a trap.
package task

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/abi"
	"github.com/petitstrawberry/scarlet/kernel/handle"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
	"github.com/petitstrawberry/scarlet/kernel/sync"
	"github.com/petitstrawberry/scarlet/kernel/trap"
)

// State is one of the four states a Task can be in.
type State uint8

const (
	// Ready tasks are runnable but not currently assigned to a CPU.
	Ready State = iota

	// Running tasks are currently assigned to and executing on a CPU.
	Running

	// Blocked tasks are suspended at an IPC or wait suspension point and
	// are not eligible for scheduling until woken.
	Blocked

	// Zombie tasks have exited but have not yet been reaped by wait().
	Zombie
)

// InitPID is the id new orphans are reparented to when their original
// parent exits or is never waited on.
const InitPID = 1

// KernelContext holds the callee-saved register state needed to resume a
// task's kernel-mode execution across a cooperative context switch
// performed by switch_to. It is distinct from Trapframe, which captures
// the interrupted user-mode register file; KernelContext is only ever
// touched by the scheduler.
type KernelContext struct {
	RSP, RBP                uint64
	RBX, R12, R13, R14, R15 uint64
}

// VCPU is the hardware-facing portion of a task: the trapframe most
// recently taken on entry to the kernel, plus the kernel-mode context
// needed to resume the task's own kernel stack after a voluntary yield.
type VCPU struct {
	Trapframe *trap.Trapframe
	Context   KernelContext
}

// Task is the kernel's schedulable unit.
type Task struct {
	ID       uint64
	ParentID uint64
	Name     string
	State    State
	ExitCode int32

	VCPU    VCPU
	Space   *vmm.AddressSpace
	Handles *handle.Table
	Abi     abi.Module

	Children []uint64

	// Brk is the current top of the task's heap region, adjusted by the
	// brk/sbrk-equivalent syscall of whichever ABI is active.
	Brk uintptr

	// ImageSize is the total number of bytes mapped for the task's
	// program image (text+data+bss), set by execute_binary.
	ImageSize uintptr

	// KernelStackFrames are the physical frames backing this task's
	// kernel-mode stack; they are not part of Space's MemoryMap since the
	// kernel stack is mapped through the shared higher-half kernel
	// mapping rather than the task's own address space.
	KernelStackFrames []uintptr
}

var (
	tableLock sync.Spinlock
	table     = map[uint64]*Task{}
	nextID    uint64 = InitPID

	// ErrNoSuchChild is returned by Wait when parentID has no child with
	// the given id, whether because it never existed or it already
	// belonged to a different parent.
	ErrNoSuchChild = &kernel.Error{Module: "task", Message: "no such child"}

	// ErrChildNotExited is returned by Wait when the requested child
	// exists but has not yet reached the Zombie state.
	ErrChildNotExited = &kernel.Error{Module: "task", Message: "child has not exited"}
)

func allocID() uint64 {
	tableLock.Acquire()
	defer tableLock.Release()
	id := nextID
	nextID++
	return id
}

func register(t *Task) {
	tableLock.Acquire()
	defer tableLock.Release()
	table[t.ID] = t
}

// Lookup returns the task with the given id, if it is still registered
// (i.e. has not been reaped).
func Lookup(id uint64) (*Task, bool) {
	tableLock.Acquire()
	defer tableLock.Release()
	t, ok := table[id]
	return t, ok
}

func newTask(name string, parentID uint64, mod abi.Module) (*Task, *kernel.Error) {
	space, err := vmm.AllocateAddressSpace()
	if err != nil {
		return nil, err
	}

	t := &Task{
		ID:       allocID(),
		ParentID: parentID,
		Name:     name,
		State:    Ready,
		Space:    space,
		Handles:  &handle.Table{},
		Abi:      mod,
	}
	register(t)

	if parentID != 0 {
		if parent, ok := Lookup(parentID); ok {
			tableLock.Acquire()
			parent.Children = append(parent.Children, t.ID)
			tableLock.Release()
		}
	}

	return t, nil
}

// NewKernelTask creates a task that executes entirely in kernel mode (no
// user-mode ABI binding); it is used for kernel worker threads.
func NewKernelTask(name string) (*Task, *kernel.Error) {
	return newTask(name, 0, nil)
}

// NewUserTask creates a task bound to the named ABI module, ready to have
// an image installed into it via execute_binary.
func NewUserTask(name string, parentID uint64, abiName string) (*Task, *kernel.Error) {
	mod, ok := abi.Lookup(abiName)
	if !ok {
		return nil, abi.ErrUnknownAbi
	}
	return newTask(name, parentID, mod)
}
