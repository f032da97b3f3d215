package task

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
)

// enqueueFn hands a freshly cloned task to the scheduler's ready queue.
// kernel/sched sets this during its own init to avoid an import cycle
// between kernel/task and kernel/sched (the scheduler necessarily imports
// kernel/task to operate on Task values).
var enqueueFn = func(*Task) {}

// SetEnqueueFunc installs the scheduler's ready-queue enqueue function.
// Called once from kernel/sched's init.
func SetEnqueueFunc(fn func(*Task)) { enqueueFn = fn }

// Clone implements the 6-step clone_task algorithm: it gives a new child
// task its own address space (with every writable region of the parent
// converted to a shared copy-on-write mapping), its own handle table (with
// every handle's CloneOps invoked), the parent's ABI binding, a copy of the
// parent's most recent trapframe with the return value zeroed, and enqueues
// it for scheduling. The operation is all-or-nothing: if any step fails,
// everything allocated so far is unwound and the parent is left exactly as
// it was.
func Clone(parent *Task) (*Task, *kernel.Error) {
	// Step 1: allocate ASID + PDT for the child.
	childSpace, err := vmm.AllocateAddressSpace()
	if err != nil {
		return nil, err
	}

	// Step 2: deep-copy memory maps, converting writable regions to
	// shared copy-on-write mappings on both sides.
	parentRegions := parent.Space.Regions()
	remapped := make([]vmm.Region, 0, len(parentRegions))

	rollback := func() {
		for _, r := range remapped {
			_ = parent.Space.Remap(r.VAddr, r.Flags)
		}
		vmm.FreeAddressSpace(childSpace)
	}

	for _, r := range parentRegions {
		flags := r.Flags
		if flags&vmm.FlagRW != 0 {
			cowFlags := (flags &^ vmm.FlagRW) | vmm.FlagCopyOnWrite
			if err := parent.Space.Remap(r.VAddr, cowFlags); err != nil {
				rollback()
				return nil, err
			}
			remapped = append(remapped, r)
			flags = cowFlags
		}

		if err := childSpace.MapShared(r, flags); err != nil {
			rollback()
			return nil, err
		}
	}

	// Step 3: duplicate the handle table, invoking CloneOps on every
	// occupied handle.
	childHandles, err := parent.Handles.Fork()
	if err != nil {
		rollback()
		return nil, err
	}

	// Step 4/5: copy the ABI slot, register the parent id, copy the
	// trapframe and zero the child's return value so its syscall appears
	// to return 0.
	child := &Task{
		ID:                allocID(),
		ParentID:          parent.ID,
		Name:              parent.Name,
		State:             Ready,
		Space:             childSpace,
		Handles:           childHandles,
		Abi:               parent.Abi,
		Brk:               parent.Brk,
		ImageSize:         parent.ImageSize,
		KernelStackFrames: append([]uintptr(nil), parent.KernelStackFrames...),
	}

	if parent.VCPU.Trapframe != nil {
		child.VCPU.Trapframe = parent.VCPU.Trapframe.Clone()
		child.VCPU.Trapframe.SetReturnValue(0)
	}
	child.VCPU.Context = parent.VCPU.Context

	register(child)
	tableLock.Acquire()
	parent.Children = append(parent.Children, child.ID)
	tableLock.Release()

	// Step 6: enqueue the child for scheduling.
	enqueueFn(child)

	return child, nil
}
