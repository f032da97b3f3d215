package task

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
)

// Exit transitions t to the Zombie state, records exitCode, releases its
// handle table (closing every referenced object) and reparents its
// children to InitPID. The address space and task record itself are kept
// around until a wait() call reaps them, so the exit code remains
// retrievable.
func Exit(t *Task, exitCode int32) {
	t.Handles.RemoveAll()

	tableLock.Acquire()
	t.State = Zombie
	t.ExitCode = exitCode

	children := t.Children
	t.Children = nil
	if init, ok := table[InitPID]; ok && init != t {
		init.Children = append(init.Children, children...)
	}
	for _, cid := range children {
		if c, ok := table[cid]; ok {
			c.ParentID = InitPID
		}
	}
	tableLock.Release()
}

// Wait reports the exit status of the child identified by childPID,
// provided parentID is its current parent and it has reached the Zombie
// state; on success, the child's task record is reaped (removed from the
// task table and its address space released) and its exit code returned.
func Wait(parentID, childPID uint64) (int32, *kernel.Error) {
	tableLock.Acquire()
	child, ok := table[childPID]
	if !ok || child.ParentID != parentID {
		tableLock.Release()
		return 0, ErrNoSuchChild
	}
	if child.State != Zombie {
		tableLock.Release()
		return 0, ErrChildNotExited
	}

	exitCode := child.ExitCode
	delete(table, childPID)

	if parent, ok := table[parentID]; ok {
		for i, id := range parent.Children {
			if id == childPID {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	tableLock.Release()

	vmm.FreeAddressSpace(child.Space)
	return exitCode, nil
}
