package task

import (
	"testing"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/abi"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
	"github.com/petitstrawberry/scarlet/kernel/trap"
)

type fakeAbiModule struct{ name string }

func (m fakeAbiModule) Name() string                                     { return m.name }
func (m fakeAbiModule) HandleSyscall(tf *trap.Trapframe) *kernel.Error { return nil }

func TestNewKernelTask(t *testing.T) {
	tk, err := NewKernelTask("worker")
	if err != nil {
		t.Fatalf("NewKernelTask failed: %v", err)
	}
	if tk.Abi != nil {
		t.Error("expected a kernel task to have no ABI binding")
	}
	if tk.State != Ready {
		t.Errorf("expected new task state Ready, got %v", tk.State)
	}
	if got, ok := Lookup(tk.ID); !ok || got != tk {
		t.Error("expected Lookup to find the newly created task")
	}
}

func TestNewUserTaskUnknownAbi(t *testing.T) {
	if _, err := NewUserTask("proc", 0, "no-such-abi"); err != abi.ErrUnknownAbi {
		t.Errorf("expected abi.ErrUnknownAbi, got %v", err)
	}
}

func TestNewUserTaskRegistersUnderParent(t *testing.T) {
	abi.Register(fakeAbiModule{name: "test-task-abi"})

	parent, err := NewUserTask("parent", 0, "test-task-abi")
	if err != nil {
		t.Fatalf("NewUserTask failed: %v", err)
	}

	child, err := NewUserTask("child", parent.ID, "test-task-abi")
	if err != nil {
		t.Fatalf("NewUserTask (child) failed: %v", err)
	}

	found := false
	for _, cid := range parent.Children {
		if cid == child.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected the child's id to be recorded in the parent's Children")
	}
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	var space vmm.AddressSpace

	init, _ := newTask("init", 0, nil)
	init.ID = InitPID
	register(init)

	parent, _ := newTask("parent", 0, nil)
	parent.Space = &space
	child, _ := newTask("child", parent.ID, nil)
	parent.Children = append(parent.Children, child.ID)

	Exit(parent, 7)

	if parent.State != Zombie {
		t.Errorf("expected parent state Zombie after Exit, got %v", parent.State)
	}
	if parent.ExitCode != 7 {
		t.Errorf("expected ExitCode 7, got %d", parent.ExitCode)
	}
	if len(parent.Children) != 0 {
		t.Errorf("expected Exit to clear the exiting task's own Children slice, got %v", parent.Children)
	}

	c, ok := Lookup(child.ID)
	if !ok {
		t.Fatal("expected child to still be registered")
	}
	if c.ParentID != InitPID {
		t.Errorf("expected child to be reparented to InitPID, got %d", c.ParentID)
	}

	foundInInit := false
	for _, cid := range init.Children {
		if cid == child.ID {
			foundInInit = true
		}
	}
	if !foundInInit {
		t.Error("expected child to be listed under init's Children")
	}
}

func TestWaitReturnsErrNoSuchChild(t *testing.T) {
	if _, err := Wait(999, 12345); err != ErrNoSuchChild {
		t.Errorf("expected ErrNoSuchChild, got %v", err)
	}
}

func TestWaitReturnsErrChildNotExited(t *testing.T) {
	parent, _ := newTask("p2", 0, nil)
	child, _ := newTask("c2", parent.ID, nil)

	if _, err := Wait(parent.ID, child.ID); err != ErrChildNotExited {
		t.Errorf("expected ErrChildNotExited, got %v", err)
	}
}

func TestWaitReapsZombieChild(t *testing.T) {
	var space vmm.AddressSpace

	parent, _ := newTask("p3", 0, nil)
	child, _ := newTask("c3", parent.ID, nil)
	child.Space = &space

	Exit(child, 5)

	code, err := Wait(parent.ID, child.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 5 {
		t.Errorf("Wait returned exit code %d, want 5", code)
	}
	if _, ok := Lookup(child.ID); ok {
		t.Error("expected the reaped child to no longer be registered")
	}
	if len(parent.Children) != 0 {
		t.Errorf("expected parent's Children to no longer list the reaped child, got %v", parent.Children)
	}
}
