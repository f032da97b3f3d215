// Package kmain wires together every subsystem bring-up step: physical and
// virtual memory management, the Go runtime's minimal bootstrap, hardware
// detection, trap dispatch installation, ABI module registration and the
// creation of the first user task. It mirrors the teacher's own kmain.go
// bring-up order (allocator.Init, then vmm.Init, then goruntime.Init)
// exactly, extended with the steps Scarlet's own subsystems need.
package kmain

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/dispatch"
	"github.com/petitstrawberry/scarlet/kernel/goruntime"
	"github.com/petitstrawberry/scarlet/kernel/hal"
	"github.com/petitstrawberry/scarlet/kernel/kfmt"
	"github.com/petitstrawberry/scarlet/kernel/mm/pmm"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
	"github.com/petitstrawberry/scarlet/kernel/sched"
	"github.com/petitstrawberry/scarlet/kernel/task"
	"github.com/petitstrawberry/scarlet/multiboot"

	// Each ABI module self-registers via abi.Register from its own init
	// function; importing for side effect is how dispatch.Install later
	// finds a module to bind the init task to.
	_ "github.com/petitstrawberry/scarlet/kernel/abi/linux"
	_ "github.com/petitstrawberry/scarlet/kernel/abi/scarlet"
	_ "github.com/petitstrawberry/scarlet/kernel/abi/wasi"
	_ "github.com/petitstrawberry/scarlet/kernel/abi/xv6"
)

// kernelPageOffset is the virtual address the kernel image is linked to run
// at (the higher-half offset amd64 kernels conventionally use). It must
// match the linker script's load address, which lives outside this Go-only
// retrieved snapshot.
const kernelPageOffset = uintptr(0xffffffff80000000)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol visible to the rt0 initialization code. It is
// invoked after the entry stub has set up the GDT and a minimal stack; the
// stub passes the multiboot info pointer and the kernel image's physical
// bounds exactly as the teacher's own rt0 does.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	var err *kernel.Error
	if err = pmm.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	} else if err = vmm.Init(kernelPageOffset); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	}

	hal.DetectHardware()
	dispatch.Install()

	if _, err = task.NewUserTask("init", 0, "scarlet"); err != nil {
		kfmt.Printf("kmain: failed to create init task: %s\n", err.Message)
		panic(err)
	}
	sched.Reschedule()

	// Kmain is not expected to return: the entry stub's own idle loop
	// takes over once a task has been dispatched onto this CPU. Use
	// kfmt.Panic instead of panic so the compiler cannot treat it as
	// dead code and eliminate it.
	kfmt.Panic(errKmainReturned)
}
