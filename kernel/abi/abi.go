// Package abi defines the interface every ABI module (native or foreign)
// implements, and the process-wide registry that kernel/dispatch consults
// to route a task's system calls. Concrete ABI modules live in their own
// subpackages (kernel/abi/scarlet, kernel/abi/linux, kernel/abi/xv6,
// kernel/abi/wasi) and register themselves from an init function, mirroring
// the way device/video/console's drivers self-register into ProbeFuncs.
package abi

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/trap"
)

// Module is implemented by every ABI the kernel can dispatch a task's
// system calls through.
type Module interface {
	// Name identifies the ABI, e.g. "scarlet", "linux/riscv64",
	// "xv6/riscv64" or "wasi_snapshot_preview1". Task.Abi stores modules
	// by this name.
	Name() string

	// HandleSyscall services a single system call trapped into the
	// kernel on behalf of the currently scheduled task. Any error it
	// returns is the ABI's own encoded error value (already placed in
	// tf's return-value register where that convention calls for it),
	// never a kernel-internal error: per the dispatch error policy, a
	// malformed trapframe is the only case that legitimately reaches the
	// kernel panic path from this call.
	HandleSyscall(tf *trap.Trapframe) *kernel.Error
}

var (
	registry = map[string]Module{}

	// ErrUnknownAbi is returned by callers of Lookup (such as the exec
	// path and task.NewUserTask) when no module has registered under the
	// requested name; Lookup itself reports that case by returning false.
	ErrUnknownAbi = &kernel.Error{Module: "abi", Message: "no ABI module registered under that name"}
)

// Register adds m to the process-wide registry, indexed by m.Name(). It is
// intended to be called from each ABI submodule's init function.
func Register(m Module) { registry[m.Name()] = m }

// Lookup returns the registered module with the given name.
func Lookup(name string) (Module, bool) {
	m, ok := registry[name]
	return m, ok
}

// Names returns the names of every currently registered ABI module. Used by
// diagnostics and by strict execute_binary callers that want to report
// which ABIs are available.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
