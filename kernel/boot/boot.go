// Package boot provides an architecture-neutral view over whatever boot
// protocol handed control to the kernel. On amd64 that is multiboot2; a
// future riscv64 port would satisfy the same Config surface from a
// flattened device tree instead, without requiring kernel/mm, kernel/task
// or any ABI module to know which one is in effect.
package boot

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/multiboot"
)

// MemoryRegion describes one physical memory extent reported by the boot
// protocol.
type MemoryRegion struct {
	PhysAddr  uint64
	Length    uint64
	Available bool
}

// Config is the boot-protocol-neutral information the kernel needs during
// bring-up: the physical memory map and the command line the bootloader (or
// firmware) passed through.
type Config struct {
	CommandLine map[string]string
	Regions     []MemoryRegion
}

// errNoBootInfo is returned by FromMultiboot if the multiboot info pointer
// was never registered (e.g. running a unit test outside of boot).
var errNoBootInfo = &kernel.Error{Module: "boot", Message: "no boot info has been registered"}

// FromMultiboot builds a Config by querying the already-initialized
// multiboot package (SetInfoPtr must have been called by the entry stub
// before this runs).
func FromMultiboot() (Config, *kernel.Error) {
	var cfg Config
	cfg.CommandLine = multiboot.GetBootCmdLine()

	multiboot.VisitMemRegions(func(e *multiboot.MemoryMapEntry) bool {
		cfg.Regions = append(cfg.Regions, MemoryRegion{
			PhysAddr:  e.PhysAddress,
			Length:    e.Length,
			Available: e.Type == multiboot.MemAvailable,
		})
		return true
	})

	if len(cfg.Regions) == 0 && len(cfg.CommandLine) == 0 {
		return Config{}, errNoBootInfo
	}
	return cfg, nil
}

// TotalAvailable returns the sum, in bytes, of every region marked
// Available.
func (c Config) TotalAvailable() uint64 {
	var total uint64
	for _, r := range c.Regions {
		if r.Available {
			total += r.Length
		}
	}
	return total
}
