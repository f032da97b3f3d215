package console

import (
	"github.com/petitstrawberry/scarlet/device"
	"github.com/petitstrawberry/scarlet/kernel/cpu"
	"github.com/petitstrawberry/scarlet/kernel/hal/multiboot"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
)

var (
	getFramebufferInfoFn = multiboot.GetFramebufferInfo

	// mapRegionFn is used by console drivers to map their framebuffer into
	// the kernel's address space. It is overridden by tests.
	mapRegionFn = vmm.MapRegion

	// portWriteByteFn is used by console drivers that program hardware
	// registers (e.g. the VGA DAC) via port I/O. It is overridden by tests.
	portWriteByteFn = cpu.PortWriteByte

	// ProbeFuncs is a slice of device probe functions that is used by
	// the hal package to probe for console device hardware. Each driver
	// should use an init() block to append its probe function to this list.
	ProbeFuncs []device.ProbeFn
)
