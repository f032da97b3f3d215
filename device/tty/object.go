package tty

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/object"
)

// Native control commands accepted by a Handle's Control method. Foreign ABI
// modules (kernel/abi/linux's ioctl translation table, most notably) map
// their own device-control vocabulary onto these rather than onto anything
// device-specific.
const (
	// SctlTTYSetCanonical sets canonical (arg != 0) or raw (arg == 0) line
	// discipline.
	SctlTTYSetCanonical uint64 = iota

	// SctlTTYGetCanonical returns the current line discipline: 1 for
	// canonical, 0 for raw.
	SctlTTYGetCanonical
)

var errUnknownControl = &kernel.Error{Module: "tty", Message: "unknown control command"}

// Handle is a kernel object wrapping a Device so it can be reached through a
// task's handle table: writes go straight to the terminal, and control
// requests flip its line discipline.
type Handle struct {
	dev       Device
	canonical bool
}

// NewHandle wraps dev as a kernel object. Terminals start in canonical mode.
func NewHandle(dev Device) *Handle {
	return &Handle{dev: dev, canonical: true}
}

// Kind implements object.KernelObject.
func (h *Handle) Kind() object.Kind { return object.KindDevice }

// Close implements object.KernelObject. A TTY handle holds no resources of
// its own beyond the shared Device reference.
func (h *Handle) Close() *kernel.Error { return nil }

// Write implements object.StreamOps.
func (h *Handle) Write(buf []byte) (int, *kernel.Error) {
	n, err := h.dev.Write(buf)
	if err != nil {
		return n, &kernel.Error{Module: "tty", Message: err.Error()}
	}
	return n, nil
}

// Read implements object.StreamOps. Keyboard input is not wired up in this
// snapshot; a TTY handle is write/control only.
func (h *Handle) Read(buf []byte) (int, *kernel.Error) {
	return 0, object.ErrNotSupported
}

// Control implements object.ControlOps.
func (h *Handle) Control(request uint64, arg uintptr) (uintptr, *kernel.Error) {
	switch request {
	case SctlTTYSetCanonical:
		h.canonical = arg != 0
		return 0, nil
	case SctlTTYGetCanonical:
		if h.canonical {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, errUnknownControl
	}
}
