package linux

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/object"

	ttydev "github.com/petitstrawberry/scarlet/device/tty"
)

// Linux console ioctl commands and keyboard-mode constants (include/uapi/
// linux/kd.h), reproduced here only for the handful this module translates.
const (
	kdgkbmode = 0x4B44
	kdskbmode = 0x4B45

	kRaw    = 0x00
	kXlate  = 0x01
	kUnicode = 0x03
)

var errUnknownIoctl = &kernel.Error{Module: "abi/linux", Message: "unrecognized ioctl request"}

// translateIoctl maps a Linux ioctl request/arg pair onto ctrl's native
// ControlOps vocabulary, and maps its result back onto the Linux
// convention. Unrecognized requests return errUnknownIoctl, which
// HandleSyscall surfaces as -EINVAL.
func translateIoctl(ctrl object.ControlOps, request, arg uint64) (uint64, *kernel.Error) {
	switch request {
	case kdskbmode:
		canonical := uintptr(0)
		if arg != kRaw {
			canonical = 1
		}
		if _, err := ctrl.Control(ttydev.SctlTTYSetCanonical, canonical); err != nil {
			return 0, err
		}
		return 0, nil

	case kdgkbmode:
		v, err := ctrl.Control(ttydev.SctlTTYGetCanonical, 0)
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return kXlate, nil
		}
		return kRaw, nil

	default:
		return 0, errUnknownIoctl
	}
}

var _ = kUnicode // reserved for a future VT_GETMODE/VT_SETMODE translation
