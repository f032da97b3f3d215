package tty

import "github.com/petitstrawberry/scarlet/device"

// ProbeFuncs is a slice of TTY device probe functions. Each driver uses an
// init() block to append its probe function to this list.
var ProbeFuncs []device.ProbeFn

// HWProbes returns a slice of device.ProbeFn that can be used by the hal
// package to probe for TTY device hardware.
func HWProbes() []device.ProbeFn {
	return []device.ProbeFn{
		probeForVT,
	}
}
