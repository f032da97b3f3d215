// Package early provides a Printf entry point that is safe to call before
// the rest of the kernel (including the device/console HAL) has been
// initialized. It is a thin wrapper around kfmt.Printf: the underlying
// implementation already buffers output in a ring buffer until
// kfmt.SetOutputSink is called by the HAL, which is exactly the property
// code running this early needs.
package early

import "github.com/petitstrawberry/scarlet/kernel/kfmt"

// Printf behaves like kfmt.Printf. It exists as a separate package so that
// panic/rt0 code which must not import the HAL (to avoid an import cycle
// with kernel/hal, which itself imports kfmt) has an obvious, minimal entry
// point to format diagnostics.
func Printf(format string, args ...interface{}) {
	kfmt.Printf(format, args...)
}
