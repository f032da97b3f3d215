// Package object defines the kernel's closed tagged union of objects that
// can be referenced through a task's handle table: files, pipe endpoints,
// event channels and subscriptions, devices and memory-mappable regions.
//
// Every concrete object type lives in a downstream package (kernel/ipc/pipe,
// kernel/ipc/event, kernel/vfs, device drivers) and is reached only through
// the capability interfaces declared here, never through a type switch on
// the concrete type. New members are added to Kind as new object families
// are introduced; the union is otherwise closed.
package object

import "github.com/petitstrawberry/scarlet/kernel"

// Kind identifies which member of the tagged union a KernelObject belongs
// to.
type Kind uint8

const (
	// KindFile is a seekable byte stream backed by the VFS.
	KindFile Kind = iota

	// KindPipeEndpoint is one end of an anonymous, in-kernel byte pipe.
	KindPipeEndpoint

	// KindEventChannel is a named, many-producer event distribution point.
	KindEventChannel

	// KindEventSubscription is a queued receiver bound to an EventChannel.
	KindEventSubscription

	// KindDevice is a handle onto a device driver's control/data surface.
	KindDevice

	// KindMemoryMapping is a handle onto a region mappable into a task's
	// address space (e.g. a shared memory segment or device BAR).
	KindMemoryMapping
)

// String returns a human readable name for the Kind, used by panic/log
// output and the object-info capability probe.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindPipeEndpoint:
		return "pipe"
	case KindEventChannel:
		return "event-channel"
	case KindEventSubscription:
		return "event-subscription"
	case KindDevice:
		return "device"
	case KindMemoryMapping:
		return "memory-mapping"
	default:
		return "unknown"
	}
}

// KernelObject is the minimal interface every member of the tagged union
// implements. Behavior beyond Kind/Close is reached exclusively through the
// capability interfaces below and the As* probes in probe.go.
type KernelObject interface {
	// Kind reports which tagged-union member this object is.
	Kind() Kind

	// Close releases any resources held by the object. Close must be
	// idempotent: calling it more than once (e.g. once per handle that
	// referenced the object before the last one was dropped) must not
	// fault or double-free.
	Close() *kernel.Error
}

// StreamOps is implemented by objects that support byte-oriented read/write,
// such as pipe endpoints and open files.
type StreamOps interface {
	// Read copies up to len(buf) bytes into buf and returns the number of
	// bytes actually read. A zero-length buf always returns (0, nil)
	// without blocking.
	Read(buf []byte) (int, *kernel.Error)

	// Write copies up to len(buf) bytes from buf. Partial writes are
	// permitted; the returned count indicates how many bytes were
	// actually accepted.
	Write(buf []byte) (int, *kernel.Error)
}

// FileObject is implemented by seekable, named byte streams resolved
// through the VFS.
type FileObject interface {
	KernelObject
	StreamOps

	// Seek repositions the object's read/write cursor and returns its new
	// absolute offset. whence follows the same convention as io.Seeker.
	Seek(offset int64, whence int) (int64, *kernel.Error)

	// Size returns the current size, in bytes, of the underlying file.
	Size() (int64, *kernel.Error)
}

// ControlOps is implemented by objects that accept out-of-band control
// requests (ioctl-style), such as devices and some foreign-ABI file
// descriptors.
type ControlOps interface {
	// Control issues a control request against the object. The meaning of
	// request and arg, and of the returned value, are defined by the
	// object's concrete type (and, for foreign handles, by the owning
	// AbiModule's translation table).
	Control(request uint64, arg uintptr) (uintptr, *kernel.Error)
}

// MemoryMappingOps is implemented by objects that can be mapped into a
// task's address space.
type MemoryMappingOps interface {
	// MapInto installs a mapping for this object into the address space
	// identified by asid, starting at vaddrHint (or at an
	// implementation-chosen address if vaddrHint is zero), and returns
	// the virtual address the mapping was actually installed at.
	MapInto(asid uint32, vaddrHint uintptr, writable bool) (uintptr, *kernel.Error)
}

// CloneOps is implemented by objects whose semantics require explicit
// participation when a handle referencing them is duplicated (e.g. a pipe
// endpoint must grow its peer count; a plain file object can usually share
// its position and needs no special handling).
type CloneOps interface {
	// Clone is invoked by the handle table when a handle is duplicated
	// (via dup-style operations or task cloning). It returns the
	// KernelObject to install in the new handle slot, which may be the
	// receiver itself (shared state) or a distinct value.
	Clone() (KernelObject, *kernel.Error)
}

// EventIpcOps is implemented by event channels and subscriptions.
type EventIpcOps interface {
	// Publish attempts to deliver evt according to the object's
	// configured DeliveryMode, returning an error if delivery is
	// mandatory (DeliveryImmediate) and could not be completed.
	Publish(evt Event) *kernel.Error

	// Receive retrieves the next queued event for a subscription object.
	// If block is true and no event is queued, Receive suspends the
	// calling task until one arrives. Receive is a no-op returning
	// ErrNotSupported on channel objects that are not subscriptions.
	Receive(block bool) (Event, *kernel.Error)
}
