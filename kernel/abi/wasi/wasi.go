// Package wasi implements the host-call surface of WASI Preview 1. It does
// not interpret WebAssembly bytecode: kernel/exec only recognizes a WASM
// module's bytes far enough to hand them to this module (see
// kernel/exec.FormatWASM), and actually executing WASM instructions would
// require a bytecode interpreter this kernel does not have. What this
// module does provide is the translation layer a WASM host-call trampoline
// would dispatch into: each supported WASI Preview 1 import, under a call
// number local to this module, translated onto the native object/handle/task
// primitives the same way kernel/abi/linux and kernel/abi/xv6 translate
// their own syscall surfaces.
package wasi

import (
	"reflect"
	"unsafe"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/abi"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sched"
	"github.com/petitstrawberry/scarlet/kernel/task"
	"github.com/petitstrawberry/scarlet/kernel/trap"
)

// Call numbers for the subset of WASI Preview 1 imports this module
// translates. They are local to this module and do not follow the order
// in which the WASI interface definition lists the imports.
const (
	fdWrite   = 0
	fdRead    = 1
	fdClose   = 2
	procExit  = 3
)

const (
	errnoSuccess = 0
	errnoBadf    = 8
	errnoIo      = 29
)

type module struct{}

func (module) Name() string { return "wasi_snapshot_preview1" }

func init() {
	abi.Register(module{})
}

func (module) HandleSyscall(tf *trap.Trapframe) *kernel.Error {
	t := sched.Current()
	if t == nil {
		return &kernel.Error{Module: "abi/wasi", Message: "syscall with no current task"}
	}

	switch tf.Number() {
	case fdWrite:
		return doFdWrite(t, tf)
	case fdRead:
		return doFdRead(t, tf)
	case fdClose:
		return doFdClose(t, tf)
	case procExit:
		return doProcExit(t, tf)
	default:
		tf.SetReturnValue(errnoBadf)
		return nil
	}
}

func bufAt(addr uintptr, length uintptr) []byte {
	if length == 0 {
		return nil
	}
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(length),
		Cap:  int(length),
	}))
}

// iovec mirrors WASI's __wasi_ciovec_t/__wasi_iovec_t: a (buf pointer,
// length) pair, both stored as 32-bit values in a WASM module's linear
// memory, here read directly since this kernel addresses a task's whole
// address space rather than a sandboxed linear-memory slice.
type iovec struct {
	ptr uint32
	len uint32
}

// doFdWrite implements fd_write: it gathers iovsLen iovec entries starting
// at iovs, writes their concatenated bytes to the native stream behind fd,
// and stores the total byte count at nwritten.
func doFdWrite(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	fd := uint32(tf.Arg(0))
	obj, _, err := t.Handles.Get(fd)
	if err != nil {
		tf.SetReturnValue(errnoBadf)
		return nil
	}
	stream, ok := object.AsStream(obj)
	if !ok {
		tf.SetReturnValue(errnoBadf)
		return nil
	}

	iovsAddr := uintptr(tf.Arg(1))
	iovsLen := int(tf.Arg(2))
	nwrittenAddr := uintptr(tf.Arg(3))

	var total int
	raw := bufAt(iovsAddr, uintptr(iovsLen*8))
	for i := 0; i < iovsLen; i++ {
		iov := (*iovec)(unsafe.Pointer(&raw[i*8]))
		data := bufAt(uintptr(iov.ptr), uintptr(iov.len))
		n, werr := stream.Write(data)
		total += n
		if werr != nil {
			tf.SetReturnValue(errnoIo)
			return nil
		}
	}

	out := bufAt(nwrittenAddr, 4)
	*(*uint32)(unsafe.Pointer(&out[0])) = uint32(total)
	tf.SetReturnValue(errnoSuccess)
	return nil
}

func doFdRead(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	fd := uint32(tf.Arg(0))
	obj, _, err := t.Handles.Get(fd)
	if err != nil {
		tf.SetReturnValue(errnoBadf)
		return nil
	}
	stream, ok := object.AsStream(obj)
	if !ok {
		tf.SetReturnValue(errnoBadf)
		return nil
	}

	iovsAddr := uintptr(tf.Arg(1))
	iovsLen := int(tf.Arg(2))
	nreadAddr := uintptr(tf.Arg(3))

	var total int
	raw := bufAt(iovsAddr, uintptr(iovsLen*8))
	for i := 0; i < iovsLen; i++ {
		iov := (*iovec)(unsafe.Pointer(&raw[i*8]))
		buf := bufAt(uintptr(iov.ptr), uintptr(iov.len))
		n, rerr := stream.Read(buf)
		total += n
		if rerr != nil {
			tf.SetReturnValue(errnoIo)
			return nil
		}
		if n < len(buf) {
			break
		}
	}

	out := bufAt(nreadAddr, 4)
	*(*uint32)(unsafe.Pointer(&out[0])) = uint32(total)
	tf.SetReturnValue(errnoSuccess)
	return nil
}

func doFdClose(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	fd := uint32(tf.Arg(0))
	if err := t.Handles.Remove(fd); err != nil {
		tf.SetReturnValue(errnoBadf)
		return nil
	}
	tf.SetReturnValue(errnoSuccess)
	return nil
}

func doProcExit(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	task.Exit(t, int32(tf.Arg(0)))
	sched.Reschedule()
	return nil
}
