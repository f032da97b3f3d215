// Package scarlet implements the kernel's native ABI: a direct,
// unencumbered mapping from trapframe arguments onto the object/handle/
// task/exec primitives, with no foreign-fd translation layer in the way.
// Foreign ABI modules (kernel/abi/linux, kernel/abi/xv6, kernel/abi/wasi)
// are thin translators that ultimately call into the very same kernel
// packages this module calls directly.
package scarlet

import (
	"reflect"
	"unsafe"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/abi"
	"github.com/petitstrawberry/scarlet/kernel/exec"
	"github.com/petitstrawberry/scarlet/kernel/handle"
	"github.com/petitstrawberry/scarlet/kernel/ipc/event"
	"github.com/petitstrawberry/scarlet/kernel/ipc/pipe"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sched"
	"github.com/petitstrawberry/scarlet/kernel/task"
	"github.com/petitstrawberry/scarlet/kernel/trap"
	"github.com/petitstrawberry/scarlet/kernel/vfs"
)

// Syscall numbers for the native ABI, carried in Trapframe.Number().
const (
	SysRead uint64 = iota
	SysWrite
	SysClose
	SysSeek
	SysDup
	SysOpen
	SysClone
	SysExec
	SysWait
	SysExit
	SysPipe
	SysEventChannelCreate
	SysEventSubscribe
	SysEventPublish
	SysEventReceive
)

// Errno-style negative return codes, mirrored into the return-value
// register exactly like the Linux convention the foreign ABI modules also
// translate into.
const (
	errInval   = ^uint64(22 - 1) // -EINVAL
	errBadF    = ^uint64(9 - 1)  // -EBADF
	errNoMem   = ^uint64(12 - 1) // -ENOMEM
	errAgain   = ^uint64(11 - 1) // -EAGAIN
	errPipe    = ^uint64(32 - 1) // -EPIPE
	errNoChild = ^uint64(10 - 1) // -ECHILD
)

var rootFS = vfs.NewFS()

// module implements abi.Module.
type module struct{}

func (module) Name() string { return "scarlet" }

func init() {
	abi.Register(module{})
}

func (module) HandleSyscall(tf *trap.Trapframe) *kernel.Error {
	t := sched.Current()
	if t == nil {
		return &kernel.Error{Module: "abi/scarlet", Message: "syscall with no current task"}
	}

	switch tf.Number() {
	case SysRead:
		return sysRead(t, tf)
	case SysWrite:
		return sysWrite(t, tf)
	case SysClose:
		return sysClose(t, tf)
	case SysSeek:
		return sysSeek(t, tf)
	case SysDup:
		return sysDup(t, tf)
	case SysOpen:
		return sysOpen(t, tf)
	case SysClone:
		return sysClone(t, tf)
	case SysExec:
		return sysExec(t, tf)
	case SysWait:
		return sysWait(t, tf)
	case SysExit:
		return sysExit(t, tf)
	case SysPipe:
		return sysPipe(t, tf)
	case SysEventChannelCreate:
		return sysEventChannelCreate(t, tf)
	case SysEventSubscribe:
		return sysEventSubscribe(t, tf)
	case SysEventPublish:
		return sysEventPublish(t, tf)
	case SysEventReceive:
		return sysEventReceive(t, tf)
	default:
		tf.SetReturnValue(errInval)
		return nil
	}
}

// bufAt overlays a []byte onto a user-space buffer. The calling task's
// AddressSpace is already active (Switch was called by the scheduler before
// dispatch reached this ABI module), so the pointer is valid without a
// separate copy_from_user step; a zero length always yields an empty slice.
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

// stringAt overlays a string onto a user-space buffer of the given length.
func stringAt(addr uintptr, length uintptr) string {
	return string(bufAt(addr, length))
}

func sysRead(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	obj, _, err := t.Handles.Get(h)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	stream, ok := object.AsStream(obj)
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}

	n, serr := stream.Read(bufAt(uintptr(tf.Arg(1)), uintptr(tf.Arg(2))))
	if serr != nil {
		tf.SetReturnValue(errToReturn(serr))
		return nil
	}
	tf.SetReturnValue(uint64(n))
	return nil
}

func sysWrite(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	obj, _, err := t.Handles.Get(h)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	stream, ok := object.AsStream(obj)
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}

	n, serr := stream.Write(bufAt(uintptr(tf.Arg(1)), uintptr(tf.Arg(2))))
	if serr != nil {
		tf.SetReturnValue(errToReturn(serr))
		return nil
	}
	tf.SetReturnValue(uint64(n))
	return nil
}

func sysClose(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	if err := t.Handles.Remove(h); err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	tf.SetReturnValue(0)
	return nil
}

func sysSeek(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	obj, _, err := t.Handles.Get(h)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	f, ok := object.AsFile(obj)
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}

	pos, serr := f.Seek(int64(tf.Arg(1)), int(tf.Arg(2)))
	if serr != nil {
		tf.SetReturnValue(errToReturn(serr))
		return nil
	}
	tf.SetReturnValue(uint64(pos))
	return nil
}

func sysDup(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	newH, err := t.Handles.Duplicate(h)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	tf.SetReturnValue(uint64(newH))
	return nil
}

func sysOpen(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	path := stringAt(uintptr(tf.Arg(0)), uintptr(tf.Arg(1)))
	create := tf.Arg(2) != 0

	f, err := rootFS.Open(path, create)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}

	h, err := t.Handles.Insert(f)
	if err != nil {
		tf.SetReturnValue(errNoMem)
		return nil
	}
	tf.SetReturnValue(uint64(h))
	return nil
}

func sysClone(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	child, err := task.Clone(t)
	if err != nil {
		tf.SetReturnValue(errNoMem)
		return nil
	}
	tf.SetReturnValue(child.ID)
	return nil
}

func sysExec(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	path := stringAt(uintptr(tf.Arg(0)), uintptr(tf.Arg(1)))
	strict := tf.Arg(2) != 0

	f, ferr := rootFS.Open(path, false)
	if ferr != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	size, _ := f.Size()
	image := make([]byte, size)
	_, _ = f.Read(image)

	if err := exec.Execute(t, tf, image, "", strict); err != nil {
		tf.SetReturnValue(errInval)
		return nil
	}
	// tf has already been reset to the new image's entry point by
	// Execute; there is no conventional return value to set.
	return nil
}

func sysWait(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	childPID := tf.Arg(0)
	code, err := task.Wait(t.ID, childPID)
	if err != nil {
		tf.SetReturnValue(errNoChild)
		return nil
	}
	tf.SetReturnValue(uint64(uint32(code)))
	return nil
}

func sysExit(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	task.Exit(t, int32(tf.Arg(0)))
	sched.Reschedule()
	return nil
}

func sysPipe(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	capacity := int(tf.Arg(0))
	rd, wr, err := pipe.CreatePair(capacity)
	if err != nil {
		tf.SetReturnValue(errNoMem)
		return nil
	}

	rh, err := t.Handles.Insert(rd)
	if err != nil {
		tf.SetReturnValue(errNoMem)
		return nil
	}
	wh, err := t.Handles.Insert(wr)
	if err != nil {
		_ = t.Handles.Remove(rh)
		tf.SetReturnValue(errNoMem)
		return nil
	}

	tf.SetReturnValue(uint64(rh) | uint64(wh)<<32)
	return nil
}

func sysEventChannelCreate(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	mode := object.DeliveryMode(tf.Arg(0))
	ch := event.NewChannel("", mode)

	h, err := t.Handles.Insert(ch)
	if err != nil {
		tf.SetReturnValue(errNoMem)
		return nil
	}
	tf.SetReturnValue(uint64(h))
	return nil
}

func sysEventSubscribe(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	groupID := uint32(tf.Arg(1))

	obj, _, err := t.Handles.Get(h)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	ch, ok := obj.(*event.Channel)
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}

	sub, serr := ch.Subscribe(object.Filter{GroupID: groupID}, 0)
	if serr != nil {
		tf.SetReturnValue(errInval)
		return nil
	}

	subH, err := t.Handles.Insert(sub)
	if err != nil {
		tf.SetReturnValue(errNoMem)
		return nil
	}
	tf.SetReturnValue(uint64(subH))
	return nil
}

func sysEventPublish(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	obj, _, err := t.Handles.Get(h)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	ipc, ok := object.AsEventIpc(obj)
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}

	evt := object.Event{
		Type:     uint32(tf.Arg(1)),
		Priority: uint8(tf.Arg(2)),
		GroupID:  uint32(tf.Arg(3)),
		Data:     bufAt(uintptr(tf.Arg(4)), uintptr(tf.Arg(5))),
	}
	if perr := ipc.Publish(evt); perr != nil {
		tf.SetReturnValue(errToReturn(perr))
		return nil
	}
	tf.SetReturnValue(0)
	return nil
}

func sysEventReceive(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	h := uint32(tf.Arg(0))
	block := tf.Arg(1) != 0

	obj, _, err := t.Handles.Get(h)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	ipc, ok := object.AsEventIpc(obj)
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}

	evt, rerr := ipc.Receive(block)
	if rerr != nil {
		if rerr == object.ErrInvalidState {
			tf.SetReturnValue(errAgain)
			return nil
		}
		tf.SetReturnValue(errToReturn(rerr))
		return nil
	}
	tf.SetReturnValue(uint64(evt.Type))
	return nil
}

func errToReturn(err *kernel.Error) uint64 {
	switch err {
	case object.ErrPeerClosed:
		return errPipe
	case object.ErrChannelFull:
		return errAgain
	case object.ErrInvalidState:
		return errInval
	case object.ErrNotSupported:
		return errInval
	case handle.ErrInvalidHandle:
		return errBadF
	default:
		return errInval
	}
}
