// Package linux implements a Linux/riscv64-shaped foreign ABI: it accepts
// the riscv64 Linux syscall numbering and argument convention, keeps a
// per-task foreign-file-descriptor table mapping small Linux fd numbers onto
// native kernel/handle.Table entries, and translates device ioctls onto
// native ControlOps commands (see ioctl.go).
package linux

import (
	"reflect"
	"unsafe"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/abi"
	"github.com/petitstrawberry/scarlet/kernel/exec"
	"github.com/petitstrawberry/scarlet/kernel/hal"
	"github.com/petitstrawberry/scarlet/kernel/ipc/pipe"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sched"
	"github.com/petitstrawberry/scarlet/kernel/sync"
	"github.com/petitstrawberry/scarlet/kernel/task"
	"github.com/petitstrawberry/scarlet/kernel/trap"
	"github.com/petitstrawberry/scarlet/kernel/vfs"

	ttydev "github.com/petitstrawberry/scarlet/device/tty"
)

// riscv64 Linux syscall numbers this module translates. Numbers not listed
// here fail with errNoSys, which HandleSyscall maps onto the Linux
// convention of returning -ENOSYS.
const (
	sysRead     = 63
	sysWrite    = 64
	sysClose    = 57
	sysIoctl    = 29
	sysOpenat   = 56
	sysClone    = 220
	sysExecve   = 221
	sysWait4    = 260
	sysExitGrp  = 94
	sysExit     = 93
	sysPipe2    = 59
)

const atFdcwd = ^uint64(100 - 1) // -100, the Linux AT_FDCWD sentinel

var rootFS = vfs.NewFS()

const (
	errNoSys  = ^uint64(38 - 1) // -ENOSYS
	errBadF   = ^uint64(9 - 1)  // -EBADF
	errNoMem  = ^uint64(12 - 1) // -ENOMEM
	errInval  = ^uint64(22 - 1) // -EINVAL
	errIO     = ^uint64(5 - 1)  // -EIO
	errChild  = ^uint64(10 - 1) // -ECHILD
)

// module implements abi.Module.
type module struct{}

func (module) Name() string { return "linux/riscv64" }

func init() {
	abi.Register(module{})
}

// state is the per-task foreign state this ABI module keeps: the
// foreign-fd table mapping a Linux fd number onto a native handle.Table
// index, as described by the original's riscv64 per-ABI process state.
type state struct {
	nextFd int32
	fds    map[int32]uint32
}

var (
	statesLock sync.Spinlock
	states     = map[uint64]*state{}
)

func getState(t *task.Task) *state {
	statesLock.Acquire()
	st, ok := states[t.ID]
	if !ok {
		st = &state{nextFd: 3, fds: map[int32]uint32{}}
		states[t.ID] = st
	}
	statesLock.Release()

	if _, ok := st.fds[1]; !ok {
		if tty := hal.ActiveTTY(); tty != nil {
			h, err := t.Handles.Insert(ttydev.NewHandle(tty))
			if err == nil {
				st.fds[1] = h
				st.fds[2] = h
			}
		}
	}
	return st
}

func (s *state) allocFd(native uint32) int32 {
	fd := s.nextFd
	s.nextFd++
	s.fds[fd] = native
	return fd
}

func (module) HandleSyscall(tf *trap.Trapframe) *kernel.Error {
	t := sched.Current()
	if t == nil {
		return &kernel.Error{Module: "abi/linux", Message: "syscall with no current task"}
	}
	st := getState(t)

	switch tf.Number() {
	case sysRead:
		return doRead(t, st, tf)
	case sysWrite:
		return doWrite(t, st, tf)
	case sysClose:
		return doClose(t, st, tf)
	case sysIoctl:
		return doIoctl(t, st, tf)
	case sysOpenat:
		return doOpenat(t, st, tf)
	case sysClone:
		return doClone(t, tf)
	case sysExecve:
		return doExecve(t, tf)
	case sysWait4:
		return doWait4(t, tf)
	case sysExit, sysExitGrp:
		return doExit(t, tf)
	case sysPipe2:
		return doPipe2(t, st, tf)
	default:
		tf.SetReturnValue(errNoSys)
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

func stringAt(addr uintptr, length uintptr) string {
	return string(bufAt(addr, length))
}

// cStringAt reads a NUL-terminated string, as the Linux path-argument
// convention requires (Linux has no explicit path length argument).
func cStringAt(addr uintptr, maxLen int) string {
	raw := bufAt(addr, uintptr(maxLen))
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

func doRead(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	native, ok := st.fds[int32(tf.Arg(0))]
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}
	obj, _, err := t.Handles.Get(native)
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
		tf.SetReturnValue(errIO)
		return nil
	}
	tf.SetReturnValue(uint64(n))
	return nil
}

func doWrite(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	native, ok := st.fds[int32(tf.Arg(0))]
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}
	obj, _, err := t.Handles.Get(native)
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
		tf.SetReturnValue(errIO)
		return nil
	}
	tf.SetReturnValue(uint64(n))
	return nil
}

func doClose(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	fd := int32(tf.Arg(0))
	native, ok := st.fds[fd]
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}
	delete(st.fds, fd)
	if err := t.Handles.Remove(native); err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	tf.SetReturnValue(0)
	return nil
}

func doOpenat(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	// dirfd (Arg(0)) is ignored: only AT_FDCWD-relative absolute paths are
	// supported by the in-memory vfs backing this snapshot.
	path := cStringAt(uintptr(tf.Arg(1)), 256)
	create := tf.Arg(2)&0100 != 0 // O_CREAT

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
	tf.SetReturnValue(uint64(st.allocFd(h)))
	return nil
}

func doIoctl(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	native, ok := st.fds[int32(tf.Arg(0))]
	if !ok {
		tf.SetReturnValue(errBadF)
		return nil
	}
	obj, _, err := t.Handles.Get(native)
	if err != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	ctrl, ok := object.AsControl(obj)
	if !ok {
		tf.SetReturnValue(errInval)
		return nil
	}

	ret, terr := translateIoctl(ctrl, tf.Arg(1), tf.Arg(2))
	if terr != nil {
		tf.SetReturnValue(errInval)
		return nil
	}
	tf.SetReturnValue(ret)
	return nil
}

func doClone(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	child, err := task.Clone(t)
	if err != nil {
		tf.SetReturnValue(errNoMem)
		return nil
	}
	tf.SetReturnValue(child.ID)
	return nil
}

func doExecve(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	path := cStringAt(uintptr(tf.Arg(0)), 256)
	f, ferr := rootFS.Open(path, false)
	if ferr != nil {
		tf.SetReturnValue(errBadF)
		return nil
	}
	size, _ := f.Size()
	image := make([]byte, size)
	_, _ = f.Read(image)

	if err := exec.Execute(t, tf, image, "linux/riscv64", false); err != nil {
		tf.SetReturnValue(errInval)
		return nil
	}
	return nil
}

func doWait4(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	code, err := task.Wait(t.ID, tf.Arg(0))
	if err != nil {
		tf.SetReturnValue(errChild)
		return nil
	}
	tf.SetReturnValue(uint64(uint32(code)) << 8)
	return nil
}

func doExit(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	task.Exit(t, int32(tf.Arg(0)))
	sched.Reschedule()
	return nil
}

func doPipe2(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	rd, wr, err := pipe.CreatePair(0)
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

	fds := bufAt(uintptr(tf.Arg(0)), 8)
	fdR, fdW := st.allocFd(rh), st.allocFd(wh)
	*(*int32)(unsafe.Pointer(&fds[0])) = fdR
	*(*int32)(unsafe.Pointer(&fds[4])) = fdW
	tf.SetReturnValue(0)
	return nil
}
