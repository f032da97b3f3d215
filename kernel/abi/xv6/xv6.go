// Package xv6 implements an xv6/riscv64-shaped foreign ABI: xv6's own
// compact syscall numbering (include/syscall.h) and its own small
// fixed-size per-process fd table (NOFILE-style), translated onto the
// native object/handle/task primitives exactly like kernel/abi/linux does
// for the Linux numbering.
package xv6

import (
	"reflect"
	"unsafe"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/abi"
	"github.com/petitstrawberry/scarlet/kernel/exec"
	"github.com/petitstrawberry/scarlet/kernel/ipc/pipe"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sched"
	"github.com/petitstrawberry/scarlet/kernel/sync"
	"github.com/petitstrawberry/scarlet/kernel/task"
	"github.com/petitstrawberry/scarlet/kernel/trap"
	"github.com/petitstrawberry/scarlet/kernel/vfs"
)

// xv6's syscall numbers, straight out of its include/syscall.h.
const (
	sysFork   = 1
	sysExit   = 2
	sysWait   = 3
	sysPipe   = 4
	sysRead   = 5
	sysExec   = 7
	sysDup    = 10
	sysGetpid = 11
	sysOpen   = 15
	sysWrite  = 16
	sysClose  = 21
)

// maxOpenFiles mirrors xv6's NOFILE: a process may have at most this many
// files open at once.
const maxOpenFiles = 16

var rootFS = vfs.NewFS()

// xv6 return-value convention: -1 signals failure, with no separate errno
// channel (the syscall that failed is expected to be retried or the process
// killed by its own userland, matching the original's minimalism).
const failure = ^uint64(0)

type module struct{}

func (module) Name() string { return "xv6/riscv64" }

func init() {
	abi.Register(module{})
}

// state is the per-task xv6 file table: a fixed NOFILE-sized array of
// native handle numbers, slots not in use are unoccupied.
type state struct {
	fds      [maxOpenFiles]uint32
	occupied [maxOpenFiles]bool
}

var (
	statesLock sync.Spinlock
	states     = map[uint64]*state{}
)

func getState(t *task.Task) *state {
	statesLock.Acquire()
	defer statesLock.Release()
	st, ok := states[t.ID]
	if !ok {
		st = &state{}
		states[t.ID] = st
	}
	return st
}

func (s *state) alloc(native uint32) (int, bool) {
	for i := 0; i < maxOpenFiles; i++ {
		if !s.occupied[i] {
			s.occupied[i] = true
			s.fds[i] = native
			return i, true
		}
	}
	return 0, false
}

func (module) HandleSyscall(tf *trap.Trapframe) *kernel.Error {
	t := sched.Current()
	if t == nil {
		return &kernel.Error{Module: "abi/xv6", Message: "syscall with no current task"}
	}
	st := getState(t)

	switch tf.Number() {
	case sysFork:
		return doFork(t, tf)
	case sysExit:
		return doExit(t, tf)
	case sysWait:
		return doWait(t, tf)
	case sysPipe:
		return doPipe(t, st, tf)
	case sysRead:
		return doRead(t, st, tf)
	case sysExec:
		return doExec(t, tf)
	case sysDup:
		return doDup(t, st, tf)
	case sysGetpid:
		tf.SetReturnValue(t.ID)
		return nil
	case sysOpen:
		return doOpen(t, st, tf)
	case sysWrite:
		return doWrite(t, st, tf)
	case sysClose:
		return doClose(t, st, tf)
	default:
		tf.SetReturnValue(failure)
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

func cStringAt(addr uintptr, maxLen int) string {
	raw := bufAt(addr, uintptr(maxLen))
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

func doFork(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	child, err := task.Clone(t)
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	tf.SetReturnValue(child.ID)
	return nil
}

func doExit(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	task.Exit(t, int32(tf.Arg(0)))
	sched.Reschedule()
	return nil
}

func doWait(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	for _, cid := range t.Children {
		code, err := task.Wait(t.ID, cid)
		if err == nil {
			tf.SetReturnValue(uint64(uint32(code)))
			return nil
		}
	}
	tf.SetReturnValue(failure)
	return nil
}

func doPipe(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	rd, wr, err := pipe.CreatePair(0)
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	rh, err := t.Handles.Insert(rd)
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	wh, err := t.Handles.Insert(wr)
	if err != nil {
		_ = t.Handles.Remove(rh)
		tf.SetReturnValue(failure)
		return nil
	}

	fdR, ok1 := st.alloc(rh)
	fdW, ok2 := st.alloc(wh)
	if !ok1 || !ok2 {
		tf.SetReturnValue(failure)
		return nil
	}

	out := bufAt(uintptr(tf.Arg(0)), 8)
	*(*int32)(unsafe.Pointer(&out[0])) = int32(fdR)
	*(*int32)(unsafe.Pointer(&out[4])) = int32(fdW)
	tf.SetReturnValue(0)
	return nil
}

func doRead(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	fd := int(tf.Arg(0))
	if fd < 0 || fd >= maxOpenFiles || !st.occupied[fd] {
		tf.SetReturnValue(failure)
		return nil
	}
	obj, _, err := t.Handles.Get(st.fds[fd])
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	stream, ok := object.AsStream(obj)
	if !ok {
		tf.SetReturnValue(failure)
		return nil
	}
	n, serr := stream.Read(bufAt(uintptr(tf.Arg(1)), uintptr(tf.Arg(2))))
	if serr != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	tf.SetReturnValue(uint64(n))
	return nil
}

func doWrite(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	fd := int(tf.Arg(0))
	if fd < 0 || fd >= maxOpenFiles || !st.occupied[fd] {
		tf.SetReturnValue(failure)
		return nil
	}
	obj, _, err := t.Handles.Get(st.fds[fd])
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	stream, ok := object.AsStream(obj)
	if !ok {
		tf.SetReturnValue(failure)
		return nil
	}
	n, serr := stream.Write(bufAt(uintptr(tf.Arg(1)), uintptr(tf.Arg(2))))
	if serr != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	tf.SetReturnValue(uint64(n))
	return nil
}

func doDup(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	fd := int(tf.Arg(0))
	if fd < 0 || fd >= maxOpenFiles || !st.occupied[fd] {
		tf.SetReturnValue(failure)
		return nil
	}
	newH, err := t.Handles.Duplicate(st.fds[fd])
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	newFd, ok := st.alloc(newH)
	if !ok {
		_ = t.Handles.Remove(newH)
		tf.SetReturnValue(failure)
		return nil
	}
	tf.SetReturnValue(uint64(newFd))
	return nil
}

func doOpen(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	path := cStringAt(uintptr(tf.Arg(0)), 256)
	const oCreate = 0x200 // xv6's O_CREATE
	create := tf.Arg(1)&oCreate != 0

	f, err := rootFS.Open(path, create)
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	h, err := t.Handles.Insert(f)
	if err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	fd, ok := st.alloc(h)
	if !ok {
		_ = t.Handles.Remove(h)
		tf.SetReturnValue(failure)
		return nil
	}
	tf.SetReturnValue(uint64(fd))
	return nil
}

func doClose(t *task.Task, st *state, tf *trap.Trapframe) *kernel.Error {
	fd := int(tf.Arg(0))
	if fd < 0 || fd >= maxOpenFiles || !st.occupied[fd] {
		tf.SetReturnValue(failure)
		return nil
	}
	native := st.fds[fd]
	st.occupied[fd] = false
	if err := t.Handles.Remove(native); err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	tf.SetReturnValue(0)
	return nil
}

func doExec(t *task.Task, tf *trap.Trapframe) *kernel.Error {
	path := cStringAt(uintptr(tf.Arg(0)), 256)
	f, ferr := rootFS.Open(path, false)
	if ferr != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	size, _ := f.Size()
	image := make([]byte, size)
	_, _ = f.Read(image)

	if err := exec.Execute(t, tf, image, "xv6/riscv64", false); err != nil {
		tf.SetReturnValue(failure)
		return nil
	}
	return nil
}
