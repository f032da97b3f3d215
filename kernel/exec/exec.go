// Package exec implements the transparent executor: execute_binary detects
// an image's format, selects (or confirms) the task's ABI, builds the new
// program image into a scratch address space, and only then commits it into
// the live task. Because the new image is always built into a brand new
// AddressSpace rather than mutated in place, a failure at any point before
// the final commit step leaves the calling task completely untouched: there
// is nothing to roll back beyond discarding the scratch address space.
package exec

import (
	"unsafe"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/abi"
	"github.com/petitstrawberry/scarlet/kernel/gate"
	"github.com/petitstrawberry/scarlet/kernel/mm"
	"github.com/petitstrawberry/scarlet/kernel/mm/vmm"
	"github.com/petitstrawberry/scarlet/kernel/task"
	"github.com/petitstrawberry/scarlet/kernel/trap"
)

var (
	// ErrAbiMismatch is returned when strict is true and the image's
	// requested ABI differs from the task's current ABI.
	ErrAbiMismatch = &kernel.Error{Module: "exec", Message: "image ABI does not match task's current ABI (strict mode)"}
)

// userStackTop bounds the per-task stack region from above, one page below
// the end of the user-mappable range.
const userStackTop = uintptr(0x00006ffffffff000)

// defaultStackPages is the number of pages reserved for a new image's
// initial user stack.
const defaultStackPages = 16

// Execute implements execute_binary. path is resolved and read by the
// caller's ABI-specific open path; image is the raw file contents. abiName
// selects the ABI the new image should run under; an empty abiName keeps
// the task's current ABI. If strict is true, a mismatch between abiName and
// the task's current ABI is rejected with ErrAbiMismatch instead of
// switching the task onto a new ABI mid-flight.
func Execute(t *task.Task, tf *trap.Trapframe, image []byte, abiName string, strict bool) *kernel.Error {
	// Step 1: select/confirm the ABI. No task state is touched yet.
	mod, err := resolveAbi(t, abiName, strict)
	if err != nil {
		return err
	}

	// Step 2: detect the format and build the new image's segment list
	// into a scratch struct (pure data, no kernel state).
	img, err := BuildImage(image)
	if err != nil {
		return err
	}

	// Step 3: build the new image into a freshly allocated scratch
	// address space. The task's own address space is never touched
	// during this step.
	newSpace, err := buildAddressSpace(img)
	if err != nil {
		return err
	}

	// Step 4: commit. Everything beyond this point cannot fail, so the
	// task is guaranteed to reach a fully-updated, consistent state.
	oldSpace := t.Space
	t.Space = newSpace
	t.Abi = mod
	t.Brk = highWaterMark(img)
	t.ImageSize = imageSize(img)
	t.Handles.RemoveCloseOnExec()

	if tf != nil {
		*tf.Registers = gate.Registers{}
		tf.SetPC(img.Entry)
		tf.SetSP(uint64(userStackTop))
	}

	vmm.FreeAddressSpace(oldSpace)
	return nil
}

func resolveAbi(t *task.Task, abiName string, strict bool) (abi.Module, *kernel.Error) {
	if abiName == "" {
		if t.Abi == nil {
			return nil, abi.ErrUnknownAbi
		}
		return t.Abi, nil
	}

	mod, ok := abi.Lookup(abiName)
	if !ok {
		return nil, abi.ErrUnknownAbi
	}
	if strict && t.Abi != nil && t.Abi.Name() != mod.Name() {
		return nil, ErrAbiMismatch
	}
	return mod, nil
}

// buildAddressSpace maps every segment of img into a new AddressSpace and
// a fresh user stack, rolling the new AddressSpace back on any failure.
func buildAddressSpace(img Image) (*vmm.AddressSpace, *kernel.Error) {
	space, err := vmm.AllocateAddressSpace()
	if err != nil {
		return nil, err
	}

	for _, seg := range img.Segments {
		if err := mapSegment(space, seg); err != nil {
			vmm.FreeAddressSpace(space)
			return nil, err
		}
	}

	if img.Format != FormatWASM {
		if err := mapStack(space); err != nil {
			vmm.FreeAddressSpace(space)
			return nil, err
		}
	}

	return space, nil
}

func segmentFlags(seg Segment) vmm.PageTableEntryFlag {
	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if seg.Writable {
		flags |= vmm.FlagRW
	}
	if !seg.Executable {
		flags |= vmm.FlagNoExecute
	}
	return flags
}

// mapSegment allocates and maps one page at a time rather than assuming a
// contiguous physical frame run, since the frame allocator gives no such
// guarantee across independent allocation calls.
func mapSegment(space *vmm.AddressSpace, seg Segment) *kernel.Error {
	flags := segmentFlags(seg)
	base := mm.PageFromAddress(uintptr(seg.VAddr))
	pageCount := (seg.MemSize + uint64(mm.PageSize) - 1) / uint64(mm.PageSize)

	for i := uint64(0); i < pageCount; i++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return err
		}

		tmp, err := vmm.MapTemporary(frame)
		if err != nil {
			return err
		}
		kernel.Memset(tmp.Address(), 0, mm.PageSize)

		pageStart := i * uint64(mm.PageSize)
		if pageStart < uint64(len(seg.Data)) {
			pageEnd := pageStart + uint64(mm.PageSize)
			if pageEnd > uint64(len(seg.Data)) {
				pageEnd = uint64(len(seg.Data))
			}
			src := uintptr(unsafe.Pointer(&seg.Data[pageStart]))
			kernel.Memcopy(src, tmp.Address(), uintptr(pageEnd-pageStart))
		}
		_ = vmm.Unmap(tmp)

		if err := space.MapRegion((base + mm.Page(i)).Address(), frame, 1, flags); err != nil {
			return err
		}
	}
	return nil
}

func mapStack(space *vmm.AddressSpace) *kernel.Error {
	stackBase := userStackTop - uintptr(defaultStackPages)*mm.PageSize
	for i := 0; i < defaultStackPages; i++ {
		frame, err := mm.AllocFrame()
		if err != nil {
			return err
		}
		vaddr := stackBase + uintptr(i)*mm.PageSize
		if err := space.MapRegion(vaddr, frame, 1, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); err != nil {
			return err
		}
	}
	return nil
}

func highWaterMark(img Image) uintptr {
	var max uint64
	for _, seg := range img.Segments {
		if end := seg.VAddr + seg.MemSize; end > max {
			max = end
		}
	}
	return uintptr(max)
}

func imageSize(img Image) uintptr {
	var total uint64
	for _, seg := range img.Segments {
		total += seg.MemSize
	}
	return uintptr(total)
}
