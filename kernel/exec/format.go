package exec

import (
	"unsafe"

	"github.com/petitstrawberry/scarlet/kernel"
)

// Format identifies the executable image format execute_binary detected.
type Format uint8

const (
	// FormatFlat is a raw binary image with no header: it is mapped
	// verbatim at a fixed load address and entered at its first byte.
	// It is the fallback format when no recognized magic is present.
	FormatFlat Format = iota

	// FormatELF64 is a little-endian 64-bit ELF executable.
	FormatELF64

	// FormatWASM is a WebAssembly module. Its image carries the module's
	// raw bytes as a single segment; nothing in the kernel interprets
	// the bytecode.
	FormatWASM
)

// flatLoadBase is where a FormatFlat image is mapped.
const flatLoadBase = uint64(0x0000000000400000)

// Segment is one contiguous, page-aligned extent of an executable image
// that the executor maps into the target address space.
type Segment struct {
	VAddr      uint64
	Data       []byte
	MemSize    uint64
	Writable   bool
	Executable bool
}

// Image is the scratch representation execute_binary builds before
// committing it into a task's address space.
type Image struct {
	Format   Format
	Entry    uint64
	Segments []Segment
}

var (
	errTruncatedELF  = &kernel.Error{Module: "exec", Message: "ELF image is truncated or malformed"}
	errNoLoadSegment = &kernel.Error{Module: "exec", Message: "ELF image has no loadable segments"}
)

// DetectFormat sniffs image's magic bytes.
func DetectFormat(image []byte) Format {
	switch {
	case len(image) >= 4 && image[0] == 0x7f && image[1] == 'E' && image[2] == 'L' && image[3] == 'F':
		return FormatELF64
	case len(image) >= 4 && image[0] == 0x00 && image[1] == 'a' && image[2] == 's' && image[3] == 'm':
		return FormatWASM
	default:
		return FormatFlat
	}
}

// elf64Header mirrors the on-disk ELF64 file header. Field layout matches
// the spec exactly for a little-endian target, so it can be read directly
// via a pointer overlay the same way multiboot reads bootloader tags.
type elf64Header struct {
	ident     [16]byte
	etype     uint16
	machine   uint16
	version   uint32
	entry     uint64
	phoff     uint64
	shoff     uint64
	flags     uint32
	ehsize    uint16
	phentsize uint16
	phnum     uint16
	shentsize uint16
	shnum     uint16
	shstrndx  uint16
}

// elf64ProgramHeader mirrors an ELF64 program header table entry.
type elf64ProgramHeader struct {
	ptype  uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	paddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

const (
	ptLoad        = uint32(1)
	pfExecutable  = uint32(1)
	pfWritable    = uint32(2)
	elf64HeaderSz = 64
	phEntrySize   = 56
)

// buildELF64Image parses an in-memory ELF64 executable and returns the
// loadable segments and entry point. It does not touch any task or address
// space state; the result is pure data, ready to be installed by the
// caller once every other pre-flight check has also succeeded.
func buildELF64Image(data []byte) (Image, *kernel.Error) {
	if len(data) < elf64HeaderSz {
		return Image{}, errTruncatedELF
	}

	hdr := (*elf64Header)(unsafe.Pointer(&data[0]))
	if int(hdr.phoff)+int(hdr.phnum)*phEntrySize > len(data) {
		return Image{}, errTruncatedELF
	}

	img := Image{Format: FormatELF64, Entry: hdr.entry}
	for i := 0; i < int(hdr.phnum); i++ {
		phAddr := int(hdr.phoff) + i*phEntrySize
		ph := (*elf64ProgramHeader)(unsafe.Pointer(&data[phAddr]))
		if ph.ptype != ptLoad {
			continue
		}
		if int(ph.offset)+int(ph.filesz) > len(data) {
			return Image{}, errTruncatedELF
		}

		img.Segments = append(img.Segments, Segment{
			VAddr:      ph.vaddr,
			Data:       data[ph.offset : ph.offset+ph.filesz],
			MemSize:    ph.memsz,
			Writable:   ph.flags&pfWritable != 0,
			Executable: ph.flags&pfExecutable != 0,
		})
	}

	if len(img.Segments) == 0 {
		return Image{}, errNoLoadSegment
	}
	return img, nil
}

// buildFlatImage wraps a headerless binary as a single RWX segment mapped
// at flatLoadBase.
func buildFlatImage(data []byte) Image {
	return Image{
		Format: FormatFlat,
		Entry:  flatLoadBase,
		Segments: []Segment{{
			VAddr:      flatLoadBase,
			Data:       data,
			MemSize:    uint64(len(data)),
			Writable:   true,
			Executable: true,
		}},
	}
}

// buildWASMImage wraps a WebAssembly module's raw bytes in a single
// segment; Entry is left zero and the bytecode is not interpreted.
func buildWASMImage(data []byte) Image {
	return Image{Format: FormatWASM, Segments: []Segment{{Data: data, MemSize: uint64(len(data))}}}
}

// BuildImage detects image's format and returns its scratch representation.
func BuildImage(image []byte) (Image, *kernel.Error) {
	switch DetectFormat(image) {
	case FormatELF64:
		return buildELF64Image(image)
	case FormatWASM:
		return buildWASMImage(image), nil
	default:
		return buildFlatImage(image), nil
	}
}
