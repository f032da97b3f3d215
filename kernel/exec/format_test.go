package exec

import (
	"encoding/binary"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name  string
		image []byte
		want  Format
	}{
		{"elf magic", []byte{0x7f, 'E', 'L', 'F', 0, 0}, FormatELF64},
		{"wasm magic", []byte{0x00, 'a', 's', 'm', 1, 0, 0, 0}, FormatWASM},
		{"unrecognized falls back to flat", []byte{0x01, 0x02, 0x03}, FormatFlat},
		{"empty falls back to flat", []byte{}, FormatFlat},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DetectFormat(c.image); got != c.want {
				t.Errorf("DetectFormat() = %v, want %v", got, c.want)
			}
		})
	}
}

// buildELF64Bytes assembles a minimal, well-formed ELF64 image with a
// single PT_LOAD segment containing payload, laid out field-for-field like
// the real ELF64 file/program header formats (which is also what
// elf64Header/elf64ProgramHeader's unsafe.Pointer overlay assumes).
func buildELF64Bytes(entry uint64, vaddr uint64, flags uint32, payload []byte) []byte {
	const (
		headerSize = 64
		phOff      = 64
		phSize     = 56
	)
	dataOff := phOff + phSize

	buf := make([]byte, dataOff+len(payload))
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'

	le := binary.LittleEndian
	le.PutUint64(buf[24:], entry)  // e_entry
	le.PutUint64(buf[32:], phOff)  // e_phoff
	le.PutUint16(buf[54:], phSize) // e_phentsize
	le.PutUint16(buf[56:], 1)      // e_phnum

	ph := buf[phOff:]
	le.PutUint32(ph[0:], ptLoad)         // p_type
	le.PutUint32(ph[4:], flags)          // p_flags
	le.PutUint64(ph[8:], uint64(dataOff))// p_offset
	le.PutUint64(ph[16:], vaddr)         // p_vaddr
	le.PutUint64(ph[32:], uint64(len(payload))) // p_filesz
	le.PutUint64(ph[40:], uint64(len(payload)+0x1000)) // p_memsz (bss padding)

	copy(buf[dataOff:], payload)
	return buf
}

func TestBuildImageELF64(t *testing.T) {
	payload := []byte("code-bytes")
	raw := buildELF64Bytes(0x401000, 0x400000, pfExecutable, payload)

	img, err := BuildImage(raw)
	if err != nil {
		t.Fatalf("BuildImage failed: %v", err)
	}
	if img.Format != FormatELF64 {
		t.Fatalf("Format = %v, want FormatELF64", img.Format)
	}
	if img.Entry != 0x401000 {
		t.Errorf("Entry = %x, want 0x401000", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.VAddr != 0x400000 {
		t.Errorf("segment VAddr = %x, want 0x400000", seg.VAddr)
	}
	if string(seg.Data) != "code-bytes" {
		t.Errorf("segment Data = %q, want %q", seg.Data, "code-bytes")
	}
	if !seg.Executable || seg.Writable {
		t.Errorf("expected segment to be executable-only, got Writable=%v Executable=%v", seg.Writable, seg.Executable)
	}
}

func TestBuildImageELF64TruncatedHeader(t *testing.T) {
	if _, err := BuildImage([]byte{0x7f, 'E', 'L', 'F'}); err != errTruncatedELF {
		t.Errorf("BuildImage on a truncated header = %v, want errTruncatedELF", err)
	}
}

func TestBuildImageELF64NoLoadSegments(t *testing.T) {
	raw := buildELF64Bytes(0, 0, 0, nil)
	// Overwrite the single program header's type so it is not PT_LOAD.
	binary.LittleEndian.PutUint32(raw[64:], 99)

	if _, err := BuildImage(raw); err != errNoLoadSegment {
		t.Errorf("BuildImage with no PT_LOAD segments = %v, want errNoLoadSegment", err)
	}
}

func TestBuildImageWASM(t *testing.T) {
	raw := []byte{0x00, 'a', 's', 'm', 1, 0, 0, 0, 0xde, 0xad}
	img, err := BuildImage(raw)
	if err != nil {
		t.Fatalf("BuildImage failed: %v", err)
	}
	if img.Format != FormatWASM {
		t.Fatalf("Format = %v, want FormatWASM", img.Format)
	}
	if len(img.Segments) != 1 || string(img.Segments[0].Data) != string(raw) {
		t.Errorf("expected the WASM segment to carry the raw module bytes verbatim")
	}
}

func TestBuildImageFlat(t *testing.T) {
	raw := []byte{0x90, 0x90, 0xc3}
	img, err := BuildImage(raw)
	if err != nil {
		t.Fatalf("BuildImage failed: %v", err)
	}
	if img.Format != FormatFlat {
		t.Fatalf("Format = %v, want FormatFlat", img.Format)
	}
	if img.Entry != flatLoadBase {
		t.Errorf("Entry = %x, want flatLoadBase %x", img.Entry, flatLoadBase)
	}
	seg := img.Segments[0]
	if !seg.Writable || !seg.Executable {
		t.Error("expected a flat image's single segment to be RWX")
	}
	if string(seg.Data) != string(raw) {
		t.Errorf("expected flat image to carry the raw bytes verbatim")
	}
}
