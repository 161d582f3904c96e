package loader

import (
	"encoding/binary"
	"errors"
	"testing"

	"kernos/pkg/mm"
)

// buildELF assembles a minimal little-endian ELF64 executable with a single
// PT_LOAD segment.
func buildELF(entry, vaddr uint64, flags uint32, payload []byte, memsz uint64) []byte {
	const ehsize, phentsize = 64, 56
	buf := make([]byte, ehsize+phentsize+len(payload))
	le := binary.LittleEndian

	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(buf[16:], 2)   // ET_EXEC
	le.PutUint16(buf[18:], 243) // EM_RISCV
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], entry)
	le.PutUint64(buf[32:], ehsize) // phoff
	le.PutUint16(buf[52:], ehsize)
	le.PutUint16(buf[54:], phentsize)
	le.PutUint16(buf[56:], 1)

	ph := buf[ehsize:]
	le.PutUint32(ph[0:], 1) // PT_LOAD
	le.PutUint32(ph[4:], flags)
	le.PutUint64(ph[8:], ehsize+phentsize)
	le.PutUint64(ph[16:], vaddr)
	le.PutUint64(ph[24:], vaddr)
	le.PutUint64(ph[32:], uint64(len(payload)))
	le.PutUint64(ph[40:], memsz)
	le.PutUint64(ph[48:], 0x1000)

	copy(buf[ehsize+phentsize:], payload)
	return buf
}

// TestParseELF tests extracting loadable segments from an ELF file.
func TestParseELF(t *testing.T) {
	data := buildELF(0x10040, 0x10000, 5, []byte("text"), 0x2000)

	img, err := ParseELF("prog", data)
	if err != nil {
		t.Fatalf("ParseELF() error = %v", err)
	}
	if img.Entry != 0x10040 {
		t.Errorf("Entry = %#x, want 0x10040", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.Vaddr != 0x10000 || seg.MemSize != 0x2000 || string(seg.Data) != "text" {
		t.Errorf("segment = %#x/%#x/%q, want 0x10000/0x2000/\"text\"", seg.Vaddr, seg.MemSize, seg.Data)
	}
	if seg.Perm != mm.PermR|mm.PermX {
		t.Errorf("Perm = %v, want %v", seg.Perm, mm.PermR|mm.PermX)
	}
}

// TestParseELFGarbage tests rejecting non-ELF input.
func TestParseELFGarbage(t *testing.T) {
	if _, err := ParseELF("junk", []byte("not an elf")); !errors.Is(err, ErrBadImage) {
		t.Errorf("ParseELF() error = %v, want %v", err, ErrBadImage)
	}
}

// TestRegistry tests registering and looking up images.
func TestRegistry(t *testing.T) {
	r := NewRegistry(&Image{Name: "init"})
	if err := r.RegisterELF("elf", buildELF(0x10000, 0x10000, 4, nil, 0x1000)); err != nil {
		t.Fatalf("RegisterELF() error = %v", err)
	}
	if _, ok := r.Lookup("init"); !ok {
		t.Error("Lookup(init) = false, want true")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup(missing) = true, want false")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "elf" || names[1] != "init" {
		t.Errorf("Names() = %v, want [elf init]", names)
	}
}

// TestBuildLayout tests the address space produced for an image.
func TestBuildLayout(t *testing.T) {
	fa := mm.NewFrameAllocator(mm.NewPhysMemory(32))
	img := &Image{
		Name:  "prog",
		Entry: 0x10010,
		Segments: []Segment{
			{Vaddr: 0x10010, Data: []byte("code"), MemSize: 0x10, Perm: mm.PermR | mm.PermX},
			{Vaddr: 0x12000, Data: []byte("data"), MemSize: 0x1800, Perm: mm.PermR | mm.PermW},
		},
	}

	ms, layout, err := Build(img, fa, 2)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	// segments end at 0x13800 -> guard page 0x14000 -> stack [0x15000, 0x17000)
	if layout.UserSP != 0x17000 || layout.HeapBottom != 0x17000 {
		t.Errorf("Layout = %+v, want UserSP and HeapBottom 0x17000", layout)
	}
	if layout.Entry != 0x10010 {
		t.Errorf("Entry = %#x, want 0x10010", layout.Entry)
	}

	code := make([]byte, 4)
	if err := ms.CopyIn(0x10010, code); err != nil || string(code) != "code" {
		t.Errorf("code = %q, %v, want %q", code, err, "code")
	}
	if _, ok := ms.Translate(0x14000); ok {
		t.Error("guard page is mapped")
	}
	if _, ok := ms.TranslateUser(mm.VirtAddr(layout.UserSP-8), true); !ok {
		t.Error("top of user stack is not writable")
	}
	if err := ms.CopyOut(0x10010, []byte("x")); err == nil {
		t.Error("text segment is writable from user copies")
	}
	if got := ms.MappedPages(); got != 5 {
		t.Errorf("MappedPages() = %d, want 5", got)
	}
}

// TestBuildNoMemory tests that a failed build releases its frames.
func TestBuildNoMemory(t *testing.T) {
	fa := mm.NewFrameAllocator(mm.NewPhysMemory(2))
	img := &Image{Name: "big", Segments: []Segment{{Vaddr: 0x10000, MemSize: 0x1000, Perm: mm.PermR}}}

	if _, _, err := Build(img, fa, 4); !errors.Is(err, mm.ErrNoMemory) {
		t.Fatalf("Build() error = %v, want %v", err, mm.ErrNoMemory)
	}
	if got := fa.InUse(); got != 0 {
		t.Errorf("InUse() = %d, want 0", got)
	}
}
