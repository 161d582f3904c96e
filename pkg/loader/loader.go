// Package loader keeps the named program images the kernel can exec or spawn
// and turns an image into a fresh address space.
package loader

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"sort"
	"sync"

	"kernos/pkg/mm"
)

// Loader errors.
var (
	ErrImageNotFound = errors.New("image not found")
	ErrBadImage      = errors.New("malformed image")
)

// Segment is one loadable piece of an image.
type Segment struct {
	// Vaddr is where the segment starts in the user address space.
	Vaddr uint64
	// Data is copied to Vaddr; the rest of MemSize is zero filled.
	Data []byte
	// MemSize is the size of the segment in memory.
	MemSize uint64
	// Perm is the segment permission without PermU, which is always added.
	Perm mm.MapPermission
}

// Image is a program that can be loaded into an address space.
type Image struct {
	Name     string
	Entry    uint64
	Segments []Segment
}

// ParseELF builds an image from the PT_LOAD program headers of an ELF file.
func ParseELF(name string, data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	defer f.Close()

	img := &Image{Name: name, Entry: f.Entry}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("%w: segment at %#x has filesz > memsz", ErrBadImage, p.Vaddr)
		}
		buf := make([]byte, p.Filesz)
		if _, err := p.ReadAt(buf, 0); err != nil && p.Filesz > 0 {
			return nil, fmt.Errorf("%w: segment at %#x: %v", ErrBadImage, p.Vaddr, err)
		}
		var perm mm.MapPermission
		if p.Flags&elf.PF_R != 0 {
			perm |= mm.PermR
		}
		if p.Flags&elf.PF_W != 0 {
			perm |= mm.PermW
		}
		if p.Flags&elf.PF_X != 0 {
			perm |= mm.PermX
		}
		img.Segments = append(img.Segments, Segment{
			Vaddr:   p.Vaddr,
			Data:    buf,
			MemSize: p.Memsz,
			Perm:    perm,
		})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", ErrBadImage)
	}
	return img, nil
}

// Registry maps program names to images.
type Registry struct {
	mu     sync.RWMutex
	images map[string]*Image
}

// NewRegistry creates a registry holding the given images.
func NewRegistry(images ...*Image) *Registry {
	r := &Registry{images: make(map[string]*Image)}
	for _, img := range images {
		r.Register(img)
	}
	return r
}

// Register adds or replaces an image.
func (r *Registry) Register(img *Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[img.Name] = img
}

// RegisterELF parses data as an ELF file and registers it under name.
func (r *Registry) RegisterELF(name string, data []byte) error {
	img, err := ParseELF(name, data)
	if err != nil {
		return err
	}
	r.Register(img)
	return nil
}

// Lookup returns the image registered under name.
func (r *Registry) Lookup(name string) (*Image, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.images[name]
	return img, ok
}

// Names lists the registered program names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.images))
	for n := range r.images {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Layout describes where Build placed the user stack and heap.
type Layout struct {
	Entry      uint64
	UserSP     uint64
	HeapBottom uint64
}

// Build creates an address space for img: its segments, a guard page, a user
// stack of stackPages pages and an empty heap area right above the stack.
func Build(img *Image, fa *mm.FrameAllocator, stackPages int) (*mm.MemorySet, Layout, error) {
	ms := mm.NewMemorySet(fa)
	var maxEnd mm.VirtAddr
	for _, seg := range img.Segments {
		start := mm.VirtAddr(seg.Vaddr)
		end := start + mm.VirtAddr(seg.MemSize)
		if uint64(len(seg.Data)) > seg.MemSize {
			ms.Recycle()
			return nil, Layout{}, fmt.Errorf("%w: %s segment at %v", ErrBadImage, img.Name, start)
		}
		// the area begins at the page boundary below Vaddr
		data := append(make([]byte, start.PageOffset()), seg.Data...)
		if err := ms.InsertFramedData(start, end, seg.Perm|mm.PermU, mm.AreaSegment, data); err != nil {
			ms.Recycle()
			return nil, Layout{}, fmt.Errorf("load %s: %w", img.Name, err)
		}
		if end > maxEnd {
			maxEnd = end
		}
	}

	stackBottom := maxEnd.Ceil().Addr() + mm.PageSize
	stackTop := stackBottom + mm.VirtAddr(stackPages*mm.PageSize)
	if err := ms.InsertFramed(stackBottom, stackTop, mm.PermR|mm.PermW|mm.PermU, mm.AreaStack); err != nil {
		ms.Recycle()
		return nil, Layout{}, fmt.Errorf("load %s: stack: %w", img.Name, err)
	}
	if err := ms.InsertFramed(stackTop, stackTop, mm.PermR|mm.PermW|mm.PermU, mm.AreaHeap); err != nil {
		ms.Recycle()
		return nil, Layout{}, fmt.Errorf("load %s: heap: %w", img.Name, err)
	}
	return ms, Layout{
		Entry:      img.Entry,
		UserSP:     uint64(stackTop),
		HeapBottom: uint64(stackTop),
	}, nil
}
