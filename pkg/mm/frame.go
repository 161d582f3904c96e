package mm

import (
	"errors"
	"fmt"
	"sync"
)

// Frame errors.
var (
	ErrNoMemory    = errors.New("out of physical frames")
	ErrBadPhysAddr = errors.New("physical address out of range")
)

// PhysMemory is the simulated physical memory: a contiguous array of frames.
type PhysMemory struct {
	data   []byte
	frames int
}

// NewPhysMemory allocates a memory of the given number of frames.
func NewPhysMemory(frames int) *PhysMemory {
	if frames <= 0 {
		panic("physmem: frame count must be positive")
	}
	return &PhysMemory{
		data:   make([]byte, frames*PageSize),
		frames: frames,
	}
}

// Frames returns the number of frames.
func (m *PhysMemory) Frames() int { return m.frames }

// Page returns the bytes of one frame.
func (m *PhysMemory) Page(ppn PhysPageNum) []byte {
	if int(ppn) >= m.frames {
		panic(fmt.Sprintf("physmem: frame %#x out of range", uint64(ppn)))
	}
	off := int(ppn) * PageSize
	return m.data[off : off+PageSize : off+PageSize]
}

// Write copies src to pa. The write must stay inside one frame.
func (m *PhysMemory) Write(pa PhysAddr, src []byte) error {
	if !m.inFrame(pa, len(src)) {
		return ErrBadPhysAddr
	}
	copy(m.data[pa:], src)
	return nil
}

// Read copies len(dst) bytes at pa into dst. The read must stay inside one
// frame.
func (m *PhysMemory) Read(pa PhysAddr, dst []byte) error {
	if !m.inFrame(pa, len(dst)) {
		return ErrBadPhysAddr
	}
	copy(dst, m.data[pa:])
	return nil
}

func (m *PhysMemory) inFrame(pa PhysAddr, n int) bool {
	if int(pa.Floor()) >= m.frames {
		return false
	}
	return pa.PageOffset()+uint64(n) <= PageSize
}

// FrameAllocator hands out zeroed frames of a PhysMemory. Freed frames are
// recycled before untouched ones.
type FrameAllocator struct {
	mem      *PhysMemory
	current  PhysPageNum
	end      PhysPageNum
	recycled []PhysPageNum
	inuse    map[PhysPageNum]bool
	mu       sync.Mutex
}

// NewFrameAllocator creates an allocator owning every frame of mem.
func NewFrameAllocator(mem *PhysMemory) *FrameAllocator {
	return &FrameAllocator{
		mem:   mem,
		end:   PhysPageNum(mem.Frames()),
		inuse: make(map[PhysPageNum]bool),
	}
}

// Memory returns the physical memory the allocator manages.
func (a *FrameAllocator) Memory() *PhysMemory { return a.mem }

// Alloc returns a zeroed frame.
func (a *FrameAllocator) Alloc() (PhysPageNum, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ppn PhysPageNum
	if n := len(a.recycled); n > 0 {
		ppn = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else if a.current < a.end {
		ppn = a.current
		a.current++
	} else {
		return 0, ErrNoMemory
	}
	a.inuse[ppn] = true
	clear(a.mem.Page(ppn))
	return ppn, nil
}

// Dealloc returns a frame to the pool. Freeing a frame twice is a kernel bug.
func (a *FrameAllocator) Dealloc(ppn PhysPageNum) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.inuse[ppn] {
		panic(fmt.Sprintf("frame %#x has not been allocated", uint64(ppn)))
	}
	delete(a.inuse, ppn)
	a.recycled = append(a.recycled, ppn)
}

// Free returns the number of frames that can still be allocated.
func (a *FrameAllocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.end-a.current) + len(a.recycled)
}

// InUse returns the number of allocated frames.
func (a *FrameAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inuse)
}
