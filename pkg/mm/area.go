package mm

import "fmt"

// MapPermission is the permission set of a map area. The bits line up with
// the corresponding PTEFlags.
type MapPermission uint8

const (
	PermR = MapPermission(FlagR)
	PermW = MapPermission(FlagW)
	PermX = MapPermission(FlagX)
	PermU = MapPermission(FlagU)
)

func (p MapPermission) String() string { return PTEFlags(p).String()[1:] }

// AreaKind records why an area exists. Only AreaMmap areas may be removed by
// munmap.
type AreaKind uint8

const (
	AreaSegment AreaKind = iota
	AreaStack
	AreaHeap
	AreaMmap
)

func (k AreaKind) String() string {
	switch k {
	case AreaSegment:
		return "segment"
	case AreaStack:
		return "stack"
	case AreaHeap:
		return "heap"
	case AreaMmap:
		return "mmap"
	default:
		return "unknown"
	}
}

// MapArea is a framed virtual page range. It owns the frames that back it.
type MapArea struct {
	rng    VPNRange
	perm   MapPermission
	kind   AreaKind
	frames map[VirtPageNum]PhysPageNum
}

func newMapArea(rng VPNRange, perm MapPermission, kind AreaKind) *MapArea {
	return &MapArea{
		rng:    rng,
		perm:   perm,
		kind:   kind,
		frames: make(map[VirtPageNum]PhysPageNum, rng.Len()),
	}
}

// Range returns the pages covered by the area.
func (a *MapArea) Range() VPNRange { return a.rng }

// Perm returns the area permissions.
func (a *MapArea) Perm() MapPermission { return a.perm }

// Kind returns the area kind.
func (a *MapArea) Kind() AreaKind { return a.kind }

func (a *MapArea) mapOne(pt *PageTable, fa *FrameAllocator, vpn VirtPageNum) error {
	ppn, err := fa.Alloc()
	if err != nil {
		return err
	}
	a.frames[vpn] = ppn
	pt.Map(vpn, ppn, PTEFlags(a.perm))
	return nil
}

func (a *MapArea) unmapOne(pt *PageTable, fa *FrameAllocator, vpn VirtPageNum) {
	ppn, ok := a.frames[vpn]
	if !ok {
		panic(fmt.Sprintf("area %v: %v has no frame", a.rng, vpn.Addr()))
	}
	delete(a.frames, vpn)
	pt.Unmap(vpn)
	fa.Dealloc(ppn)
}

// mapRange backs [start, end) with fresh frames. On failure every page mapped
// by this call is released again.
func (a *MapArea) mapRange(pt *PageTable, fa *FrameAllocator, start, end VirtPageNum) error {
	for vpn := start; vpn < end; vpn++ {
		if err := a.mapOne(pt, fa, vpn); err != nil {
			for undo := start; undo < vpn; undo++ {
				a.unmapOne(pt, fa, undo)
			}
			return err
		}
	}
	return nil
}

func (a *MapArea) unmapRange(pt *PageTable, fa *FrameAllocator, start, end VirtPageNum) {
	for vpn := start; vpn < end; vpn++ {
		a.unmapOne(pt, fa, vpn)
	}
}

// AreaInfo describes one area of a memory set.
type AreaInfo struct {
	Start VirtAddr
	End   VirtAddr
	Perm  MapPermission
	Kind  AreaKind
}
