package mm

import (
	"errors"
	"fmt"
	"sort"
)

// Address space errors.
var (
	ErrOverlap   = errors.New("range overlaps a mapped area")
	ErrNotMapped = errors.New("range is not exactly mapped")
	ErrBadRange  = errors.New("invalid address range")
	ErrNoArea    = errors.New("no area starts at page")
)

// MemorySet is the address space of one task.
type MemorySet struct {
	frames *FrameAllocator
	pt     *PageTable
	// sorted by start page, pairwise disjoint
	areas []*MapArea
}

// NewMemorySet creates an empty address space drawing frames from fa.
func NewMemorySet(fa *FrameAllocator) *MemorySet {
	return &MemorySet{
		frames: fa,
		pt:     NewPageTable(),
	}
}

// Token returns the page table token of the address space.
func (ms *MemorySet) Token() uint64 { return ms.pt.Token() }

// PageTable exposes the translation structure.
func (ms *MemorySet) PageTable() *PageTable { return ms.pt }

// Memory returns the physical memory behind the address space.
func (ms *MemorySet) Memory() *PhysMemory { return ms.frames.Memory() }

// Translate resolves va through the page table.
func (ms *MemorySet) Translate(va VirtAddr) (PhysAddr, bool) {
	return ms.pt.Translate(va)
}

// Overlaps reports whether any area shares a page with r.
func (ms *MemorySet) Overlaps(r VPNRange) bool {
	for _, a := range ms.areas {
		if a.rng.Overlaps(r) {
			return true
		}
	}
	return false
}

// InsertFramed maps [start, end) rounded out to whole pages with zeroed
// frames. Empty ranges are allowed and create an area that can later grow.
func (ms *MemorySet) InsertFramed(start, end VirtAddr, perm MapPermission, kind AreaKind) error {
	return ms.InsertFramedData(start, end, perm, kind, nil)
}

// InsertFramedData is InsertFramed followed by copying data to the start of
// the area.
func (ms *MemorySet) InsertFramedData(start, end VirtAddr, perm MapPermission, kind AreaKind, data []byte) error {
	if end < start || end > MaxVA {
		return ErrBadRange
	}
	rng := RangeOf(start, end)
	if uint64(len(data)) > uint64(rng.Len())*PageSize {
		return fmt.Errorf("%w: %d bytes of data for %d pages", ErrBadRange, len(data), rng.Len())
	}
	if ms.Overlaps(rng) || ms.startTaken(rng.Start) {
		return ErrOverlap
	}
	if ms.frames.Free() < rng.Len() {
		return ErrNoMemory
	}
	area := newMapArea(rng, perm, kind)
	if err := area.mapRange(ms.pt, ms.frames, rng.Start, rng.End); err != nil {
		return err
	}
	ms.copyIntoArea(area, data)
	ms.insertArea(area)
	return nil
}

// startTaken catches empty areas, which never overlap anything but still own
// their start page.
func (ms *MemorySet) startTaken(vpn VirtPageNum) bool {
	return ms.find(vpn) != nil
}

func (ms *MemorySet) copyIntoArea(a *MapArea, data []byte) {
	mem := ms.frames.Memory()
	for vpn := a.rng.Start; len(data) > 0; vpn++ {
		n := copy(mem.Page(a.frames[vpn]), data)
		data = data[n:]
	}
}

func (ms *MemorySet) insertArea(a *MapArea) {
	i := sort.Search(len(ms.areas), func(i int) bool {
		return ms.areas[i].rng.Start >= a.rng.Start
	})
	ms.areas = append(ms.areas, nil)
	copy(ms.areas[i+1:], ms.areas[i:])
	ms.areas[i] = a
}

func (ms *MemorySet) find(start VirtPageNum) *MapArea {
	for _, a := range ms.areas {
		if a.rng.Start == start {
			return a
		}
	}
	return nil
}

// RemoveExact unmaps the areas of the given kind that exactly tile r. If r
// cuts through an area, touches an area of another kind or contains an
// unmapped hole, nothing is changed and ErrNotMapped is returned.
func (ms *MemorySet) RemoveExact(r VPNRange, kind AreaKind) error {
	if r.Empty() {
		return ErrNotMapped
	}
	var hits []int
	covered := 0
	for i, a := range ms.areas {
		if !a.rng.Overlaps(r) {
			continue
		}
		if a.kind != kind || !r.Covers(a.rng) {
			return ErrNotMapped
		}
		hits = append(hits, i)
		covered += a.rng.Len()
	}
	if covered != r.Len() {
		return ErrNotMapped
	}
	for j := len(hits) - 1; j >= 0; j-- {
		i := hits[j]
		a := ms.areas[i]
		a.unmapRange(ms.pt, ms.frames, a.rng.Start, a.rng.End)
		ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
	}
	return nil
}

// AppendTo grows the area starting at start so that it ends at newEnd
// rounded up to a page.
func (ms *MemorySet) AppendTo(start VirtPageNum, newEnd VirtAddr) error {
	a := ms.find(start)
	if a == nil {
		return ErrNoArea
	}
	if newEnd > MaxVA {
		return ErrBadRange
	}
	end := newEnd.Ceil()
	if end <= a.rng.End {
		return nil
	}
	ext := VPNRange{Start: a.rng.End, End: end}
	if ms.Overlaps(ext) {
		return ErrOverlap
	}
	for _, o := range ms.areas {
		if o != a && ext.Contains(o.rng.Start) {
			return ErrOverlap
		}
	}
	if ms.frames.Free() < ext.Len() {
		return ErrNoMemory
	}
	if err := a.mapRange(ms.pt, ms.frames, ext.Start, ext.End); err != nil {
		return err
	}
	a.rng.End = end
	return nil
}

// ShrinkTo releases the pages of the area starting at start that lie at or
// above newEnd rounded up to a page.
func (ms *MemorySet) ShrinkTo(start VirtPageNum, newEnd VirtAddr) error {
	a := ms.find(start)
	if a == nil {
		return ErrNoArea
	}
	end := newEnd.Ceil()
	if end < a.rng.Start {
		return ErrBadRange
	}
	if end >= a.rng.End {
		return nil
	}
	a.unmapRange(ms.pt, ms.frames, end, a.rng.End)
	a.rng.End = end
	return nil
}

// Clone deep copies every area and its contents into a new address space.
func (ms *MemorySet) Clone() (*MemorySet, error) {
	if ms.frames.Free() < ms.MappedPages() {
		return nil, ErrNoMemory
	}
	mem := ms.frames.Memory()
	dup := NewMemorySet(ms.frames)
	for _, a := range ms.areas {
		na := newMapArea(a.rng, a.perm, a.kind)
		if err := na.mapRange(dup.pt, dup.frames, a.rng.Start, a.rng.End); err != nil {
			dup.Recycle()
			return nil, err
		}
		for vpn, ppn := range a.frames {
			copy(mem.Page(na.frames[vpn]), mem.Page(ppn))
		}
		dup.areas = append(dup.areas, na)
	}
	return dup, nil
}

// Recycle unmaps every area and returns all frames to the allocator.
func (ms *MemorySet) Recycle() {
	for _, a := range ms.areas {
		a.unmapRange(ms.pt, ms.frames, a.rng.Start, a.rng.End)
	}
	ms.areas = nil
}

// MappedPages returns the number of pages backed by frames.
func (ms *MemorySet) MappedPages() int {
	n := 0
	for _, a := range ms.areas {
		n += a.rng.Len()
	}
	return n
}

// Areas lists the areas in address order.
func (ms *MemorySet) Areas() []AreaInfo {
	out := make([]AreaInfo, 0, len(ms.areas))
	for _, a := range ms.areas {
		out = append(out, AreaInfo{
			Start: a.rng.Start.Addr(),
			End:   a.rng.End.Addr(),
			Perm:  a.perm,
			Kind:  a.kind,
		})
	}
	return out
}
