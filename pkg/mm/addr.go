package mm

import "fmt"

const (
	// PageSizeBits is log2 of the page size.
	PageSizeBits = 12
	// PageSize is the size of a page and of a physical frame in bytes.
	PageSize = 1 << PageSizeBits
	// VABits is the width of a user virtual address.
	VABits = 39
	// MaxVA is one past the highest valid virtual address.
	MaxVA = 1 << VABits
)

// VirtAddr is a task-relative virtual address.
type VirtAddr uint64

// PhysAddr is an address in physical memory.
type PhysAddr uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

// PhysPageNum is a physical frame number.
type PhysPageNum uint64

// Floor returns the page containing va.
func (va VirtAddr) Floor() VirtPageNum { return VirtPageNum(va >> PageSizeBits) }

// Ceil returns the first page at or above va.
func (va VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(va) + PageSize - 1) >> PageSizeBits)
}

// PageOffset returns the offset of va inside its page.
func (va VirtAddr) PageOffset() uint64 { return uint64(va) & (PageSize - 1) }

// Aligned reports whether va is page aligned.
func (va VirtAddr) Aligned() bool { return va.PageOffset() == 0 }

func (va VirtAddr) String() string { return fmt.Sprintf("va:%#x", uint64(va)) }

// Addr returns the first address of the page.
func (vpn VirtPageNum) Addr() VirtAddr { return VirtAddr(vpn << PageSizeBits) }

// Addr returns the first address of the frame.
func (ppn PhysPageNum) Addr() PhysAddr { return PhysAddr(ppn << PageSizeBits) }

// Floor returns the frame containing pa.
func (pa PhysAddr) Floor() PhysPageNum { return PhysPageNum(pa >> PageSizeBits) }

// PageOffset returns the offset of pa inside its frame.
func (pa PhysAddr) PageOffset() uint64 { return uint64(pa) & (PageSize - 1) }

func (pa PhysAddr) String() string { return fmt.Sprintf("pa:%#x", uint64(pa)) }

// VPNRange is the half-open page range [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// RangeOf returns the page range covering [start, end) after rounding start
// down and end up to page boundaries.
func RangeOf(start, end VirtAddr) VPNRange {
	return VPNRange{Start: start.Floor(), End: end.Ceil()}
}

// Len returns the number of pages in the range.
func (r VPNRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Empty reports whether the range has no pages.
func (r VPNRange) Empty() bool { return r.Len() == 0 }

// Contains reports whether vpn lies inside the range.
func (r VPNRange) Contains(vpn VirtPageNum) bool { return vpn >= r.Start && vpn < r.End }

// Overlaps reports whether the two ranges share at least one page.
func (r VPNRange) Overlaps(o VPNRange) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.Start < o.End && o.Start < r.End
}

// Covers reports whether o lies entirely inside r.
func (r VPNRange) Covers(o VPNRange) bool { return o.Start >= r.Start && o.End <= r.End }

func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start.Addr()), uint64(r.End.Addr()))
}
