package mm

import (
	"fmt"
	"sync/atomic"
)

// PTEFlags are the permission and validity bits of a page table entry.
type PTEFlags uint8

const (
	FlagV PTEFlags = 1 << iota
	FlagR
	FlagW
	FlagX
	FlagU
)

func (f PTEFlags) String() string {
	b := []byte("-----")
	for i, c := range "vrwxu" {
		if f&(1<<i) != 0 {
			b[i] = byte(c)
		}
	}
	return string(b)
}

// PageTableEntry maps one virtual page to one physical frame.
type PageTableEntry struct {
	PPN   PhysPageNum
	Flags PTEFlags
}

// Valid reports whether the entry is in use.
func (e PageTableEntry) Valid() bool { return e.Flags&FlagV != 0 }

// Readable reports whether the R bit is set.
func (e PageTableEntry) Readable() bool { return e.Flags&FlagR != 0 }

// Writable reports whether the W bit is set.
func (e PageTableEntry) Writable() bool { return e.Flags&FlagW != 0 }

// Executable reports whether the X bit is set.
func (e PageTableEntry) Executable() bool { return e.Flags&FlagX != 0 }

// User reports whether the page is accessible from user mode.
func (e PageTableEntry) User() bool { return e.Flags&FlagU != 0 }

var nextToken uint64

// PageTable is a virtual to physical translation structure for one address
// space. Entries are keyed by virtual page number.
type PageTable struct {
	token   uint64
	entries map[VirtPageNum]PageTableEntry
}

// NewPageTable creates an empty page table with a fresh token.
func NewPageTable() *PageTable {
	return &PageTable{
		token:   atomic.AddUint64(&nextToken, 1),
		entries: make(map[VirtPageNum]PageTableEntry),
	}
}

// Token identifies the page table, as the value a satp-like register would
// hold while the owning task runs.
func (pt *PageTable) Token() uint64 { return pt.token }

// Map installs a translation. Mapping an already valid page is a kernel bug.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) {
	if vpn.Addr() >= MaxVA {
		panic(fmt.Sprintf("map: %v beyond address space", vpn.Addr()))
	}
	if e, ok := pt.entries[vpn]; ok && e.Valid() {
		panic(fmt.Sprintf("map: %v is mapped before mapping", vpn.Addr()))
	}
	pt.entries[vpn] = PageTableEntry{PPN: ppn, Flags: flags | FlagV}
}

// Unmap removes a translation. Unmapping an invalid page is a kernel bug.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	if e, ok := pt.entries[vpn]; !ok || !e.Valid() {
		panic(fmt.Sprintf("unmap: %v is invalid before unmapping", vpn.Addr()))
	}
	delete(pt.entries, vpn)
}

// Find returns the entry for vpn.
func (pt *PageTable) Find(vpn VirtPageNum) (PageTableEntry, bool) {
	e, ok := pt.entries[vpn]
	if !ok || !e.Valid() {
		return PageTableEntry{}, false
	}
	return e, true
}

// Translate resolves va to a physical address.
func (pt *PageTable) Translate(va VirtAddr) (PhysAddr, bool) {
	e, ok := pt.Find(va.Floor())
	if !ok {
		return 0, false
	}
	return e.PPN.Addr() + PhysAddr(va.PageOffset()), true
}

// Len returns the number of valid entries.
func (pt *PageTable) Len() int { return len(pt.entries) }
