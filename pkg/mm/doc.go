/*
Package mm implements per-task virtual address spaces for the kernos kernel.

An address space (MemorySet) is a page table plus a set of non-overlapping
map areas. Every area is framed: each of its virtual pages is backed by a
dedicated, zero-initialized physical frame taken from a FrameAllocator.

# Addresses

Virtual addresses are 39 bits wide and pages are 4 KiB:

	va := mm.VirtAddr(0x1000_0010)
	va.Floor()      // VirtPageNum 0x10000
	va.PageOffset() // 0x10
	va.Aligned()    // false

# Mapping

	frames := mm.NewFrameAllocator(mm.NewPhysMemory(1024))
	ms := mm.NewMemorySet(frames)
	err := ms.InsertFramed(0x1000_0000, 0x1000_2000, mm.PermR|mm.PermW|mm.PermU, mm.AreaMmap)

# User memory

Kernel code never dereferences a user address directly. CopyOut and CopyIn
translate the destination one page at a time, so a structure that straddles
two pages with unrelated physical frames is handled correctly:

	if err := ms.CopyOut(uva, buf); err != nil {
		return -1
	}
*/
package mm
