package mm

import (
	"errors"
	"strings"
)

// ErrFault is returned when a user address does not translate with the
// access the kernel needs.
var ErrFault = errors.New("bad user address")

// TranslateUser resolves va for a kernel access on behalf of user code. The
// page must be valid and user accessible, and writable when write is set.
func (ms *MemorySet) TranslateUser(va VirtAddr, write bool) (PhysAddr, bool) {
	if va >= MaxVA {
		return 0, false
	}
	e, ok := ms.pt.Find(va.Floor())
	if !ok || !e.User() {
		return 0, false
	}
	if write && !e.Writable() {
		return 0, false
	}
	if !write && !e.Readable() {
		return 0, false
	}
	return e.PPN.Addr() + PhysAddr(va.PageOffset()), true
}

// UserMapped reports whether all n bytes at va translate.
func (ms *MemorySet) UserMapped(va VirtAddr, n int, write bool) bool {
	if n < 0 || uint64(va)+uint64(n) > MaxVA {
		return false
	}
	if n == 0 {
		return true
	}
	last := VirtAddr(uint64(va) + uint64(n) - 1).Floor()
	for vpn := va.Floor(); vpn <= last; vpn++ {
		probe := vpn.Addr()
		if vpn == va.Floor() {
			probe = va
		}
		if _, ok := ms.TranslateUser(probe, write); !ok {
			return false
		}
	}
	return true
}

// CopyOut writes src to user memory at uva. Every page is translated on its
// own, so the destination may straddle frames that are not physically
// contiguous. Nothing is written unless the whole destination translates.
func (ms *MemorySet) CopyOut(uva VirtAddr, src []byte) error {
	if !ms.UserMapped(uva, len(src), true) {
		return ErrFault
	}
	mem := ms.frames.Memory()
	return ms.walk(uva, len(src), true, func(pa PhysAddr, off, n int) error {
		return mem.Write(pa, src[off:off+n])
	})
}

// CopyIn reads len(dst) bytes of user memory at uva.
func (ms *MemorySet) CopyIn(uva VirtAddr, dst []byte) error {
	if !ms.UserMapped(uva, len(dst), false) {
		return ErrFault
	}
	mem := ms.frames.Memory()
	return ms.walk(uva, len(dst), false, func(pa PhysAddr, off, n int) error {
		return mem.Read(pa, dst[off:off+n])
	})
}

// walk calls f once per page touched by [uva, uva+n) with the physical
// address of the chunk and its offset and length in the caller's buffer.
func (ms *MemorySet) walk(uva VirtAddr, n int, write bool, f func(pa PhysAddr, off, n int) error) error {
	off := 0
	for off < n {
		va := uva + VirtAddr(off)
		pa, ok := ms.TranslateUser(va, write)
		if !ok {
			return ErrFault
		}
		chunk := int(PageSize - va.PageOffset())
		if chunk > n-off {
			chunk = n - off
		}
		if err := f(pa, off, chunk); err != nil {
			return err
		}
		off += chunk
	}
	return nil
}

// ReadString reads a NUL terminated string of at most max bytes from user
// memory.
func (ms *MemorySet) ReadString(uva VirtAddr, max int) (string, error) {
	mem := ms.frames.Memory()
	var sb strings.Builder
	va := uva
	for sb.Len() < max {
		pa, ok := ms.TranslateUser(va, false)
		if !ok {
			return "", ErrFault
		}
		page := mem.Page(pa.Floor())[pa.PageOffset():]
		for _, c := range page {
			if c == 0 {
				return sb.String(), nil
			}
			sb.WriteByte(c)
			if sb.Len() == max {
				break
			}
		}
		va = (va.Floor() + 1).Addr()
	}
	return "", ErrBadRange
}
