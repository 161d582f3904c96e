package process

import (
	"errors"
	"fmt"

	"kernos/pkg/mm"
)

// Memory operation errors.
var (
	ErrMisaligned = errors.New("address is not page aligned")
	ErrBadPort    = errors.New("invalid protection bits")
	ErrBadLength  = errors.New("invalid length")
	ErrBadBreak   = errors.New("program break out of range")
)

// port bits of mmap
const (
	portRead  = 1
	portWrite = 2
	portExec  = 4
	portMask  = portRead | portWrite | portExec
)

// PortPermission converts mmap protection bits to a user map permission.
// Port bit i selects R, W, X in that order, which are one bit above the
// matching permission bit.
func PortPermission(port uint64) (mm.MapPermission, error) {
	if port&^portMask != 0 || port&portMask == 0 {
		return 0, ErrBadPort
	}
	return mm.MapPermission(port<<1) | mm.PermU, nil
}

// Mmap maps length bytes at start, rounded up to whole pages, with fresh
// zeroed frames in the running task.
func (m *Manager) Mmap(start, length, port uint64) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	va := mm.VirtAddr(start)
	if !va.Aligned() {
		return ErrMisaligned
	}
	perm, err := PortPermission(port)
	if err != nil {
		return err
	}
	if length == 0 {
		return ErrBadLength
	}
	if length > uint64(mm.MaxVA) || start > uint64(mm.MaxVA)-length {
		return mm.ErrBadRange
	}
	end := va + mm.VirtAddr(length)

	t.mu.Lock()
	defer t.mu.Unlock()

	rng := mm.RangeOf(va, end)
	if err := t.limits.CheckPages(t.memory.MappedPages(), rng.Len()); err != nil {
		return err
	}
	if err := t.memory.InsertFramed(va, end, perm, mm.AreaMmap); err != nil {
		return fmt.Errorf("mmap %v: %w", va, err)
	}
	m.tracef("kernel:pid[%d] mmap %v %s", t.pid, rng, perm)
	return nil
}

// Munmap removes the mmap areas exactly covering [start, start+length)
// rounded up to whole pages.
func (m *Manager) Munmap(start, length uint64) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	va := mm.VirtAddr(start)
	if !va.Aligned() {
		return ErrMisaligned
	}
	if length == 0 {
		return ErrBadLength
	}
	if length > uint64(mm.MaxVA) || start > uint64(mm.MaxVA)-length {
		return mm.ErrBadRange
	}
	rng := mm.RangeOf(va, va+mm.VirtAddr(length))

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.memory.RemoveExact(rng, mm.AreaMmap); err != nil {
		return fmt.Errorf("munmap %v: %w", rng, err)
	}
	m.tracef("kernel:pid[%d] munmap %v", t.pid, rng)
	return nil
}

// Sbrk moves the program break of the running task by delta bytes and
// returns the old break.
func (m *Manager) Sbrk(delta int64) (uint64, error) {
	t, err := m.current()
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.brk
	if delta == 0 {
		return old, nil
	}
	next := int64(old) + delta
	if next < int64(t.heapBottom) || uint64(next) > uint64(mm.MaxVA) {
		return 0, ErrBadBreak
	}
	newBrk := mm.VirtAddr(next)
	heapStart := mm.VirtAddr(t.heapBottom).Floor()

	if delta > 0 {
		extra := int(newBrk.Ceil()) - int(mm.VirtAddr(old).Ceil())
		if extra > 0 {
			if err := t.limits.CheckPages(t.memory.MappedPages(), extra); err != nil {
				return 0, err
			}
		}
		if err := t.memory.AppendTo(heapStart, newBrk); err != nil {
			return 0, fmt.Errorf("sbrk %+d: %w", delta, err)
		}
	} else if err := t.memory.ShrinkTo(heapStart, newBrk); err != nil {
		return 0, fmt.Errorf("sbrk %+d: %w", delta, err)
	}
	t.brk = uint64(newBrk)
	return old, nil
}
