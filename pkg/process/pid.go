package process

import (
	"fmt"
	"sync"
)

// PidAllocator hands out process ids. A pid is recycled only after its task
// has been reaped, so it is never reused while the task can still be seen.
type PidAllocator struct {
	mu       sync.Mutex
	next     int
	recycled []int
	live     map[int]bool
}

// NewPidAllocator creates an allocator whose first pid is 0.
func NewPidAllocator() *PidAllocator {
	return &PidAllocator{live: make(map[int]bool)}
}

// Alloc returns a free pid.
func (a *PidAllocator) Alloc() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	var pid int
	if n := len(a.recycled); n > 0 {
		pid = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else {
		pid = a.next
		a.next++
	}
	a.live[pid] = true
	return pid
}

// Dealloc releases a pid.
func (a *PidAllocator) Dealloc(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.live[pid] {
		panic(fmt.Sprintf("pid %d has not been allocated", pid))
	}
	delete(a.live, pid)
	a.recycled = append(a.recycled, pid)
}

// Live returns the number of allocated pids.
func (a *PidAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
