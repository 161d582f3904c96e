package process

import (
	"sync"

	"kernos/pkg/mm"
)

// MaxSyscallNum bounds the syscall ids counted per task.
const MaxSyscallNum = 500

// TaskStatus represents the state of a task in its lifecycle.
type TaskStatus uint32

const (
	// StatusReady indicates the task can be dispatched.
	StatusReady TaskStatus = iota
	// StatusRunning indicates the task owns the processor.
	StatusRunning
	// StatusBlocked indicates the task is waiting for an event.
	StatusBlocked
	// StatusZombie indicates the task exited and waits to be reaped.
	StatusZombie
)

func (s TaskStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusBlocked:
		return "blocked"
	case StatusZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Register indices in TrapContext.X.
const (
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

// SstatusSPIE enables interrupts on return to user mode.
const SstatusSPIE = 1 << 5

// TrapContext is the user register state saved on entry to the kernel.
type TrapContext struct {
	X        [32]uint64
	Sstatus  uint64
	Sepc     uint64
	KernelSP uint64
}

// AppInitContext returns the context a task starts with: pc at the entry
// point and the stack pointer at the top of its user stack.
func AppInitContext(entry, sp uint64) TrapContext {
	var cx TrapContext
	cx.Sepc = entry
	cx.Sstatus = SstatusSPIE
	cx.X[RegSP] = sp
	return cx
}

// Task is the task control block.
type Task struct {
	pid int

	// mu guards every field below. It is never held across a call into
	// the Processor.
	mu sync.Mutex

	name   string
	status TaskStatus
	trap   TrapContext
	memory *mm.MemorySet

	heapBottom uint64
	brk        uint64

	// parent does not keep the parent alive: the registry and the parent's
	// own parent do. It is cleared when the task is reparented or reaped.
	parent   *Task
	children []*Task

	exitCode int32
	priority int
	limits   Limits

	// scheduling bookkeeping, touched only by the Scheduler and Processor
	stride     uint64
	seq        uint64
	heapIndex  int
	dispatches uint64

	syscallTimes [MaxSyscallNum]uint32
	startTime    uint64
	started      bool
}

func newTask(pid int, name string, priority int, limits Limits) *Task {
	return &Task{
		pid:       pid,
		name:      name,
		status:    StatusReady,
		priority:  priority,
		limits:    limits,
		heapIndex: -1,
	}
}

// Pid returns the task id.
func (t *Task) Pid() int { return t.pid }

// Name returns the name of the image the task runs.
func (t *Task) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Status returns the lifecycle status.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// IsZombie reports whether the task has exited.
func (t *Task) IsZombie() bool { return t.Status() == StatusZombie }

// ExitCode returns the exit code; it is only meaningful for zombies.
func (t *Task) ExitCode() int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Priority returns the scheduling weight.
func (t *Task) Priority() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// Parent returns the parent task or nil for the root and orphans.
func (t *Task) Parent() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parent
}

// ChildPids returns the pids of the children in child order.
func (t *Task) ChildPids() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pids := make([]int, len(t.children))
	for i, c := range t.children {
		pids[i] = c.pid
	}
	return pids
}

// TrapContext returns a copy of the saved user registers.
func (t *Task) TrapContext() TrapContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trap
}

// UpdateTrapContext lets f modify the saved user registers.
func (t *Task) UpdateTrapContext(f func(cx *TrapContext)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f(&t.trap)
}

// Memory returns the task's address space.
func (t *Task) Memory() *mm.MemorySet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memory
}

// Brk returns the current program break.
func (t *Task) Brk() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.brk
}

// Dispatches returns how many times the task was put on the processor.
func (t *Task) Dispatches() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dispatches
}

// CountSyscall records one invocation of syscall id.
func (t *Task) CountSyscall(id uint64) {
	if id >= MaxSyscallNum {
		return
	}
	t.mu.Lock()
	t.syscallTimes[id]++
	t.mu.Unlock()
}

// SyscallTimes returns a copy of the per-syscall counters.
func (t *Task) SyscallTimes() [MaxSyscallNum]uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.syscallTimes
}

// Info is a point-in-time snapshot of a task for task_info.
type Info struct {
	Status       TaskStatus
	SyscallTimes [MaxSyscallNum]uint32
	// TimeMs is the time since the task was first dispatched.
	TimeMs uint64
}

// Info computes the snapshot at nowMs.
func (t *Task) Info(nowMs uint64) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := Info{Status: t.status, SyscallTimes: t.syscallTimes}
	if t.started && nowMs > t.startTime {
		info.TimeMs = nowMs - t.startTime
	}
	return info
}
