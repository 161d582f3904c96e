// Package kernel wires physical memory, the program loader, the scheduler,
// the process manager and the system call dispatcher into one kernel.
package kernel

import (
	"fmt"
	"sync"

	"kernos/pkg/loader"
	"kernos/pkg/mm"
	"kernos/pkg/process"
	"kernos/pkg/syscall"
	"kernos/pkg/timer"
)

// Kernel is a single-processor kernel instance. All entry points take the
// kernel lock, so system calls never interleave.
type Kernel struct {
	mu sync.Mutex

	cfg    Config
	mem    *mm.PhysMemory
	frames *mm.FrameAllocator
	images *loader.Registry
	cpu    *process.Processor
	tasks  *process.Manager
	sys    *syscall.Dispatcher
}

// New creates a kernel that loads programs from images.
func New(cfg Config, images *loader.Registry) *Kernel {
	cfg.withDefaults()

	mem := mm.NewPhysMemory(cfg.Frames)
	frames := mm.NewFrameAllocator(mem)
	cpu := process.NewProcessor(process.NewScheduler(cfg.BigStride), cfg.Clock)
	tasks := process.NewManager(process.Config{
		StackPages:      cfg.StackPages,
		DefaultPriority: cfg.DefaultPriority,
		Limits:          process.Limits{MaxPages: cfg.MaxPages},
		Logger:          cfg.Logger,
		Trace:           cfg.Trace,
	}, frames, images, cpu)

	return &Kernel{
		cfg:    cfg,
		mem:    mem,
		frames: frames,
		images: images,
		cpu:    cpu,
		tasks:  tasks,
		sys:    syscall.NewDispatcher(tasks, cfg.Clock, cfg.Logger, cfg.Trace),
	}
}

// Boot starts the init task from the named image.
func (k *Kernel) Boot(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.tasks.Boot(name)
	if err != nil {
		return err
	}
	k.cfg.Logger.Printf("kernel: booted %s (pid %d, %d/%d frames in use)",
		name, t.Pid(), k.frames.InUse(), k.mem.Frames())
	return nil
}

// Syscall performs system call id with up to three arguments as the running
// task and returns the value placed in its a0.
func (k *Kernel) Syscall(id uint64, args ...uint64) int64 {
	var a [3]uint64
	copy(a[:], args)

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sys.Dispatch(id, a)
}

// Trap serves an ecall whose id and arguments are already in the running
// task's trap context.
func (k *Kernel) Trap() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sys.HandleTrap()
}

// Tick delivers a timer interrupt.
func (k *Kernel) Tick() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tasks.Tick()
}

// Current returns the pid of the running task.
func (k *Kernel) Current() (int, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.tasks.Current()
	if t == nil {
		return 0, false
	}
	return t.Pid(), true
}

// Halted reports whether init has exited, with its exit code.
func (k *Kernel) Halted() (bool, int32) {
	return k.tasks.Halted()
}

// WriteUser copies data into the running task's memory at addr.
func (k *Kernel) WriteUser(addr uint64, data []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.tasks.Current()
	if t == nil {
		return process.ErrNoCurrent
	}
	return t.Memory().CopyOut(mm.VirtAddr(addr), data)
}

// ReadUser copies n bytes of the running task's memory at addr.
func (k *Kernel) ReadUser(addr uint64, n int) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.tasks.Current()
	if t == nil {
		return nil, process.ErrNoCurrent
	}
	buf := make([]byte, n)
	if err := t.Memory().CopyIn(mm.VirtAddr(addr), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// StackScratch returns a user address in the running task's stack that is
// free for argument strings and result buffers, n bytes below the stack
// pointer.
func (k *Kernel) StackScratch(n int) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.tasks.Current()
	if t == nil {
		return 0, process.ErrNoCurrent
	}
	sp := t.TrapContext().X[process.RegSP]
	if uint64(n) > sp {
		return 0, fmt.Errorf("scratch of %d bytes: %w", n, mm.ErrBadRange)
	}
	return sp - uint64(n), nil
}

// TaskState is a snapshot of one task for listings.
type TaskState struct {
	Pid        int
	Parent     int // -1 for none
	Name       string
	Status     process.TaskStatus
	Priority   int
	Dispatches uint64
	Pages      int
	Brk        uint64
	Current    bool
}

// Tasks lists every task in pid order.
func (k *Kernel) Tasks() []TaskState {
	k.mu.Lock()
	defer k.mu.Unlock()

	cur := k.tasks.Current()
	var out []TaskState
	for _, t := range k.tasks.Tasks() {
		st := TaskState{
			Pid:        t.Pid(),
			Parent:     -1,
			Name:       t.Name(),
			Status:     t.Status(),
			Priority:   t.Priority(),
			Dispatches: t.Dispatches(),
			Pages:      t.Memory().MappedPages(),
			Brk:        t.Brk(),
			Current:    t == cur,
		}
		if p := t.Parent(); p != nil {
			st.Parent = p.Pid()
		}
		out = append(out, st)
	}
	return out
}

// Stats contains kernel statistics.
type Stats struct {
	Tasks       int
	Ready       int
	FramesTotal int
	FramesUsed  int
	Switches    uint64
	Now         uint64 // milliseconds
}

// Stats returns kernel statistics.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Stats{
		Tasks:       k.tasks.CountTasks(),
		Ready:       k.cpu.Scheduler().Len(),
		FramesTotal: k.mem.Frames(),
		FramesUsed:  k.frames.InUse(),
		Switches:    k.cpu.Switches(),
		Now:         timer.Millis(k.cfg.Clock),
	}
}

// Images returns the names of the loadable programs.
func (k *Kernel) Images() []string { return k.images.Names() }
