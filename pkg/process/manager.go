package process

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"kernos/pkg/loader"
	"kernos/pkg/mm"
)

// Lifecycle errors.
var (
	ErrNoCurrent     = errors.New("no task is running")
	ErrNoChild       = errors.New("no matching child")
	ErrChildRunning  = errors.New("matching child has not exited")
	ErrBadPriority   = errors.New("priority below minimum")
	ErrAlreadyBooted = errors.New("init task already exists")
)

// WaitAny is the pid wildcard of WaitPid.
const WaitAny = -1

// ImageSource looks up program images by name.
type ImageSource interface {
	Lookup(name string) (*loader.Image, bool)
}

// Config contains the tunables of a Manager.
type Config struct {
	// StackPages is the user stack size of a new image.
	StackPages int
	// DefaultPriority is the priority of new tasks.
	DefaultPriority int
	// Limits are applied to every task.
	Limits Limits
	// Logger receives lifecycle traces; nil discards them.
	Logger *log.Logger
	// Trace enables lifecycle traces.
	Trace bool
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		StackPages:      2,
		DefaultPriority: DefaultPriority,
		Limits:          DefaultLimits(),
	}
}

// Manager owns every task and implements the lifecycle operations on behalf
// of the task running on its processor.
type Manager struct {
	cfg    Config
	log    *log.Logger
	frames *mm.FrameAllocator
	images ImageSource
	cpu    *Processor
	pids   *PidAllocator

	// mu protects the registry and the halt state.
	mu    sync.RWMutex
	tasks map[int]*Task
	init  *Task

	halted   bool
	haltCode int32
}

// NewManager creates a manager with no tasks.
func NewManager(cfg Config, frames *mm.FrameAllocator, images ImageSource, cpu *Processor) *Manager {
	if cfg.StackPages <= 0 {
		cfg.StackPages = DefaultConfig().StackPages
	}
	if cfg.DefaultPriority < MinPriority {
		cfg.DefaultPriority = DefaultPriority
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		cfg:    cfg,
		log:    logger,
		frames: frames,
		images: images,
		cpu:    cpu,
		pids:   NewPidAllocator(),
		tasks:  make(map[int]*Task),
	}
}

func (m *Manager) tracef(format string, args ...interface{}) {
	if m.cfg.Trace {
		m.log.Printf(format, args...)
	}
}

// Processor returns the processor the manager schedules on.
func (m *Manager) Processor() *Processor { return m.cpu }

// Current returns the running task or nil.
func (m *Manager) Current() *Task { return m.cpu.Current() }

// Init returns the root task.
func (m *Manager) Init() *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.init
}

// Lookup returns a live or zombie task by pid.
func (m *Manager) Lookup(pid int) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[pid]
	return t, ok
}

// Tasks returns every task in pid order.
func (m *Manager) Tasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pid < out[j].pid })
	return out
}

// CountTasks returns the number of tasks, zombies included.
func (m *Manager) CountTasks() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Halted reports whether the init task exited, and with which code.
func (m *Manager) Halted() (bool, int32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted, m.haltCode
}

func (m *Manager) register(t *Task) {
	m.mu.Lock()
	m.tasks[t.pid] = t
	m.mu.Unlock()
}

func (m *Manager) current() (*Task, error) {
	t := m.cpu.Current()
	if t == nil {
		return nil, ErrNoCurrent
	}
	return t, nil
}

// fromImage builds a ready task running img. The task is not registered.
func (m *Manager) fromImage(img *loader.Image) (*Task, error) {
	ms, layout, err := loader.Build(img, m.frames, m.cfg.StackPages)
	if err != nil {
		return nil, err
	}
	t := newTask(m.pids.Alloc(), img.Name, m.cfg.DefaultPriority, m.cfg.Limits)
	t.memory = ms
	t.trap = AppInitContext(layout.Entry, layout.UserSP)
	t.heapBottom = layout.HeapBottom
	t.brk = layout.HeapBottom
	return t, nil
}

// Boot creates the init task from the named image and dispatches it.
func (m *Manager) Boot(name string) (*Task, error) {
	m.mu.RLock()
	booted := m.init != nil
	m.mu.RUnlock()
	if booted {
		return nil, ErrAlreadyBooted
	}

	img, ok := m.images.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("boot %s: %w", name, loader.ErrImageNotFound)
	}
	t, err := m.fromImage(img)
	if err != nil {
		return nil, fmt.Errorf("boot %s: %w", name, err)
	}
	m.mu.Lock()
	m.init = t
	m.tasks[t.pid] = t
	m.mu.Unlock()

	m.cpu.Scheduler().Admit(t)
	m.cpu.Dispatch()
	m.tracef("kernel: boot %s as pid %d", name, t.pid)
	return t, nil
}

// Fork duplicates the running task. The child gets a deep copy of the
// address space and the trap context with a0 cleared, and is enqueued. The
// child's pid is returned.
func (m *Manager) Fork() (int, error) {
	parent, err := m.current()
	if err != nil {
		return 0, err
	}

	parent.mu.Lock()
	ms, err := parent.memory.Clone()
	if err != nil {
		parent.mu.Unlock()
		return 0, fmt.Errorf("fork pid %d: %w", parent.pid, err)
	}
	child := newTask(m.pids.Alloc(), parent.name, m.cfg.DefaultPriority, parent.limits)
	child.memory = ms
	child.trap = parent.trap
	child.trap.X[RegA0] = 0
	child.heapBottom = parent.heapBottom
	child.brk = parent.brk
	child.parent = parent
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	m.register(child)
	m.cpu.Scheduler().Admit(child)
	m.tracef("kernel:pid[%d] fork -> %d", parent.pid, child.pid)
	return child.pid, nil
}

// Exec replaces the image of the running task. Pid, parent, children,
// priority and counters are kept. If the image is unknown or cannot be
// loaded the task is left unchanged.
func (m *Manager) Exec(name string) error {
	t, err := m.current()
	if err != nil {
		return err
	}
	img, ok := m.images.Lookup(name)
	if !ok {
		return loader.ErrImageNotFound
	}
	ms, layout, err := loader.Build(img, m.frames, m.cfg.StackPages)
	if err != nil {
		return fmt.Errorf("exec %s: %w", name, err)
	}

	t.mu.Lock()
	old := t.memory
	t.memory = ms
	t.trap = AppInitContext(layout.Entry, layout.UserSP)
	t.heapBottom = layout.HeapBottom
	t.brk = layout.HeapBottom
	t.name = img.Name
	t.mu.Unlock()

	old.Recycle()
	m.tracef("kernel:pid[%d] exec %s", t.pid, name)
	return nil
}

// Spawn creates a child of the running task directly from the named image,
// without copying the caller's address space. No task is created when the
// image is unknown.
func (m *Manager) Spawn(name string) (int, error) {
	parent, err := m.current()
	if err != nil {
		return 0, err
	}
	img, ok := m.images.Lookup(name)
	if !ok {
		return 0, loader.ErrImageNotFound
	}
	child, err := m.fromImage(img)
	if err != nil {
		return 0, fmt.Errorf("spawn %s: %w", name, err)
	}

	parent.mu.Lock()
	child.parent = parent
	child.limits = parent.limits
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	m.register(child)
	m.cpu.Scheduler().Admit(child)
	m.tracef("kernel:pid[%d] spawn %s -> %d", parent.pid, name, child.pid)
	return child.pid, nil
}

// Exit turns the running task into a zombie carrying code, releases its user
// memory, hands its children to the init task and dispatches the next task.
// When init itself exits the manager halts.
func (m *Manager) Exit(code int32) {
	t := m.cpu.Current()
	if t == nil {
		return
	}
	initTask := m.Init()

	t.mu.Lock()
	t.exitCode = code
	orphans := t.children
	t.children = nil
	ms := t.memory
	t.mu.Unlock()

	ms.Recycle()

	if t == initTask {
		for _, c := range orphans {
			c.mu.Lock()
			c.parent = nil
			c.mu.Unlock()
		}
		m.mu.Lock()
		m.halted = true
		m.haltCode = code
		m.mu.Unlock()
	} else if initTask != nil && len(orphans) > 0 {
		for _, c := range orphans {
			c.mu.Lock()
			c.parent = initTask
			c.mu.Unlock()
		}
		initTask.mu.Lock()
		initTask.children = append(initTask.children, orphans...)
		initTask.mu.Unlock()
	}

	m.tracef("kernel:pid[%d] exit %d", t.pid, code)
	m.cpu.Schedule(StatusZombie)
}

// Yield puts the running task back in the ready queue and dispatches the
// next task, which may be the same one.
func (m *Manager) Yield() {
	m.cpu.Schedule(StatusReady)
}

// Tick preempts the running task on a timer interrupt.
func (m *Manager) Tick() {
	if m.cpu.Current() == nil {
		m.cpu.Dispatch()
		return
	}
	m.cpu.Schedule(StatusReady)
}

// WaitPid reaps one exited child of the running task. pid selects the child,
// WaitAny matches every child. The first zombie in child order is chosen;
// its exit code is written to exitCodePtr unless that is 0. If the pointer
// does not translate nothing is reaped and mm.ErrFault is returned.
func (m *Manager) WaitPid(pid int, exitCodePtr uint64) (int, error) {
	t, err := m.current()
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	found := false
	idx := -1
	for i, c := range t.children {
		if pid != WaitAny && c.pid != pid {
			continue
		}
		found = true
		if c.IsZombie() {
			idx = i
			break
		}
	}
	if !found {
		t.mu.Unlock()
		return 0, ErrNoChild
	}
	if idx < 0 {
		t.mu.Unlock()
		return 0, ErrChildRunning
	}

	child := t.children[idx]
	code := child.ExitCode()
	if exitCodePtr != 0 {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(code))
		if err := t.memory.CopyOut(mm.VirtAddr(exitCodePtr), buf[:]); err != nil {
			t.mu.Unlock()
			return 0, err
		}
	}
	t.children = append(t.children[:idx], t.children[idx+1:]...)
	t.mu.Unlock()

	m.reap(child)
	m.tracef("kernel:pid[%d] reaped %d (code %d)", t.pid, child.pid, code)
	return child.pid, nil
}

// reap destroys a zombie that its parent has already unlinked. After this
// the registry holds no reference and the pid may be reused.
func (m *Manager) reap(t *Task) {
	if !t.IsZombie() {
		panic(fmt.Sprintf("reap: pid %d is %v", t.pid, t.Status()))
	}
	if m.cpu.Current() == t || m.cpu.Scheduler().Contains(t) {
		panic(fmt.Sprintf("reap: pid %d is still scheduled", t.pid))
	}

	m.mu.Lock()
	if m.tasks[t.pid] != t {
		m.mu.Unlock()
		panic(fmt.Sprintf("reap: pid %d is not registered", t.pid))
	}
	delete(m.tasks, t.pid)
	m.mu.Unlock()

	t.mu.Lock()
	t.parent = nil
	t.mu.Unlock()
	m.pids.Dealloc(t.pid)
}

// GetPid returns the pid of the running task.
func (m *Manager) GetPid() (int, error) {
	t, err := m.current()
	if err != nil {
		return 0, err
	}
	return t.pid, nil
}

// SetPriority sets the scheduling weight of the running task.
func (m *Manager) SetPriority(prio int64) (int64, error) {
	t, err := m.current()
	if err != nil {
		return 0, err
	}
	if prio < MinPriority {
		return 0, ErrBadPriority
	}
	t.mu.Lock()
	t.priority = int(prio)
	t.mu.Unlock()
	m.tracef("kernel:pid[%d] priority %d", t.pid, prio)
	return prio, nil
}
