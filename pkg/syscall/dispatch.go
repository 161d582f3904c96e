// Package syscall decodes system calls of the running task, translates its
// pointer arguments and calls into the process manager.
//
// Every failure is reported to user code as a negative return value: -1, or
// -2 when waitpid finds a matching child that has not exited yet.
package syscall

import (
	"errors"
	"io"
	"log"

	"kernos/pkg/mm"
	"kernos/pkg/process"
	"kernos/pkg/timer"
)

type handlerFunc func(d *Dispatcher, t *process.Task, args [3]uint64) int64

var handlers = map[uint64]handlerFunc{
	SysExit:        sysExit,
	SysYield:       sysYield,
	SysSetPriority: sysSetPriority,
	SysGetTime:     sysGetTime,
	SysGetPid:      sysGetPid,
	SysSbrk:        sysSbrk,
	SysMunmap:      sysMunmap,
	SysFork:        sysFork,
	SysExec:        sysExec,
	SysMmap:        sysMmap,
	SysWaitPid:     sysWaitPid,
	SysSpawn:       sysSpawn,
	SysTaskInfo:    sysTaskInfo,
}

// Dispatcher routes system calls to their handlers.
type Dispatcher struct {
	m     *process.Manager
	clock timer.Clock
	log   *log.Logger
	trace bool
}

// NewDispatcher creates a dispatcher. A nil logger discards output.
func NewDispatcher(m *process.Manager, clock timer.Clock, logger *log.Logger, trace bool) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{m: m, clock: clock, log: logger, trace: trace}
}

// Dispatch runs system call id with args on behalf of the running task and
// returns the value for a0. The call is counted before it runs, so task_info
// sees itself.
func (d *Dispatcher) Dispatch(id uint64, args [3]uint64) int64 {
	t := d.m.Current()
	if t == nil {
		d.log.Printf("kernel: %s with no running task", Name(id))
		return -1
	}
	t.CountSyscall(id)
	if d.trace {
		d.log.Printf("kernel:pid[%d] %s", t.Pid(), Name(id))
	}

	h, ok := handlers[id]
	if !ok {
		d.log.Printf("kernel:pid[%d] unsupported syscall %d", t.Pid(), id)
		return -1
	}
	return h(d, t, args)
}

// HandleTrap serves an ecall of the running task: the id is read from a7 and
// the arguments from a0..a2, the pc is moved past the ecall and the result
// is stored in the caller's a0. It reports false when no task is running.
func (d *Dispatcher) HandleTrap() bool {
	t := d.m.Current()
	if t == nil {
		return false
	}
	var id uint64
	var args [3]uint64
	t.UpdateTrapContext(func(cx *process.TrapContext) {
		cx.Sepc += 4
		id = cx.X[process.RegA7]
		args = [3]uint64{cx.X[process.RegA0], cx.X[process.RegA1], cx.X[process.RegA2]}
	})

	ret := d.Dispatch(id, args)
	t.UpdateTrapContext(func(cx *process.TrapContext) {
		cx.X[process.RegA0] = uint64(ret)
	})
	return true
}

func sysExit(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	d.m.Exit(int32(args[0]))
	return 0
}

func sysYield(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	d.m.Yield()
	return 0
}

func sysSetPriority(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	prio, err := d.m.SetPriority(int64(args[0]))
	if err != nil {
		return -1
	}
	return prio
}

func sysGetTime(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	sec, usec := timer.Split(d.clock)
	buf, _ := TimeVal{Sec: sec, Usec: usec}.MarshalBinary()
	return copyOut(d, t, args[0], buf)
}

func sysGetPid(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	return int64(t.Pid())
}

func sysSbrk(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	old, err := d.m.Sbrk(int64(int32(args[0])))
	if err != nil {
		d.debugf(t, "sbrk: %v", err)
		return -1
	}
	return int64(old)
}

func sysMunmap(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	if err := d.m.Munmap(args[0], args[1]); err != nil {
		d.debugf(t, "munmap: %v", err)
		return -1
	}
	return 0
}

func sysFork(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	pid, err := d.m.Fork()
	if err != nil {
		d.debugf(t, "fork: %v", err)
		return -1
	}
	return int64(pid)
}

func sysExec(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	name, err := t.Memory().ReadString(mm.VirtAddr(args[0]), MaxPathLen)
	if err != nil {
		return -1
	}
	if err := d.m.Exec(name); err != nil {
		d.debugf(t, "exec %q: %v", name, err)
		return -1
	}
	return 0
}

func sysMmap(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	if err := d.m.Mmap(args[0], args[1], args[2]); err != nil {
		d.debugf(t, "mmap: %v", err)
		return -1
	}
	return 0
}

func sysWaitPid(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	pid, err := d.m.WaitPid(int(int64(args[0])), args[1])
	switch {
	case err == nil:
		return int64(pid)
	case errors.Is(err, process.ErrChildRunning):
		return -2
	default:
		return -1
	}
}

func sysSpawn(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	name, err := t.Memory().ReadString(mm.VirtAddr(args[0]), MaxPathLen)
	if err != nil {
		return -1
	}
	pid, err := d.m.Spawn(name)
	if err != nil {
		d.debugf(t, "spawn %q: %v", name, err)
		return -1
	}
	return int64(pid)
}

func sysTaskInfo(d *Dispatcher, t *process.Task, args [3]uint64) int64 {
	info := t.Info(timer.Millis(d.clock))
	buf, _ := taskInfoOf(info).MarshalBinary()
	return copyOut(d, t, args[0], buf)
}

func copyOut(d *Dispatcher, t *process.Task, ptr uint64, buf []byte) int64 {
	if err := t.Memory().CopyOut(mm.VirtAddr(ptr), buf); err != nil {
		d.debugf(t, "copy to %#x: %v", ptr, err)
		return -1
	}
	return 0
}

func (d *Dispatcher) debugf(t *process.Task, format string, args ...interface{}) {
	if d.trace {
		d.log.Printf("kernel:pid[%d] "+format, append([]interface{}{t.Pid()}, args...)...)
	}
}
