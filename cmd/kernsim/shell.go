package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/google/shlex"

	"kernos/pkg/kernel"
	"kernos/pkg/syscall"
)

var errQuit = errors.New("quit")

// shell runs commands as the task currently on the processor.
type shell struct {
	k   *kernel.Kernel
	out io.Writer
}

type command struct {
	args  string
	help  string
	nargs int
	run   func(s *shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"fork":    {"", "duplicate the running task", 0, (*shell).fork},
		"yield":   {"", "give up the processor", 0, simple(syscall.SysYield)},
		"exit":    {"CODE", "terminate the running task", 1, (*shell).exit},
		"getpid":  {"", "print the pid of the running task", 0, simple(syscall.SysGetPid)},
		"exec":    {"NAME", "replace the running program", 1, (*shell).exec},
		"spawn":   {"NAME", "start NAME as a new child", 1, (*shell).spawn},
		"waitpid": {"PID", "reap an exited child (-1 for any)", 1, (*shell).waitpid},
		"mmap":    {"START LEN PORT", "map anonymous memory (port: 1=R 2=W 4=X)", 3, (*shell).mmap},
		"munmap":  {"START LEN", "unmap anonymous memory", 2, (*shell).munmap},
		"sbrk":    {"DELTA", "move the program break", 1, (*shell).sbrk},
		"prio":    {"N", "set the priority of the running task", 1, (*shell).prio},
		"time":    {"", "print the time", 0, (*shell).time},
		"info":    {"", "print task_info of the running task", 0, (*shell).info},
		"tick":    {"", "deliver a timer interrupt", 0, (*shell).tick},
		"ps":      {"", "list tasks", 0, (*shell).ps},
		"help":    {"", "list commands", 0, (*shell).help},
		"quit":    {"", "leave kernsim", 0, func(*shell, []string) error { return errQuit }},
	}
}

// Run tokenizes line and executes it. Blank lines and # comments do nothing.
func (s *shell) Run(line string) error {
	fields, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	if len(fields)-1 != cmd.nargs {
		return fmt.Errorf("usage: %s %s", fields[0], cmd.args)
	}
	if halted, _ := s.k.Halted(); halted && fields[0] != "ps" && fields[0] != "help" && fields[0] != "quit" {
		return errors.New("kernel halted")
	}
	return cmd.run(s, fields[1:])
}

func (s *shell) pid() int {
	pid, ok := s.k.Current()
	if !ok {
		return -1
	}
	return pid
}

func (s *shell) report(pid int, id uint64, ret int64) {
	fmt.Fprintf(s.out, "[%d] %s = %d\n", pid, syscall.Name(id), ret)
}

// call issues a system call and prints its result.
func (s *shell) call(id uint64, args ...uint64) int64 {
	pid := s.pid()
	ret := s.k.Syscall(id, args...)
	s.report(pid, id, ret)
	return ret
}

func simple(id uint64) func(*shell, []string) error {
	return func(s *shell, _ []string) error {
		s.call(id)
		return nil
	}
}

func (s *shell) fork(_ []string) error {
	s.call(syscall.SysFork)
	return nil
}

func (s *shell) exit(args []string) error {
	code, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return err
	}
	s.call(syscall.SysExit, uint64(code))
	if halted, code := s.k.Halted(); halted {
		fmt.Fprintf(s.out, "init exited with code %d, kernel halted\n", code)
	}
	return nil
}

// userString places name and a NUL on the running task's stack and returns
// its user address.
func (s *shell) userString(name string) (uint64, error) {
	n := (len(name) + 1 + 7) &^ 7
	addr, err := s.k.StackScratch(n)
	if err != nil {
		return 0, err
	}
	if err := s.k.WriteUser(addr, append([]byte(name), 0)); err != nil {
		return 0, err
	}
	return addr, nil
}

func (s *shell) exec(args []string) error {
	addr, err := s.userString(args[0])
	if err != nil {
		return err
	}
	s.call(syscall.SysExec, addr)
	return nil
}

func (s *shell) spawn(args []string) error {
	addr, err := s.userString(args[0])
	if err != nil {
		return err
	}
	s.call(syscall.SysSpawn, addr)
	return nil
}

func (s *shell) waitpid(args []string) error {
	pid, err := strconv.ParseInt(args[0], 0, 64)
	if err != nil {
		return err
	}
	addr, err := s.k.StackScratch(8)
	if err != nil {
		return err
	}
	if ret := s.call(syscall.SysWaitPid, uint64(pid), addr); ret >= 0 {
		buf, err := s.k.ReadUser(addr, 4)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "    child %d exited with code %d\n", ret, int32(binary.LittleEndian.Uint32(buf)))
	}
	return nil
}

func parseUints(args []string) ([]uint64, error) {
	out := make([]uint64, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *shell) mmap(args []string) error {
	v, err := parseUints(args)
	if err != nil {
		return err
	}
	s.call(syscall.SysMmap, v...)
	return nil
}

func (s *shell) munmap(args []string) error {
	v, err := parseUints(args)
	if err != nil {
		return err
	}
	s.call(syscall.SysMunmap, v...)
	return nil
}

func (s *shell) sbrk(args []string) error {
	delta, err := strconv.ParseInt(args[0], 0, 32)
	if err != nil {
		return err
	}
	pid := s.pid()
	ret := s.k.Syscall(syscall.SysSbrk, uint64(uint32(int32(delta))))
	fmt.Fprintf(s.out, "[%d] %s = %#x\n", pid, syscall.Name(syscall.SysSbrk), ret)
	return nil
}

func (s *shell) prio(args []string) error {
	n, err := strconv.ParseInt(args[0], 0, 64)
	if err != nil {
		return err
	}
	s.call(syscall.SysSetPriority, uint64(n))
	return nil
}

func (s *shell) time(_ []string) error {
	addr, err := s.k.StackScratch(syscall.TimeValSize)
	if err != nil {
		return err
	}
	if s.call(syscall.SysGetTime, addr, 0) != 0 {
		return nil
	}
	buf, err := s.k.ReadUser(addr, syscall.TimeValSize)
	if err != nil {
		return err
	}
	var tv syscall.TimeVal
	if err := tv.UnmarshalBinary(buf); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "    %d.%06d s\n", tv.Sec, tv.Usec)
	return nil
}

func (s *shell) info(_ []string) error {
	addr, err := s.k.StackScratch(syscall.TaskInfoSize)
	if err != nil {
		return err
	}
	if s.call(syscall.SysTaskInfo, addr) != 0 {
		return nil
	}
	buf, err := s.k.ReadUser(addr, syscall.TaskInfoSize)
	if err != nil {
		return err
	}
	var ti syscall.TaskInfo
	if err := ti.UnmarshalBinary(buf); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "    status %s, running for %d ms\n", ti.Status, ti.Time)
	for id, n := range ti.SyscallTimes {
		if n > 0 {
			fmt.Fprintf(s.out, "    %-18s %d\n", syscall.Name(uint64(id)), n)
		}
	}
	return nil
}

func (s *shell) tick(_ []string) error {
	from := s.pid()
	s.k.Tick()
	fmt.Fprintf(s.out, "tick: %d -> %d\n", from, s.pid())
	return nil
}

func (s *shell) ps(_ []string) error {
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tPID\tPPID\tNAME\tSTATUS\tPRIO\tRUNS\tPAGES\tBRK")
	for _, t := range s.k.Tasks() {
		mark := ""
		if t.Current {
			mark = "*"
		}
		ppid := "-"
		if t.Parent >= 0 {
			ppid = strconv.Itoa(t.Parent)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%#x\n",
			mark, t.Pid, ppid, t.Name, t.Status, t.Priority, t.Dispatches, t.Pages, t.Brk)
	}
	st := s.k.Stats()
	fmt.Fprintf(w, "\n%d tasks, %d ready, %d/%d frames, %d switches\n",
		st.Tasks, st.Ready, st.FramesUsed, st.FramesTotal, st.Switches)
	return w.Flush()
}

func (s *shell) help(_ []string) error {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, n := range names {
		c := commands[n]
		fmt.Fprintf(w, "%s\t%s\t%s\n", n, c.args, c.help)
	}
	fmt.Fprintf(w, "\nimages: %s\n", strings.Join(s.k.Images(), ", "))
	return w.Flush()
}
